package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/snowdenHM/algo-trading/internal/app"
	"github.com/snowdenHM/algo-trading/internal/config"
	"github.com/snowdenHM/algo-trading/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "", "config file path (defaults to $"+config.EnvConfigPath+" or configs/config.yaml)")
	flag.Parse()

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(config.EnvConfigPath))
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("opening log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, broker=%s)", cfg.App.Env, backendName(cfg))

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("building app failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func backendName(cfg *config.Config) string {
	if cfg.Broker.Live() {
		return "live"
	}
	return "sim"
}

// setupLogOutput tees log output into the configured file while keeping
// stdout. An empty path leaves everything on stdout.
func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
