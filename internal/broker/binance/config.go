package binance

import (
	"strings"
	"time"
)

// Config controls the live broker client.
type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	// ConsecutiveFailures trips the connection breaker; TripTimeout is how
	// long calls are short-circuited before a probe is allowed through.
	ConsecutiveFailures int
	TripTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	c.RESTBaseURL = strings.TrimSpace(c.RESTBaseURL)
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = 3
	}
	if c.TripTimeout <= 0 {
		c.TripTimeout = 30 * time.Second
	}
	return c
}
