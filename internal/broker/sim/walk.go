package sim

import (
	"hash/fnv"
	"math/rand"
)

// walk is a bounded random walk over a symbol's mid price. Each symbol gets
// its own generator seeded from the broker seed plus the symbol name, so a
// fixed seed reproduces the exact same quote sequence per symbol no matter
// how other symbols are polled.
type walk struct {
	rng *rand.Rand

	mid     float64
	pip     float64
	floor   float64
	ceil    float64
	maxStep float64 // in pips

	minSpread float64 // in pips
	maxSpread float64 // in pips

	bid float64
	ask float64
}

func newWalk(seed int64, symbol string, spec SymbolSpec, band SpreadBand) *walk {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	w := &walk{
		rng:       rand.New(rand.NewSource(seed ^ int64(h.Sum64()))),
		mid:       spec.Mid,
		pip:       spec.PipSize,
		floor:     spec.Mid * (1 - spec.DriftBound),
		ceil:      spec.Mid * (1 + spec.DriftBound),
		maxStep:   band.MaxStepPips,
		minSpread: band.MinSpreadPips,
		maxSpread: band.MaxSpreadPips,
	}
	w.quoteAt(w.mid)
	return w
}

// advance moves the mid price one step and recomputes bid/ask.
func (w *walk) advance() (bid, ask float64) {
	step := (w.rng.Float64()*2 - 1) * w.maxStep * w.pip
	next := w.mid + step
	// reflect at the drift bounds so the walk stays in range
	if next > w.ceil {
		next = w.ceil - (next - w.ceil)
	}
	if next < w.floor {
		next = w.floor + (w.floor - next)
	}
	w.mid = next
	w.quoteAt(next)
	return w.bid, w.ask
}

// current returns the last computed quote without advancing the walk.
func (w *walk) current() (bid, ask float64) {
	return w.bid, w.ask
}

func (w *walk) quoteAt(mid float64) {
	spread := (w.minSpread + w.rng.Float64()*(w.maxSpread-w.minSpread)) * w.pip
	w.bid = mid - spread/2
	w.ask = mid + spread/2
}
