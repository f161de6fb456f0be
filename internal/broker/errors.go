package broker

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by both backends. Callers classify failures with
// errors.Is against these sentinels; the concrete cause stays wrapped.
var (
	// ErrConnection covers unreachable endpoints and auth failures.
	ErrConnection = errors.New("broker connection failure")

	// ErrOrderRejected covers invalid volume, insufficient margin and
	// closed markets. The tick continues without the position.
	ErrOrderRejected = errors.New("order rejected")

	// ErrUnknownSymbol is returned by Quote for unsupported symbols.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrPositionNotFound is returned when a ticket was already closed
	// elsewhere, e.g. a broker-side stop-loss fill racing a close request.
	ErrPositionNotFound = errors.New("position not found")
)

// ConnectionFailed wraps cause under ErrConnection.
func ConnectionFailed(cause error) error {
	return fmt.Errorf("%w: %v", ErrConnection, cause)
}

// OrderRejected wraps a broker rejection reason under ErrOrderRejected.
func OrderRejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrOrderRejected, reason)
}

// UnknownSymbol wraps symbol under ErrUnknownSymbol.
func UnknownSymbol(symbol string) error {
	return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// PositionNotFound wraps ticket under ErrPositionNotFound.
func PositionNotFound(ticket string) error {
	return fmt.Errorf("%w: ticket %s", ErrPositionNotFound, ticket)
}
