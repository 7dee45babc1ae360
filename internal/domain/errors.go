package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleUpdate rejects a quote whose sequence number does not advance
	// the stored snapshot. Dropped and logged, never fatal.
	ErrStaleUpdate = errors.New("stale market data update")

	// ErrDegradedModel suppresses signal emission while paired observations
	// are missing or stale. Self-healing once fresh data arrives.
	ErrDegradedModel = errors.New("model degraded")

	// ErrRiskLimit is returned by the pre-trade check; the opportunity is
	// discarded and recorded.
	ErrRiskLimit = errors.New("risk limit exceeded")

	ErrUnknownOrder       = errors.New("order not found")
	ErrDuplicateOrder     = errors.New("order already exists")
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrUnknownInstrument  = errors.New("instrument not registered")
	ErrUnknownGroup       = errors.New("group not registered")
	ErrExpiredOpportunity = errors.New("opportunity expired")
)

// TransportError wraps a transient network failure on a venue call. The
// venue-side outcome of the wrapped call is unknown; callers must reconcile
// before retrying.
type TransportError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// VenueRejection is an explicit venue-side rejection: the order is terminal
// and the same client order id is never retried. Code carries the venue's
// numeric error code when it supplies one.
type VenueRejection struct {
	Venue         string
	ClientOrderID string
	Code          int
	Reason        string
}

// Error implements error.
func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue rejected order %s: %s (code %d)", e.ClientOrderID, e.Reason, e.Code)
}

// IsVenueRejection reports whether err is (or wraps) a VenueRejection.
func IsVenueRejection(err error) bool {
	var vr *VenueRejection
	return errors.As(err, &vr)
}
