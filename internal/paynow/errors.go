package paynow

import "errors"

var (
	// ErrTransport is returned when the gateway could not be reached or did
	// not answer in time. The remote transaction may or may not exist.
	ErrTransport = errors.New("paynow transport error")

	// ErrProtocol is returned when the gateway answered with a body that
	// could not be interpreted.
	ErrProtocol = errors.New("paynow protocol error")

	// ErrNotConfigured is returned when integration credentials are missing.
	ErrNotConfigured = errors.New("paynow integration not configured")
)
