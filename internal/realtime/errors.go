package realtime

import "errors"

var (
	// ErrAuth rejects a connection whose credential does not verify. Not retriable without a new credential.
	ErrAuth = errors.New("realtime: authentication failed")
	// ErrCapacity rejects a connection while the registry is full. Clients should back off and retry.
	ErrCapacity = errors.New("realtime: registry at capacity")
	// ErrTooManyAttempts rejects a user that keeps reconnecting without a successful registration.
	ErrTooManyAttempts = errors.New("realtime: too many connection attempts")
	// ErrTransport wraps a failed socket write or ping; the connection is evicted.
	ErrTransport = errors.New("realtime: transport failure")
	// ErrClosed is returned once the registry has shut down.
	ErrClosed = errors.New("realtime: registry closed")
)

// Close codes sent to clients in the close frame. 4000-4999 is the private range.
const (
	CloseNormal           = 1000
	CloseSuperseded       = 4000
	CloseAuthFailed       = 4001
	CloseCapacity         = 4002
	CloseThrottled        = 4003
	CloseIdleTimeout      = 4004
	CloseHeartbeatTimeout = 4005
	CloseWriteFailed      = 4006
	CloseShutdown         = 4007
)
