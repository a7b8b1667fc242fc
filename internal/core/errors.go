package core

import "errors"

var (
	// ErrDetached is returned by writes to a connection no longer in its registry.
	ErrDetached = errors.New("connection detached from registry")
	// ErrHandshakeFailed wraps every reason a session stops before registration.
	ErrHandshakeFailed = errors.New("handshake failed")
)
