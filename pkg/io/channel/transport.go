package channel

import (
	"context"
	"fmt"
)

// Close codes the channel distinguishes.
const (
	CloseNormal           = 1000
	CloseAbnormal         = 1006
	CloseAuthFailed       = 4001
	ClosePermissionDenied = 4003
)

// IsTerminal reports whether a close code forbids reconnecting.
func IsTerminal(code int) bool {
	switch code {
	case CloseNormal, CloseAuthFailed, ClosePermissionDenied:
		return true
	}
	return false
}

// IsAuthFailure reports whether the server rejected credentials or access.
func IsAuthFailure(code int) bool {
	return code == CloseAuthFailed || code == ClosePermissionDenied
}

// CloseError is returned by Conn.ReadMessage when the peer closed the
// connection with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// Conn is one established duplex text connection.
type Conn interface {
	// ReadMessage blocks for the next frame. A *CloseError signals a close
	// frame; any other error is a transport failure.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens connections. Cancelling ctx aborts an in-flight dial.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
