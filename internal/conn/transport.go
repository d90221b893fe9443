package conn

import (
	"context"
	"errors"
	"fmt"
)

// Close codes with meaning to the manager. Any code other than CloseNormal
// triggers automatic reconnection.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Socket is one live text-frame connection.
type Socket interface {
	// Read blocks until the next text frame arrives. A closed connection
	// returns an error; a *CloseError carries the peer's close code.
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
	Close(code int, reason string) error
}

// Transport opens sockets to an endpoint.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Socket, error)
}

// CloseError reports a close handshake with the given code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from err. Errors without one count as
// an abnormal closure.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}
