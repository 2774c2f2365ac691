package daemon

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tessro/tinymon/internal/supervisor"
)

var (
	// ErrNotConnected is returned when a client sends without a connection.
	ErrNotConnected = errors.New("daemon: not connected")

	// ErrNotRunning means no live supervisor owns the PID file.
	ErrNotRunning = errors.New("daemon: supervisor not running")

	// ErrAlreadyRunning means another live supervisor owns the PID file.
	ErrAlreadyRunning = errors.New("daemon: supervisor already running")

	// ErrUnknownMessage is returned for a request type the server does not handle.
	ErrUnknownMessage = errors.New("daemon: unknown message type")
)

// remoteSentinels are the errors a ServerError can stand for after
// crossing the socket as text.
var remoteSentinels = []error{
	supervisor.ErrStopped,
	ErrUnknownMessage,
}

// ServerError is a failed response from the control server.
type ServerError struct {
	Type    MessageType
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// Is reports whether the server-side error was one of the known sentinels,
// so errors.Is(err, supervisor.ErrStopped) works on the client.
func (e *ServerError) Is(target error) bool {
	for _, s := range remoteSentinels {
		if target == s && strings.HasPrefix(e.Message, s.Error()) {
			return true
		}
	}
	return false
}

func newServerError(typ MessageType, resp *Response) *ServerError {
	return &ServerError{Type: typ, Message: resp.Error}
}
