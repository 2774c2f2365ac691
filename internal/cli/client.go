package cli

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/tessro/tinymon/internal/daemon"
)

// ErrNotRunning indicates no supervisor is listening on the control socket.
var ErrNotRunning = errors.New("tinymon is not running")

// socketPath is the control socket path (can be overridden for testing).
var socketPath string

// SetSocketPath overrides the default socket path.
// This is primarily useful for testing.
func SetSocketPath(path string) {
	socketPath = path
}

func getSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	return daemon.DefaultSocketPath()
}

// NewClient creates a control client with the configured socket path.
func NewClient() *daemon.Client {
	return daemon.NewClient(getSocketPath())
}

// ConnectClient creates and connects a control client.
// Returns ErrNotRunning if no supervisor is listening.
func ConnectClient() (*daemon.Client, error) {
	client := NewClient()
	if err := client.Connect(); err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && isNotListening(opErr) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("connect to supervisor: %w", err)
	}
	return client, nil
}

func isNotListening(err *net.OpError) bool {
	return os.IsNotExist(err.Err) ||
		errors.Is(err.Err, syscall.ECONNREFUSED) ||
		errors.Is(err.Err, syscall.ENOENT)
}

// IsRunning checks if a supervisor is listening without keeping a connection.
func IsRunning() bool {
	client := NewClient()
	if err := client.Connect(); err != nil {
		return false
	}
	client.Close()
	return true
}
