package ipc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// EnvFD names the environment variable holding the child's IPC descriptor.
const EnvFD = "TINYMON_IPC_FD"

// ChildFD is the descriptor number tinymon passes the IPC pipe on.
const ChildFD = 3

var (
	// ErrUnknownMessage is returned when encoding a message type ipc does not know.
	ErrUnknownMessage = errors.New("ipc: unknown message type")

	// ErrInvalidFD is returned when TINYMON_IPC_FD is not a descriptor number.
	ErrInvalidFD = errors.New("ipc: invalid descriptor")
)

// Peer sends notifications from a supervised child to its supervisor.
type Peer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPeer returns a peer writing to w.
func NewPeer(w io.Writer) *Peer {
	return &Peer{w: w}
}

// Connect returns a peer for the descriptor named by TINYMON_IPC_FD.
// It returns nil and no error when the process is not supervised.
func Connect() (*Peer, error) {
	v := os.Getenv(EnvFD)
	if v == "" {
		return nil, nil
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFD, v)
	}
	return NewPeer(os.NewFile(uintptr(fd), "tinymon-ipc")), nil
}

// Send writes one message. A nil peer drops it.
func (p *Peer) Send(m Message) error {
	if p == nil {
		return nil
	}
	line, err := Encode(m)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.w.Write(line)
	return err
}

// AnnounceReady tells the supervisor the workload is serving.
func (p *Peer) AnnounceReady() error {
	return p.Send(Ready{})
}

// AnnounceExit tells the supervisor the process is about to exit with code.
// It sends the bare exit tag followed by the structured form.
func (p *Peer) AnnounceExit(code int) error {
	if err := p.Send(Exit{}); err != nil {
		return err
	}
	return p.Send(Exit{Code: strconv.Itoa(code), HasCode: true})
}

var (
	defaultOnce sync.Once
	defaultPeer *Peer
	defaultErr  error
)

func peer() (*Peer, error) {
	defaultOnce.Do(func() {
		defaultPeer, defaultErr = Connect()
	})
	return defaultPeer, defaultErr
}

// AnnounceReady notifies the supervisor through the inherited channel.
// It does nothing when the process is not supervised.
func AnnounceReady() error {
	p, err := peer()
	if err != nil {
		return err
	}
	return p.AnnounceReady()
}

// AnnounceExit notifies the supervisor of a voluntary exit with code.
// It does nothing when the process is not supervised.
func AnnounceExit(code int) error {
	p, err := peer()
	if err != nil {
		return err
	}
	return p.AnnounceExit(code)
}
