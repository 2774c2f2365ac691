// Package child wraps a spawned OS process and reports its lifecycle.
package child

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/ipc"
	"github.com/tessro/tinymon/internal/logging"
)

// ErrNilSink is returned when spawning without an observer.
var ErrNilSink = errors.New("child: nil sink")

// Sink receives a handle's observations. Calls may come from any goroutine.
// For a given handle, exactly one of ChildExit or ChildFault is delivered,
// and no ChildMessage follows it.
type Sink interface {
	ChildMessage(h *Handle, msg ipc.Message)
	ChildExit(h *Handle, code int, signal string)
	ChildFault(h *Handle, err error)
}

// Spawner starts processes for a LaunchSpec.
type Spawner interface {
	// Spawn launches the process and returns immediately. Launch failures
	// are reported to sink as a fault, not returned. Nothing may be
	// delivered to sink before Spawn returns.
	Spawn(spec *config.LaunchSpec, generation int, sink Sink) (*Handle, error)
}

// Process is the signal target behind a handle.
type Process interface {
	Signal(sig unix.Signal) error
}

// Handle is one spawned child process.
type Handle struct {
	pid        int
	generation int
	spec       *config.LaunchSpec
	proc       Process
	log        *slog.Logger

	// mu serializes delivery so observations reach the sink in order.
	mu       sync.Mutex
	sink     Sink
	detached atomic.Bool
	finished atomic.Bool
	// sent holds the strongest signal sent so far, 0 if none.
	sent atomic.Int32
}

// NewHandle creates a handle for a process that has already been started.
// proc may be nil when the launch failed.
func NewHandle(spec *config.LaunchSpec, generation, pid int, proc Process, sink Sink, log *slog.Logger) *Handle {
	if log == nil {
		log = logging.Discard()
	}
	return &Handle{
		pid:        pid,
		generation: generation,
		spec:       spec,
		proc:       proc,
		sink:       sink,
		log:        log.With("generation", generation),
	}
}

// Pid returns the OS process id, or 0 if the launch failed.
func (h *Handle) Pid() int { return h.pid }

// Generation returns the spawn sequence number of this handle.
func (h *Handle) Generation() int { return h.generation }

// Spec returns the launch spec the handle was spawned from.
func (h *Handle) Spec() *config.LaunchSpec { return h.spec }

// Killed reports whether Kill has been called. Once true it stays true.
func (h *Handle) Killed() bool { return h.sent.Load() != 0 }

// Finished reports whether an exit or fault has been reported.
func (h *Handle) Finished() bool { return h.finished.Load() }

// Kill sends sig to the process. It does nothing and returns false if the
// handle was already killed, except that SIGKILL may still follow a gentler
// signal once. It returns whether the signal was delivered; a delivery
// failure is logged only.
func (h *Handle) Kill(sig unix.Signal) bool {
	for {
		prev := h.sent.Load()
		if prev != 0 && (unix.Signal(prev) == unix.SIGKILL || sig != unix.SIGKILL) {
			return false
		}
		if h.sent.CompareAndSwap(prev, int32(sig)) {
			break
		}
	}

	name := unix.SignalName(sig)
	h.log.Info("KILL "+h.label()+" with signal "+name, logging.KindKey, logging.KindAction)

	if h.proc == nil || h.finished.Load() {
		return false
	}
	if err := h.proc.Signal(sig); err != nil {
		h.log.Error("could not kill child "+h.label(), logging.KindKey, logging.KindError, "signal", name, "error", err)
		return false
	}
	return true
}

// Detach stops delivery of any further observations. A delivery already
// in progress is not interrupted.
func (h *Handle) Detach() {
	h.detached.Store(true)
}

// ReportMessage delivers an IPC message unless the handle has finished or
// been detached.
func (h *Handle) ReportMessage(msg ipc.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink == nil || h.detached.Load() || h.finished.Load() {
		return
	}
	h.sink.ChildMessage(h, msg)
}

// ReportExit delivers the process exit. Only the first terminal report
// for a handle is delivered.
func (h *Handle) ReportExit(code int, signal string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished.CompareAndSwap(false, true) || h.sink == nil || h.detached.Load() {
		return
	}
	h.sink.ChildExit(h, code, signal)
}

// ReportFault delivers a launch or runtime failure. Only the first terminal
// report for a handle is delivered.
func (h *Handle) ReportFault(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished.CompareAndSwap(false, true) || h.sink == nil || h.detached.Load() {
		return
	}
	h.sink.ChildFault(h, err)
}

func (h *Handle) label() string {
	name := ""
	if h.spec != nil {
		name = h.spec.Name()
	}
	return fmt.Sprintf("%d-'%s'", h.pid, name)
}
