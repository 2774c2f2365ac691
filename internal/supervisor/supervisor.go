// Package supervisor runs one child process and restarts it on demand.
//
// A Supervisor owns at most one current child. Restart sends SIGTERM and
// spawns a replacement as soon as the old child's exit is observed, or when
// the restart delay expires, whichever comes first. Observations from
// superseded children never affect the current generation.
//
// Basic usage:
//
//	sup, err := supervisor.Create(config.Config{Script: "server.sh"})
//	if err != nil {
//	    return err
//	}
//	defer sup.Quit()
//	sup.Restart()
package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/child"
	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/event"
	"github.com/tessro/tinymon/internal/ipc"
	"github.com/tessro/tinymon/internal/logging"
)

// Counters tallies child lifecycle transitions.
type Counters struct {
	Spawns   int
	Restarts int
	Exits    int
	Faults   int
}

// Supervisor supervises a single child process.
//
// All methods are safe for concurrent use. Lifecycle handlers are
// serialized by mu; events and the completion callback are delivered from
// a separate goroutine, so listeners may call Restart or Quit.
type Supervisor struct {
	log       *slog.Logger
	spawner   child.Spawner
	usage     io.Writer
	delay     time.Duration
	afterFunc func(time.Duration, func()) Timer

	queue  *event.Queue
	events *event.AsyncEmitter[Event]
	done   chan struct{}

	mu sync.Mutex
	// +checklocks:mu
	spec *config.LaunchSpec
	// +checklocks:mu
	current *child.Handle
	// +checklocks:mu
	running bool
	// +checklocks:mu
	restartPending bool
	// +checklocks:mu
	timer Timer
	// +checklocks:mu
	timerSeq uint64
	// +checklocks:mu
	generation int
	// +checklocks:mu
	started bool
	// +checklocks:mu
	stopped bool
	// +checklocks:mu
	doneCalled bool
	// +checklocks:mu
	counters Counters
	// +checklocks:mu
	spawnedAt time.Time
	// +checklocks:mu
	lastExit *exitInfo
}

type exitInfo struct {
	code   int
	signal string
	fault  error
}

// Create validates source (a script path, config.Config, *config.Config or
// map) and starts supervising it. On a configuration error the diagnostic
// and usage text are printed, nothing is spawned, and the error (a
// *config.ValidationError) is returned.
func Create(source any, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		log:   slog.Default(),
		usage: os.Stderr,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		queue: event.NewQueue(),
		done:  make(chan struct{}),
	}
	s.events = event.NewAsyncEmitter[Event](s.queue)

	for _, opt := range opts {
		opt(s)
	}
	if s.spawner == nil {
		s.spawner = &child.ExecSpawner{Logger: s.log}
	}

	spec, err := config.New(source)
	if err != nil {
		s.log.Error(err.Error(), logging.KindKey, logging.KindError)
		if s.usage != nil {
			fmt.Fprintln(s.usage, config.Usage())
		}
		s.queue.Close()
		close(s.done)
		return nil, err
	}
	if s.delay <= 0 {
		s.delay = spec.RestartDelay
	}

	s.mu.Lock()
	s.spec = spec
	s.start(true)
	s.mu.Unlock()

	return s, nil
}

// OnEvent registers handler for all later events and returns a function
// that removes it.
func (s *Supervisor) OnEvent(handler EventHandler) (remove func()) {
	return s.events.OnEvent(handler)
}

// Done is closed once Quit has been called and all pending events have
// been delivered.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Restart replaces the running child. If no child is running, a new one is
// spawned immediately. Otherwise the child is sent SIGTERM and replaced
// when it exits or when the restart delay expires.
// Returns ErrStopped after Quit.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart()
}

// Quit stops supervising: the current child is detached and killed with
// SIGKILL, and no child is ever spawned again. Safe to call repeatedly.
func (s *Supervisor) Quit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	pid, name := 0, ""
	if s.current != nil {
		pid = s.current.Pid()
	}
	if s.spec != nil {
		name = s.spec.Name()
	}
	s.log.Info(fmt.Sprintf("QUIT and stop child %d-'%s'", pid, name), logging.KindKey, logging.KindAction)

	s.cancelTimer()
	s.restartPending = false
	s.spec = nil

	if s.current != nil {
		s.current.Detach()
		s.current.Kill(unix.SIGKILL)
		s.current = nil
	}
	s.running = false
	s.stopped = true

	s.queue.Close()
	go func() {
		defer logging.LogPanic("supervisor-quit", nil)
		<-s.queue.Done()
		close(s.done)
	}()
}

// ChildMessage implements child.Sink.
func (s *Supervisor) ChildMessage(h *child.Handle, msg ipc.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage(h, msg)
}

// ChildExit implements child.Sink.
func (s *Supervisor) ChildExit(h *child.Handle, code int, signal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit(h, code, signal)
}

// ChildFault implements child.Sink.
func (s *Supervisor) ChildFault(h *child.Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFault(h, err)
}

// +checklocks:s.mu
func (s *Supervisor) start(first bool) {
	if s.running || s.spec == nil {
		return
	}

	s.log.Info(fmt.Sprintf("FORK '%s'.", s.spec.Script), logging.KindKey, logging.KindAction)

	s.generation++
	h, err := s.spawner.Spawn(s.spec, s.generation, s)
	if err != nil {
		s.log.Error("could not spawn child", logging.KindKey, logging.KindError, "error", err)
		return
	}

	s.current = h
	s.running = true
	s.restartPending = false
	s.started = true
	s.doneCalled = false
	s.spawnedAt = time.Now()
	s.counters.Spawns++

	kind := EventStart
	if !first {
		kind = EventRestart
		s.counters.Restarts++
	}
	s.emit(Event{Kind: kind, Pid: h.Pid(), Generation: h.Generation()})
}

// +checklocks:s.mu
func (s *Supervisor) restart() error {
	if s.spec == nil {
		return ErrStopped
	}

	s.log.Info(fmt.Sprintf("RESTART '%s'", s.spec.Name()), logging.KindKey, logging.KindAction)

	if !s.running {
		s.start(false)
		return nil
	}

	s.restartPending = true
	s.cancelTimer()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.afterFunc(s.delay, func() { s.onTimer(seq) })

	if s.current != nil {
		s.current.Kill(unix.SIGTERM)
	}
	return nil
}

// onTimer forces a restart when the old child did not exit in time. Timers
// superseded by a later restart or cancelled by an exit do nothing.
func (s *Supervisor) onTimer(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.timerSeq || s.timer == nil {
		return
	}
	s.timer = nil
	if !s.restartPending || s.spec == nil {
		return
	}

	if s.current != nil {
		s.log.Warn(fmt.Sprintf("child %s did not exit within %s, forcing restart", label(s.current), s.delay),
			logging.KindKey, logging.KindEvent)
	}
	s.running = false
	s.start(false)
}

// +checklocks:s.mu
func (s *Supervisor) onExit(h *child.Handle, code int, signal string) {
	sig := signal
	if sig == "" {
		sig = "none"
	}
	s.log.Info(fmt.Sprintf("child %s EXIT with code %d, signal %s", label(h), code, sig),
		logging.KindKey, logging.KindEvent, "generation", h.Generation())

	h.Kill(unix.SIGTERM)
	s.finish(h, &exitInfo{code: code, signal: signal})
}

// +checklocks:s.mu
func (s *Supervisor) onFault(h *child.Handle, err error) {
	s.log.Error(fmt.Sprintf("child %s CRASHED with error %v", label(h), err),
		logging.KindKey, logging.KindError, "generation", h.Generation())

	h.Kill(unix.SIGKILL)
	s.finish(h, &exitInfo{code: -1, fault: err})
}

// finish applies a terminal observation from h. A stale handle is only
// detached; it never touches the current generation's state.
//
// +checklocks:s.mu
func (s *Supervisor) finish(h *child.Handle, info *exitInfo) {
	if h != s.current {
		h.Detach()
		return
	}

	s.running = false
	s.lastExit = info
	if info.fault != nil {
		s.counters.Faults++
		s.emit(Event{Kind: EventCrash, Pid: h.Pid(), Generation: h.Generation(), Err: info.fault})
	}
	s.counters.Exits++
	s.emit(Event{
		Kind:       EventExit,
		Pid:        h.Pid(),
		Generation: h.Generation(),
		Code:       info.code,
		Signal:     info.signal,
		Err:        info.fault,
		Restarting: s.restartPending,
	})

	s.cancelTimer()
	if s.restartPending {
		_ = s.restart()
	}
}

// +checklocks:s.mu
func (s *Supervisor) onMessage(h *child.Handle, msg ipc.Message) {
	if h != s.current {
		return
	}

	switch msg.(type) {
	case ipc.Ready:
		s.log.Info(fmt.Sprintf("child %s is ready", label(h)), logging.KindKey, logging.KindMessage)
		s.emit(Event{Kind: EventReady, Pid: h.Pid(), Generation: h.Generation()})
	case ipc.Exit:
		if s.doneCalled {
			return
		}
		s.doneCalled = true
		s.log.Info(fmt.Sprintf("child %s is closed", label(h)), logging.KindKey, logging.KindMessage)
		if s.spec != nil && s.spec.Done != nil {
			s.log.Info("run specified callback.", logging.KindKey, logging.KindAction)
			s.queue.Submit(s.spec.Done)
		}
	}
}

// +checklocks:s.mu
func (s *Supervisor) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// +checklocks:s.mu
func (s *Supervisor) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.events.Emit(e)
}

func label(h *child.Handle) string {
	name := ""
	if spec := h.Spec(); spec != nil {
		name = spec.Name()
	}
	return fmt.Sprintf("%d-'%s'", h.Pid(), name)
}
