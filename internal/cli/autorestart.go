package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tessro/tinymon/internal/logging"
	"github.com/tessro/tinymon/internal/supervisor"
)

// restarter is the part of a supervisor auto-restart drives.
type restarter interface {
	Restart() error
}

// autoRestarter restarts the child after it ends on its own, waiting longer
// after each consecutive failure. A ready announcement resets the wait.
type autoRestarter struct {
	sup       restarter
	log       *slog.Logger
	afterFunc func(time.Duration, func()) *time.Timer

	mu sync.Mutex
	// +checklocks:mu
	policy backoff.BackOff
	// +checklocks:mu
	pending *time.Timer
	// +checklocks:mu
	seq uint64
	// +checklocks:mu
	stopped bool
}

// newRestartBackOff returns the default auto-restart policy: exponential
// from 100ms up to maxDelay, never giving up.
func newRestartBackOff(maxDelay time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func newAutoRestarter(sup restarter, policy backoff.BackOff, log *slog.Logger) *autoRestarter {
	if log == nil {
		log = logging.Discard()
	}
	return &autoRestarter{
		sup:       sup,
		log:       log,
		afterFunc: time.AfterFunc,
		policy:    policy,
	}
}

// handle is a supervisor.EventHandler.
func (a *autoRestarter) handle(e supervisor.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}

	switch e.Kind {
	case supervisor.EventReady:
		a.policy.Reset()
	case supervisor.EventStart, supervisor.EventRestart:
		// A child started some other way; the scheduled restart is stale.
		a.cancelLocked()
	case supervisor.EventExit:
		// A pending restart already replaces this child.
		if e.Restarting {
			return
		}
		delay := a.policy.NextBackOff()
		if delay == backoff.Stop {
			a.log.Warn("auto-restart gave up", logging.KindKey, logging.KindEvent, "generation", e.Generation)
			return
		}
		a.log.Info(fmt.Sprintf("auto-restart in %s", delay), logging.KindKey, logging.KindAction, "generation", e.Generation)
		a.cancelLocked()
		seq := a.seq
		a.pending = a.afterFunc(delay, func() { a.fire(seq) })
	}
}

// cancelLocked stops the scheduled restart. A callback already running
// sees the bumped seq and does nothing.
//
// +checklocks:a.mu
func (a *autoRestarter) cancelLocked() {
	a.seq++
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
}

func (a *autoRestarter) fire(seq uint64) {
	a.mu.Lock()
	current := !a.stopped && seq == a.seq
	if current {
		a.pending = nil
	}
	a.mu.Unlock()
	if !current {
		return
	}

	if err := a.sup.Restart(); err != nil && !errors.Is(err, supervisor.ErrStopped) {
		a.log.Error("auto-restart failed", logging.KindKey, logging.KindError, "error", err)
	}
}

// stop cancels any scheduled restart and ignores later events.
func (a *autoRestarter) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.cancelLocked()
}
