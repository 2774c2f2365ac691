package supervisor

import (
	"io"
	"log/slog"
	"time"

	"github.com/tessro/tinymon/internal/child"
)

// Option configures a Supervisor during creation.
type Option func(*Supervisor)

// WithLogger sets the logger for status lines. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithSpawner replaces the process spawner. Defaults to a child.ExecSpawner
// sharing the supervisor's logger.
func WithSpawner(sp child.Spawner) Option {
	return func(s *Supervisor) {
		s.spawner = sp
	}
}

// WithRestartDelay overrides the configured debounce delay. Values <= 0 are
// ignored.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithEventHandler registers an event handler before the first child is
// spawned, so it observes the start event. May be given more than once.
//
// Example:
//
//	sup, err := supervisor.Create("server.sh",
//	    supervisor.WithEventHandler(func(e supervisor.Event) {
//	        if e.Kind == supervisor.EventReady {
//	            close(ready)
//	        }
//	    }),
//	)
func WithEventHandler(handler EventHandler) Option {
	return func(s *Supervisor) {
		s.events.OnEvent(handler)
	}
}

// WithUsageOutput sets where usage text is printed when the configuration
// is rejected. Defaults to os.Stderr.
func WithUsageOutput(w io.Writer) Option {
	return func(s *Supervisor) {
		s.usage = w
	}
}

// Timer is a cancellable pending call.
type Timer interface {
	Stop() bool
}

// withAfterFunc replaces time.AfterFunc for the debounce timer.
func withAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(s *Supervisor) {
		s.afterFunc = fn
	}
}
