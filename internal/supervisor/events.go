package supervisor

import "time"

// EventKind identifies a supervisor lifecycle event.
type EventKind string

const (
	// EventStart is emitted after the first child is spawned.
	EventStart EventKind = "start"
	// EventRestart is emitted after every later spawn.
	EventRestart EventKind = "restart"
	// EventExit is emitted when the current child exits or faults.
	EventExit EventKind = "exit"
	// EventCrash is emitted before EventExit when the current child faulted.
	EventCrash EventKind = "crash"
	// EventReady is emitted when the current child announces it is serving.
	EventReady EventKind = "ready"
)

// String returns the event name.
func (k EventKind) String() string { return string(k) }

// Event is a supervisor lifecycle event.
type Event struct {
	Kind EventKind
	Time time.Time

	// Pid and Generation identify the child the event is about.
	Pid        int
	Generation int

	// Code and Signal describe how the child ended (exit events only).
	// Signal is empty unless the child was killed by a signal.
	Code   int
	Signal string

	// Err is the fault behind a crash event.
	Err error

	// Restarting is set on exit events when a restart is pending, so the
	// exit will be followed by a restart event.
	Restarting bool
}

// EventHandler receives supervisor events. Handlers run on the
// supervisor's delivery goroutine, one at a time, in emission order, and
// may call back into the supervisor.
type EventHandler func(e Event)
