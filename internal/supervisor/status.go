package supervisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iancoleman/orderedmap"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tessro/tinymon/internal/logging"
)

// State is the supervisor's lifecycle state as seen from outside.
type State string

const (
	// StateIdle means no child has been spawned yet.
	StateIdle State = "idle"
	// StateRunning means the current child is alive.
	StateRunning State = "running"
	// StateRestarting means a restart is waiting for the old child to exit.
	StateRestarting State = "restarting"
	// StateExited means the last child ended and no restart is pending.
	StateExited State = "exited"
	// StateStopped means Quit was called. Terminal.
	StateStopped State = "stopped"
)

// Resources is a point-in-time resource sample of the child process.
type Resources struct {
	RSS        uint64
	CPUPercent float64
	Threads    int32
}

// Status is a snapshot of the supervisor.
type Status struct {
	Script  string
	Args    []string
	Cwd     string
	EnvKeys []string

	State          State
	Running        bool
	RestartPending bool
	TimerPending   bool
	RestartDelay   time.Duration

	Pid        int
	Generation int
	Uptime     time.Duration

	Counters Counters

	// LastCode and LastSignal describe the most recent exit of a current
	// child. LastError is set when it faulted.
	HasExited  bool
	LastCode   int
	LastSignal string
	LastError  string

	// Resources is nil when no child is running or sampling failed.
	Resources *Resources
}

// Status returns a snapshot of the supervisor and, when a child is
// running, a resource sample of it.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		State:          s.state(),
		Running:        s.running,
		RestartPending: s.restartPending,
		TimerPending:   s.timer != nil,
		RestartDelay:   s.delay,
		Generation:     s.generation,
		Counters:       s.counters,
	}
	if s.spec != nil {
		st.Script = s.spec.Script
		st.Args = append([]string(nil), s.spec.Args...)
		st.Cwd = s.spec.Dir
		st.EnvKeys = s.spec.EnvKeys()
	}
	if s.current != nil {
		st.Pid = s.current.Pid()
		if s.running {
			st.Uptime = time.Since(s.spawnedAt).Truncate(time.Millisecond)
		}
	}
	if s.lastExit != nil {
		st.HasExited = true
		st.LastCode = s.lastExit.code
		st.LastSignal = s.lastExit.signal
		if s.lastExit.fault != nil {
			st.LastError = s.lastExit.fault.Error()
		}
	}
	s.mu.Unlock()

	if st.Running && st.Pid > 0 {
		st.Resources = sample(st.Pid)
	}
	return st
}

// +checklocks:s.mu
func (s *Supervisor) state() State {
	switch {
	case s.stopped:
		return StateStopped
	case s.running && s.restartPending:
		return StateRestarting
	case s.running:
		return StateRunning
	case s.started:
		return StateExited
	default:
		return StateIdle
	}
}

func sample(pid int) *Resources {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil
	}
	r := &Resources{RSS: mem.RSS}
	if cpu, err := p.CPUPercent(); err == nil {
		r.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		r.Threads = n
	}
	return r
}

// Fields returns the snapshot as ordered key/value pairs.
func (st Status) Fields() *orderedmap.OrderedMap {
	m := orderedmap.New()
	m.SetEscapeHTML(false)

	m.Set("script", st.Script)
	m.Set("args", st.Args)
	m.Set("cwd", st.Cwd)
	m.Set("env", st.EnvKeys)
	m.Set("state", string(st.State))
	m.Set("running", st.Running)
	m.Set("restart_pending", st.RestartPending)
	m.Set("timer_pending", st.TimerPending)
	m.Set("restart_delay", st.RestartDelay.String())
	m.Set("pid", st.Pid)
	m.Set("generation", st.Generation)
	m.Set("uptime", st.Uptime.String())
	m.Set("spawns", st.Counters.Spawns)
	m.Set("restarts", st.Counters.Restarts)
	m.Set("exits", st.Counters.Exits)
	m.Set("faults", st.Counters.Faults)
	if st.HasExited {
		m.Set("last_code", st.LastCode)
		m.Set("last_signal", st.LastSignal)
		if st.LastError != "" {
			m.Set("last_error", st.LastError)
		}
	}
	if st.Resources != nil {
		m.Set("rss_bytes", st.Resources.RSS)
		m.Set("cpu_percent", st.Resources.CPUPercent)
		m.Set("threads", st.Resources.Threads)
	}
	return m
}

// Dump writes the snapshot as aligned "key = value" lines between a
// header and a closing rule.
func (st Status) Dump(w io.Writer) error {
	fields := st.Fields()
	keys := fields.Keys()

	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}

	var b strings.Builder
	b.WriteString(logging.Format(logging.KindAction, "dump") + "\n")
	for _, k := range keys {
		v, _ := fields.Get(k)
		fmt.Fprintf(&b, "  %-*s = %s\n", width, k, dumpValue(v))
	}
	b.WriteString(strings.Repeat("=", 72) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// DumpJSON writes the snapshot as an indented JSON object with stable key
// order.
func (st Status) DumpJSON(w io.Writer) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st.Fields()); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func dumpValue(v any) string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return "undefined"
		}
		return v
	case []string:
		if len(v) == 0 {
			return "[]"
		}
		return "[" + strings.Join(v, " ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

// Dump writes the current status to w.
func (s *Supervisor) Dump(w io.Writer) error {
	return s.Status().Dump(w)
}
