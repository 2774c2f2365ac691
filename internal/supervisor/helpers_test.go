package supervisor

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/child"
	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/logging"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeProc records the signals sent to a fake child.
type fakeProc struct {
	mu      sync.Mutex
	signals []unix.Signal
	err     error
}

func (p *fakeProc) Signal(sig unix.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.signals = append(p.signals, sig)
	return nil
}

func (p *fakeProc) sent() []unix.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]unix.Signal(nil), p.signals...)
}

// fakeSpawner hands out handles backed by fakeProcs. Tests drive them with
// Report* calls.
type fakeSpawner struct {
	mu      sync.Mutex
	handles []*child.Handle
	procs   []*fakeProc
	err     error
	log     *slog.Logger
}

func (f *fakeSpawner) Spawn(spec *config.LaunchSpec, generation int, sink child.Sink) (*child.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	proc := &fakeProc{}
	h := child.NewHandle(spec, generation, 1000+generation, proc, sink, f.log)
	f.handles = append(f.handles, h)
	f.procs = append(f.procs, proc)
	return h, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeSpawner) handle(t *testing.T, i int) (*child.Handle, *fakeProc) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.handles) {
		t.Fatalf("spawn #%d never happened (%d spawns)", i+1, len(f.handles))
	}
	return f.handles[i], f.procs[i]
}

// fakeTimer is a debounce timer fired by hand.
type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// fire runs the callback regardless of Stop, as a real timer may when Stop
// races with expiry.
func (t *fakeTimer) fire() { t.fn() }

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) timer(t *testing.T, i int) *fakeTimer {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.timers) {
		t.Fatalf("timer #%d never armed (%d timers)", i+1, len(c.timers))
	}
	return c.timers[i]
}

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kinds() []EventKind {
	var out []EventKind
	for _, e := range r.all() {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, e := range r.all() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	sup     *Supervisor
	spawner *fakeSpawner
	clock   *fakeClock
	events  *recorder
	log     *lockedBuffer
}

// writeScript creates an executable script in a temp dir.
func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newHarness(t *testing.T, source any, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{},
		events: &recorder{},
		log:    &lockedBuffer{},
	}
	logger := logging.New(h.log, slog.LevelDebug)
	h.spawner = &fakeSpawner{log: logger}
	base := []Option{
		WithLogger(logger),
		WithSpawner(h.spawner),
		WithEventHandler(h.events.handle),
		WithUsageOutput(h.log),
		withAfterFunc(h.clock.AfterFunc),
	}
	sup, err := Create(source, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(sup.Quit)
	h.sup = sup
	return h
}

// flush waits until every event emitted so far has been delivered.
func flush(t *testing.T, s *Supervisor) {
	t.Helper()
	done := make(chan struct{})
	wait := s.queue.Done()
	if s.queue.Submit(func() { close(done) }) {
		wait = done
	}
	select {
	case <-wait:
	case <-time.After(2 * time.Second):
		t.Fatal("events were not delivered")
	}
}

var errBoom = errors.New("boom")
