package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tessro/tinymon/internal/child"
	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/logging"
)

const readyScript = `announce_exit() {
	printf '"exit"\n' >&3
	printf '{"message":"exit","code":0}\n' >&3
	exit 0
}
trap announce_exit TERM
printf '"ready"\n' >&3
while true; do sleep 0.05; done
`

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func TestSupervisor_RealProcess(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "server.sh")
	if err := os.WriteFile(script, []byte(readyScript), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	events := make(chan Event, 64)
	doneCalled := make(chan struct{}, 4)

	sup, err := Create(
		config.Config{
			Script:      script,
			Interpreter: []string{"/bin/sh"},
			Done:        func() { doneCalled <- struct{}{} },
		},
		WithLogger(logging.Discard()),
		WithSpawner(&child.ExecSpawner{Stdout: os.Stderr, Logger: logging.Discard()}),
		WithEventHandler(func(e Event) { events <- e }),
	)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer sup.Quit()

	start := waitEvent(t, events, EventStart)
	waitEvent(t, events, EventReady)

	if err := sup.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	exit := waitEvent(t, events, EventExit)
	if exit.Generation != start.Generation || !exit.Restarting {
		t.Errorf("exit event = %+v", exit)
	}
	if exit.Code != 0 {
		t.Errorf("exit code = %d, want 0 (trap handled SIGTERM)", exit.Code)
	}

	restart := waitEvent(t, events, EventRestart)
	if restart.Pid == start.Pid {
		t.Error("restart reused the old pid")
	}
	waitEvent(t, events, EventReady)

	select {
	case <-doneCalled:
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback not invoked")
	}
	select {
	case <-doneCalled:
		t.Error("completion callback invoked twice for one generation")
	case <-time.After(100 * time.Millisecond):
	}

	st := sup.Status()
	if st.State != StateRunning || st.Counters.Spawns != 2 || st.Counters.Exits != 1 {
		t.Errorf("status = %+v", st)
	}

	sup.Quit()
	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after Quit")
	}
}
