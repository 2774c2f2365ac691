package child

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/ipc"
)

const testTimeout = 5 * time.Second

type exitObs struct {
	code   int
	signal string
}

type recorder struct {
	messages chan ipc.Message
	exits    chan exitObs
	faults   chan error
}

func newRecorder() *recorder {
	return &recorder{
		messages: make(chan ipc.Message, 16),
		exits:    make(chan exitObs, 4),
		faults:   make(chan error, 4),
	}
}

func (r *recorder) ChildMessage(_ *Handle, msg ipc.Message) { r.messages <- msg }
func (r *recorder) ChildExit(_ *Handle, code int, signal string) {
	r.exits <- exitObs{code, signal}
}
func (r *recorder) ChildFault(_ *Handle, err error) { r.faults <- err }

func (r *recorder) waitExit(t *testing.T) exitObs {
	t.Helper()
	select {
	case e := <-r.exits:
		return e
	case err := <-r.faults:
		t.Fatalf("unexpected fault: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for exit")
	}
	return exitObs{}
}

func (r *recorder) waitMessage(t *testing.T) ipc.Message {
	t.Helper()
	select {
	case m := <-r.messages:
		return m
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func shellSpec(t *testing.T, body string, mutate func(*config.Config)) *config.LaunchSpec {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "child.sh")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := config.Config{Script: path, Interpreter: []string{"/bin/sh"}, Cwd: dir}
	if mutate != nil {
		mutate(&cfg)
	}
	spec, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return spec
}

func TestSpawn_MessagesThenExit(t *testing.T) {
	spec := shellSpec(t, `printf '"ready"\n' >&3
printf 'noise\n' >&3
printf '"exit"\n' >&3
printf '{"message":"exit","code":0}\n' >&3
exit 0
`, nil)

	rec := newRecorder()
	h, err := (&ExecSpawner{}).Spawn(spec, 1, rec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.Pid() <= 0 {
		t.Errorf("Pid() = %d, want positive", h.Pid())
	}
	if h.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", h.Generation())
	}

	exit := rec.waitExit(t)
	if exit.code != 0 || exit.signal != "" {
		t.Errorf("exit = %+v, want code 0", exit)
	}

	// Every message must have been delivered before the exit.
	close(rec.messages)
	var got []ipc.Message
	for m := range rec.messages {
		got = append(got, m)
	}
	want := []ipc.Message{ipc.Ready{}, ipc.Unknown{Raw: "noise"}, ipc.Exit{}, ipc.Exit{Code: "0", HasCode: true}}
	if len(got) != len(want) {
		t.Fatalf("messages = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %#v, want %#v", i, got[i], want[i])
		}
	}
	if !h.Finished() {
		t.Error("Finished() = false after exit")
	}
}

func TestSpawn_OversizedMessageDoesNotBlockChild(t *testing.T) {
	// One line past maxMessageSize, then more output. The child must still
	// be able to finish writing and exit.
	spec := shellSpec(t, `printf '"ready"\n' >&3
head -c 2097152 /dev/zero | tr '\0' 'x' >&3
printf '\n"ready"\n' >&3
exit 7
`, nil)

	rec := newRecorder()
	if _, err := (&ExecSpawner{}).Spawn(spec, 1, rec); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if m := rec.waitMessage(t); m != (ipc.Ready{}) {
		t.Errorf("first message = %#v, want Ready", m)
	}
	if exit := rec.waitExit(t); exit.code != 7 {
		t.Errorf("exit = %+v, want code 7", exit)
	}
	if n := len(rec.messages); n != 0 {
		t.Errorf("%d messages delivered after the oversized line, want 0", n)
	}
}

func TestSpawn_ExitCode(t *testing.T) {
	spec := shellSpec(t, "exit 3\n", nil)

	rec := newRecorder()
	if _, err := (&ExecSpawner{}).Spawn(spec, 1, rec); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if exit := rec.waitExit(t); exit.code != 3 {
		t.Errorf("exit code = %d, want 3", exit.code)
	}
}

func TestSpawn_ArgsEnvDir(t *testing.T) {
	spec := shellSpec(t, `echo "$APP_ENV|$1|$2|$(pwd)"
`, func(c *config.Config) {
		c.Args = []string{"-p 3000", "--verbose"}
		c.Env = map[string]string{"APP_ENV": "development"}
	})

	var out bytes.Buffer
	rec := newRecorder()
	if _, err := (&ExecSpawner{Stdout: &out}).Spawn(spec, 1, rec); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	rec.waitExit(t)

	dir, _ := filepath.EvalSymlinks(spec.Dir)
	got := strings.TrimSpace(out.String())
	parts := strings.Split(got, "|")
	if len(parts) != 4 {
		t.Fatalf("output = %q", got)
	}
	if parts[0] != "development" || parts[1] != "-p 3000" || parts[2] != "--verbose" {
		t.Errorf("output = %q", got)
	}
	if gotDir, _ := filepath.EvalSymlinks(parts[3]); gotDir != dir {
		t.Errorf("cwd = %q, want %q", parts[3], dir)
	}
}

func TestHandle_KillTerm(t *testing.T) {
	spec := shellSpec(t, `trap 'exit 0' TERM
printf '"ready"\n' >&3
while :; do sleep 0.05; done
`, nil)

	rec := newRecorder()
	h, err := (&ExecSpawner{}).Spawn(spec, 1, rec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if m := rec.waitMessage(t); m != (ipc.Ready{}) {
		t.Fatalf("first message = %#v, want Ready", m)
	}

	if !h.Kill(unix.SIGTERM) {
		t.Fatal("Kill(SIGTERM) = false, want true")
	}
	if !h.Killed() {
		t.Error("Killed() = false after Kill")
	}
	if h.Kill(unix.SIGTERM) {
		t.Error("second Kill(SIGTERM) = true, want false")
	}

	if exit := rec.waitExit(t); exit.code != 0 {
		t.Errorf("exit = %+v, want trapped exit 0", exit)
	}
}

func TestHandle_KillSignal(t *testing.T) {
	spec := shellSpec(t, `printf '"ready"\n' >&3
while :; do sleep 0.05; done
`, nil)

	rec := newRecorder()
	h, err := (&ExecSpawner{}).Spawn(spec, 1, rec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	rec.waitMessage(t)

	if !h.Kill(unix.SIGKILL) {
		t.Fatal("Kill(SIGKILL) = false, want true")
	}

	exit := rec.waitExit(t)
	if exit.code != -1 || exit.signal != "SIGKILL" {
		t.Errorf("exit = %+v, want SIGKILL", exit)
	}
}

func TestHandle_KillAfterExit(t *testing.T) {
	spec := shellSpec(t, "exit 0\n", nil)

	rec := newRecorder()
	h, err := (&ExecSpawner{}).Spawn(spec, 1, rec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	rec.waitExit(t)

	if h.Kill(unix.SIGTERM) {
		t.Error("Kill after exit = true, want false")
	}
	if !h.Killed() {
		t.Error("Killed() = false, killed flag must still be set")
	}
}

func TestSpawn_LaunchFailureIsFault(t *testing.T) {
	spec := shellSpec(t, "exit 0\n", nil)
	spec.Interpreter = []string{filepath.Join(t.TempDir(), "no-such-shell")}

	rec := newRecorder()
	h, err := (&ExecSpawner{}).Spawn(spec, 2, rec)
	if err != nil {
		t.Fatalf("Spawn returned error %v, want fault delivery", err)
	}
	if h.Pid() != 0 {
		t.Errorf("Pid() = %d, want 0", h.Pid())
	}

	select {
	case err := <-rec.faults:
		if err == nil {
			t.Error("fault error is nil")
		}
	case <-rec.exits:
		t.Fatal("got exit, want fault")
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for fault")
	}

	if h.Kill(unix.SIGKILL) {
		t.Error("Kill on failed launch = true, want false")
	}
}

func TestSpawn_NilSink(t *testing.T) {
	spec := shellSpec(t, "exit 0\n", nil)
	if _, err := (&ExecSpawner{}).Spawn(spec, 1, nil); err != ErrNilSink {
		t.Errorf("Spawn(nil sink) error = %v, want ErrNilSink", err)
	}
}

func TestHandle_Detach(t *testing.T) {
	spec := shellSpec(t, `while :; do sleep 0.05; done
`, nil)

	rec := newRecorder()
	h, err := (&ExecSpawner{}).Spawn(spec, 1, rec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	h.Detach()
	h.Kill(unix.SIGKILL)

	select {
	case e := <-rec.exits:
		t.Errorf("detached handle delivered exit %+v", e)
	case <-time.After(500 * time.Millisecond):
	}
}
