package child

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/ipc"
	"github.com/tessro/tinymon/internal/logging"
)

// DrainTimeout bounds how long an exited child's IPC stream is read after
// the process is gone. Grandchildren may hold the pipe open.
const DrainTimeout = 200 * time.Millisecond

// maxMessageSize is the longest IPC line accepted.
const maxMessageSize = 1024 * 1024

// ExecSpawner starts children with os/exec. Each child runs in its own
// process group and signals are sent to the whole group.
type ExecSpawner struct {
	// Stdout and Stderr receive the child's output. Nil means the
	// supervisor's own stdout and stderr.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(spec *config.LaunchSpec, generation int, sink Sink) (*Handle, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	log := s.Logger
	if log == nil {
		log = logging.Discard()
	}

	path, args := spec.Command()
	cmd := exec.Command(path, args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(spec.Environ(os.Environ()), ipc.EnvFD+"="+strconv.Itoa(ipc.ChildFD))
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = DrainTimeout

	r, w, err := os.Pipe()
	if err != nil {
		h := NewHandle(spec, generation, 0, nil, sink, log)
		go h.ReportFault(fmt.Errorf("create ipc pipe: %w", err))
		return h, nil
	}
	// ExtraFiles[0] becomes descriptor 3 in the child.
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		h := NewHandle(spec, generation, 0, nil, sink, log)
		go h.ReportFault(fmt.Errorf("start process: %w", err))
		return h, nil
	}
	w.Close()

	pid := cmd.Process.Pid
	h := NewHandle(spec, generation, pid, processGroup(pid), sink, log)

	readDone := make(chan struct{})
	go func() {
		defer logging.LogPanic("child-ipc-reader", nil)
		defer close(readDone)
		readMessages(r, h)
	}()

	go func() {
		defer logging.LogPanic("child-waiter", nil)
		waitErr := cmd.Wait()

		select {
		case <-readDone:
		case <-time.After(DrainTimeout):
			r.Close()
			<-readDone
		}
		r.Close()

		state := cmd.ProcessState
		if state == nil {
			h.ReportFault(fmt.Errorf("wait: %w", waitErr))
			return
		}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
			h.ReportFault(fmt.Errorf("wait: %w", waitErr))
			return
		}
		code, signal := exitStatus(state)
		h.ReportExit(code, signal)
	}()

	return h, nil
}

func readMessages(r io.Reader, h *Handle) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		h.ReportMessage(ipc.Decode(line))
	}
	if err := scanner.Err(); err != nil {
		h.log.Warn("stop reading messages from child "+h.label(), logging.KindKey, logging.KindError, "error", err)
		// Keep the pipe drained so a child still writing never blocks.
		_, _ = io.Copy(io.Discard, r)
	}
}

// exitStatus returns the exit code, or -1 and the signal name when the
// process was killed by a signal.
func exitStatus(state *os.ProcessState) (int, string) {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, unix.SignalName(ws.Signal())
	}
	return state.ExitCode(), ""
}

// processGroup signals every process in the child's group.
type processGroup int

func (p processGroup) Signal(sig unix.Signal) error {
	return unix.Kill(-int(p), sig)
}
