package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Command is a control action requested by a signal.
type Command string

const (
	// CommandRestart restarts the child (SIGHUP).
	CommandRestart Command = "restart"
	// CommandQuit stops the supervisor (SIGTERM, SIGINT).
	CommandQuit Command = "quit"
	// CommandDump writes the status dump (SIGUSR1).
	CommandDump Command = "dump"
)

// controlSignals maps each handled signal to its command.
var controlSignals = map[unix.Signal]Command{
	unix.SIGHUP:  CommandRestart,
	unix.SIGTERM: CommandQuit,
	unix.SIGINT:  CommandQuit,
	unix.SIGUSR1: CommandDump,
}

// CommandFor returns the command a signal requests.
func CommandFor(sig os.Signal) (Command, bool) {
	s, ok := sig.(unix.Signal)
	if !ok {
		return "", false
	}
	cmd, ok := controlSignals[s]
	return cmd, ok
}

// SignalFor returns the signal that requests cmd.
func SignalFor(cmd Command) (unix.Signal, bool) {
	switch cmd {
	case CommandRestart:
		return unix.SIGHUP, true
	case CommandQuit:
		return unix.SIGTERM, true
	case CommandDump:
		return unix.SIGUSR1, true
	}
	return 0, false
}

// Notify delivers a Command for every control signal received until ctx is
// done. The returned channel is closed afterwards.
func Notify(ctx context.Context) <-chan Command {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, unix.SIGHUP, unix.SIGTERM, unix.SIGINT, unix.SIGUSR1)

	cmds := make(chan Command, 8)
	go func() {
		defer close(cmds)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				cmd, ok := CommandFor(sig)
				if !ok {
					continue
				}
				select {
				case cmds <- cmd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return cmds
}

// SendCommand signals the supervisor recorded in the PID file at pidPath.
func SendCommand(pidPath string, cmd Command) (int, error) {
	sig, ok := SignalFor(cmd)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessage, cmd)
	}
	running, pid := IsRunning(pidPath)
	if !running {
		return 0, ErrNotRunning
	}
	if err := unix.Kill(pid, sig); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}
