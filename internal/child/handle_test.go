package child

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/ipc"
)

type fakeProcess struct {
	signals []unix.Signal
	err     error
}

func (p *fakeProcess) Signal(sig unix.Signal) error {
	p.signals = append(p.signals, sig)
	return p.err
}

func TestHandle_TerminalReportedOnce(t *testing.T) {
	rec := newRecorder()
	h := NewHandle(&config.LaunchSpec{Script: "/srv/app.sh"}, 1, 100, &fakeProcess{}, rec, nil)

	h.ReportExit(0, "")
	h.ReportFault(errors.New("late"))
	h.ReportExit(1, "")
	h.ReportMessage(ipc.Ready{})

	if len(rec.exits) != 1 {
		t.Errorf("exits delivered = %d, want 1", len(rec.exits))
	}
	if len(rec.faults) != 0 {
		t.Errorf("faults delivered = %d, want 0", len(rec.faults))
	}
	if len(rec.messages) != 0 {
		t.Errorf("messages after exit = %d, want 0", len(rec.messages))
	}
}

func TestHandle_KillDeliveryFailure(t *testing.T) {
	proc := &fakeProcess{err: unix.ESRCH}
	h := NewHandle(&config.LaunchSpec{Script: "/srv/app.sh"}, 1, 100, proc, newRecorder(), nil)

	if h.Kill(unix.SIGTERM) {
		t.Error("Kill = true, want false on delivery failure")
	}
	if !h.Killed() {
		t.Error("Killed() = false, flag is monotonic even on failure")
	}
	if len(proc.signals) != 1 || proc.signals[0] != unix.SIGTERM {
		t.Errorf("signals = %v, want [SIGTERM]", proc.signals)
	}
}

func TestHandle_Accessors(t *testing.T) {
	spec := &config.LaunchSpec{Script: "/srv/app.sh"}
	h := NewHandle(spec, 7, 4242, nil, newRecorder(), nil)

	if h.Pid() != 4242 || h.Generation() != 7 || h.Spec() != spec {
		t.Errorf("accessors = %d, %d, %p", h.Pid(), h.Generation(), h.Spec())
	}
	if h.Killed() || h.Finished() {
		t.Error("new handle must not be killed or finished")
	}
	if h.label() != "4242-'app.sh'" {
		t.Errorf("label() = %q", h.label())
	}
}

func TestHandle_KillEscalation(t *testing.T) {
	proc := &fakeProcess{}
	h := NewHandle(&config.LaunchSpec{Script: "/srv/app.sh"}, 1, 100, proc, newRecorder(), nil)

	steps := []struct {
		sig  unix.Signal
		want bool
	}{
		{unix.SIGTERM, true},
		{unix.SIGTERM, false},
		{unix.SIGKILL, true},
		{unix.SIGKILL, false},
		{unix.SIGTERM, false},
	}
	for i, st := range steps {
		if got := h.Kill(st.sig); got != st.want {
			t.Errorf("step %d: Kill(%v) = %v, want %v", i, st.sig, got, st.want)
		}
	}

	want := []unix.Signal{unix.SIGTERM, unix.SIGKILL}
	if len(proc.signals) != len(want) {
		t.Fatalf("signals = %v, want %v", proc.signals, want)
	}
	for i := range want {
		if proc.signals[i] != want[i] {
			t.Errorf("signal %d = %v, want %v", i, proc.signals[i], want[i])
		}
	}
}
