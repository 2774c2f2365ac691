package event

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

type lifecycle struct {
	Kind string
	Pid  int
}

func TestEmitter_Delivery(t *testing.T) {
	tests := []struct {
		name     string
		handlers int
		emit     []lifecycle
		wantEach int
	}{
		{"no handlers", 0, []lifecycle{{"start", 1}}, 0},
		{"one handler", 1, []lifecycle{{"start", 1}, {"exit", 1}}, 2},
		{"fan out", 3, []lifecycle{{"ready", 7}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Emitter[lifecycle]
			got := make([][]lifecycle, tt.handlers)
			for i := range tt.handlers {
				e.OnEvent(func(ev lifecycle) { got[i] = append(got[i], ev) })
			}

			for _, ev := range tt.emit {
				e.Emit(ev)
			}

			for i, evs := range got {
				if len(evs) != tt.wantEach {
					t.Errorf("handler %d got %d events, want %d", i, len(evs), tt.wantEach)
				}
				if len(evs) > 0 && evs[0] != tt.emit[0] {
					t.Errorf("handler %d first event = %+v, want %+v", i, evs[0], tt.emit[0])
				}
			}
		})
	}
}

func TestEmitter_RegistrationOrder(t *testing.T) {
	var e Emitter[string]

	var order []string
	for _, name := range []string{"metrics", "forward", "auto-restart"} {
		e.OnEvent(func(string) { order = append(order, name) })
	}
	e.Emit("exit")

	want := []string{"metrics", "forward", "auto-restart"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestEmitter_RegisterDuringEmit(t *testing.T) {
	var e Emitter[string]

	var late int
	e.OnEvent(func(string) {
		e.OnEvent(func(string) { late++ })
	})

	e.Emit("start")
	if late != 0 {
		t.Fatalf("handler added during Emit ran %d times in the same Emit", late)
	}
	e.Emit("restart")
	if late != 1 {
		t.Errorf("late handler ran %d times, want 1", late)
	}
}

func TestEmitter_Remove(t *testing.T) {
	var e Emitter[lifecycle]

	var kept, removed int
	remove := e.OnEvent(func(lifecycle) { removed++ })
	e.OnEvent(func(lifecycle) { kept++ })

	e.Emit(lifecycle{Kind: "start"})
	remove()
	remove()
	e.Emit(lifecycle{Kind: "exit"})

	if removed != 1 {
		t.Errorf("removed handler ran %d times, want 1", removed)
	}
	if kept != 2 {
		t.Errorf("kept handler ran %d times, want 2", kept)
	}
	if n := e.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestEmitter_Concurrent(t *testing.T) {
	var e Emitter[lifecycle]

	var calls atomic.Int32
	e.OnEvent(func(lifecycle) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			remove := e.OnEvent(func(lifecycle) {})
			remove()
		}()
		go func() {
			defer wg.Done()
			e.Emit(lifecycle{Kind: "exit", Pid: i})
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 50 {
		t.Errorf("calls = %d, want 50", n)
	}
	if n := e.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}
