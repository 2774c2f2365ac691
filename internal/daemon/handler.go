package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tessro/tinymon/internal/supervisor"
	"github.com/tessro/tinymon/internal/version"
)

// Controller is the part of a supervisor the control socket drives.
type Controller interface {
	Restart() error
	Quit()
	Status() supervisor.Status
}

// ControlHandler answers control requests against a Controller.
type ControlHandler struct {
	ctl       Controller
	startedAt time.Time
}

// NewHandler returns a Handler for ctl.
func NewHandler(ctl Controller) *ControlHandler {
	return &ControlHandler{ctl: ctl, startedAt: time.Now()}
}

// Handle implements Handler.
func (h *ControlHandler) Handle(ctx context.Context, req *Request) *Response {
	switch req.Type {
	case MsgPing:
		return OK(h.ping())
	case MsgRestart:
		if err := h.ctl.Restart(); err != nil {
			return Fail(err)
		}
		return OK(nil)
	case MsgStop:
		h.ctl.Quit()
		return OK(nil)
	case MsgStatus:
		return OK(h.ctl.Status().Fields())
	case MsgAttach, MsgDetach:
		srv, conn := ServerFromContext(ctx), ConnFromContext(ctx)
		if srv == nil || conn == nil {
			return Fail(errors.New("no connection to attach"))
		}
		if req.Type == MsgAttach {
			srv.Attach(conn)
		} else {
			srv.Detach(conn)
		}
		return OK(nil)
	default:
		return Fail(fmt.Errorf("%w: %q", ErrUnknownMessage, req.Type))
	}
}

func (h *ControlHandler) ping() PingResponse {
	st := h.ctl.Status()
	return PingResponse{
		Version:   version.Current(),
		PID:       os.Getpid(),
		Script:    st.Script,
		Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
		StartedAt: h.startedAt,
	}
}

// NewStreamEvent converts a supervisor event to its wire form.
func NewStreamEvent(e supervisor.Event) *StreamEvent {
	se := &StreamEvent{
		Kind:       e.Kind.String(),
		Time:       e.Time,
		Pid:        e.Pid,
		Generation: e.Generation,
		Code:       e.Code,
		Signal:     e.Signal,
		Restarting: e.Restarting,
	}
	if e.Err != nil {
		se.Error = e.Err.Error()
	}
	return se
}

// Forward returns an event handler that broadcasts every supervisor event
// to the server's attached clients.
func Forward(srv *Server) supervisor.EventHandler {
	return func(e supervisor.Event) {
		srv.Broadcast(NewStreamEvent(e))
	}
}
