package daemon

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of control message.
type MessageType string

const (
	MsgPing    MessageType = "ping"
	MsgRestart MessageType = "restart"
	MsgStop    MessageType = "stop"   // Quit the supervisor and exit
	MsgStatus  MessageType = "status" // Get supervisor status

	// Event streaming
	MsgAttach MessageType = "attach" // Subscribe to lifecycle events
	MsgDetach MessageType = "detach" // Unsubscribe from events
)

// Request is the envelope for all control requests.
type Request struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"` // Optional request ID for correlation
}

// Response is the envelope for all control responses.
type Response struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"` // Correlates with request ID
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"` // Type-specific payload
}

// OK builds a successful response carrying payload, which may be nil.
func OK(payload any) *Response {
	resp := &Response{Success: true}
	if payload == nil {
		return resp
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Fail(fmt.Errorf("encode payload: %w", err))
	}
	resp.Payload = data
	return resp
}

// Fail builds a failed response.
func Fail(err error) *Response {
	return &Response{Success: false, Error: err.Error()}
}

// decodePayload decodes a response payload. An empty payload yields the
// zero value.
func decodePayload[T any](payload json.RawMessage) (*T, error) {
	var result T
	if len(payload) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &result, nil
}

// PingResponse is the payload for ping responses.
type PingResponse struct {
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	Script    string    `json:"script"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
}

// StreamEvent is sent to attached clients for every supervisor event.
type StreamEvent struct {
	Kind       string    `json:"kind"` // start, restart, exit, crash, ready
	Time       time.Time `json:"time"`
	Pid        int       `json:"pid"`
	Generation int       `json:"generation"`
	Code       int       `json:"code,omitempty"`
	Signal     string    `json:"signal,omitempty"`
	Error      string    `json:"error,omitempty"`
	Restarting bool      `json:"restarting,omitempty"`
}
