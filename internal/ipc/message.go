// Package ipc defines the messages a supervised child sends to tinymon and
// the helpers a child uses to send them.
//
// The channel is an inherited pipe: the child writes one JSON value per line
// to the descriptor named by the TINYMON_IPC_FD environment variable.
package ipc

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Wire tags.
const (
	TagReady = "ready"
	TagExit  = "exit"

	// Tags used by older children; accepted on decode only.
	legacyTagReady = "server-ready"
	legacyTagExit  = "server-exit"
)

// Message is a decoded IPC payload: Ready, Exit or Unknown.
type Message interface {
	isMessage()
}

// Ready reports that the child is serving.
type Ready struct{}

// Exit reports that the child is about to terminate voluntarily.
// HasCode is set for the structured form that carries the exit code.
type Exit struct {
	Code    string
	HasCode bool
}

// Unknown is any payload tinymon does not recognize. It is ignored by the
// supervisor and kept for logging.
type Unknown struct {
	Raw string
}

func (Ready) isMessage()   {}
func (Exit) isMessage()    {}
func (Unknown) isMessage() {}

// Int returns the exit code as an integer when it is numeric.
func (e Exit) Int() (int, bool) {
	if !e.HasCode {
		return 0, false
	}
	n, err := strconv.Atoi(e.Code)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Decode parses one line of the IPC stream.
func Decode(line []byte) Message {
	if !gjson.ValidBytes(line) {
		return Unknown{Raw: string(line)}
	}

	v := gjson.ParseBytes(line)
	switch {
	case v.Type == gjson.String:
		switch v.Str {
		case TagReady, legacyTagReady:
			return Ready{}
		case TagExit, legacyTagExit:
			return Exit{}
		}
	case v.IsObject():
		switch v.Get("message").String() {
		case TagExit, legacyTagExit:
			code := v.Get("code")
			if !code.Exists() || code.Type == gjson.Null {
				return Exit{}
			}
			return Exit{Code: code.String(), HasCode: true}
		}
	}
	return Unknown{Raw: string(line)}
}

// Encode renders a message as one line of the IPC stream, without the
// trailing newline.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Ready:
		return []byte(strconv.Quote(TagReady)), nil
	case Exit:
		if !msg.HasCode {
			return []byte(strconv.Quote(TagExit)), nil
		}
		out, err := sjson.SetBytes([]byte(`{}`), "message", TagExit)
		if err != nil {
			return nil, err
		}
		if n, ok := msg.Int(); ok {
			return sjson.SetBytes(out, "code", n)
		}
		return sjson.SetBytes(out, "code", msg.Code)
	case Unknown:
		return []byte(msg.Raw), nil
	default:
		return nil, ErrUnknownMessage
	}
}
