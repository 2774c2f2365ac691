package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Kind categorizes a status line.
type Kind string

const (
	KindAction  Kind = "action"
	KindEvent   Kind = "event"
	KindMessage Kind = "message"
	KindError   Kind = "error"
)

// KindKey is the attribute key that carries a record's Kind.
const KindKey = "kind"

// Prefix starts every console status line.
const Prefix = "tinymon"

// kindWidth is the column width kind labels are padded to.
const kindWidth = 8

// Palette holds the styles used to render status lines.
type Palette struct {
	Prefix  lipgloss.Style
	Action  lipgloss.Style
	Event   lipgloss.Style
	Message lipgloss.Style
	Error   lipgloss.Style
	Other   lipgloss.Style
}

// NewPalette builds the status line styles for a renderer.
func NewPalette(r *lipgloss.Renderer) Palette {
	return Palette{
		Prefix:  r.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		Action:  r.NewStyle().Foreground(lipgloss.Color("15")),
		Event:   r.NewStyle().Foreground(lipgloss.Color("3")),
		Message: r.NewStyle().Foreground(lipgloss.Color("2")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("1")),
		Other:   r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (p Palette) style(kind Kind) lipgloss.Style {
	switch kind {
	case KindAction:
		return p.Action
	case KindEvent:
		return p.Event
	case KindMessage:
		return p.Message
	case KindError:
		return p.Error
	default:
		return p.Other
	}
}

// Render formats one status line: "tinymon <kind> : <text>".
func (p Palette) Render(kind Kind, text string) string {
	label := runewidth.FillRight(string(kind), kindWidth)
	return p.Prefix.Render(Prefix+" "+label+" : ") + p.style(kind).Render(text)
}

// Format renders a status line with the default renderer's color profile.
func Format(kind Kind, text string) string {
	return NewPalette(lipgloss.DefaultRenderer()).Render(kind, text)
}

// ConsoleHandler is a slog.Handler that writes one status line per record.
// The line's kind comes from the KindKey attribute; records without one are
// classified by level.
type ConsoleHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	palette Palette
	kind    Kind
	attrs   []slog.Attr
	group   string
}

// NewConsoleHandler creates a handler writing to w. Colors are enabled only
// when w is a terminal.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{
		mu:      &sync.Mutex{},
		w:       w,
		level:   level,
		palette: NewPalette(lipgloss.NewRenderer(w)),
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	kind := h.kind
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == KindKey {
			kind = Kind(a.Value.String())
			return true
		}
		writeAttr(&b, h.group, a)
		return true
	})

	if kind == "" {
		kind = kindForLevel(r.Level)
	}

	line := h.palette.Render(kind, b.String()) + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == KindKey {
			h2.kind = Kind(a.Value.String())
			continue
		}
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		h2.group = h.group + "." + name
	} else {
		h2.group = name
	}
	return &h2
}

func kindForLevel(level slog.Level) Kind {
	switch {
	case level >= slog.LevelError:
		return KindError
	default:
		return Kind(strings.ToLower(level.String()))
	}
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}
