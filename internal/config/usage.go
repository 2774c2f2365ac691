package config

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

// usageWidth is the column at which usage notes are wrapped.
const usageWidth = 72

var (
	usageTitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	usageExampleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true)
	usageHeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	usageNoteStyle    = lipgloss.NewStyle().Bold(true)
	usageRuleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true)
)

type usageEntry struct {
	name string
	desc string
}

var usageOptions = []usageEntry{
	{"script: file", "The script to run and monitor."},
	{"args  : [...]", "List of string arguments."},
	{"cwd   : path", "Current working directory of the child process."},
	{"env   : {key:value}", "Environment key-value pairs, override inherited ones."},
	{"interpreter: [...]", "Program that runs the script, e.g. [\"/bin/sh\"]."},
	{"restart_delay: dur", "How long a restart waits for the old child (default 5s)."},
	{"done  : callback", "Called once when the script announces its exit."},
}

var usageCommands = []usageEntry{
	{"Restart()", "restarts the child process."},
	{"Quit()", "kills the child process and stops supervising."},
	{"Dump(w)", "prints supervisor status."},
}

var usageEvents = []usageEntry{
	{"start", "child process has started."},
	{"crash", "child process has crashed."},
	{"exit", "child process has exited."},
	{"restart", "child process has restarted."},
	{"ready", "child process sent the ready message."},
}

// Usage returns the help text describing the configuration surface,
// supervisor operations and lifecycle events.
func Usage() string {
	var b strings.Builder

	b.WriteString(usageTitleStyle.Render("tinymon usage:") + "\n")
	b.WriteString(usageExampleStyle.Render(`sup, err := supervisor.Create("script.sh") // or supervisor.Create(config.Config{...})`) + "\n")

	writeSection(&b, "Options:", usageOptions)
	b.WriteString(usageNoteStyle.Render(wordwrap.String("Note: if the script is omitted or missing, no supervisor is created.", usageWidth)) + "\n")
	writeSection(&b, "Commands:", usageCommands)
	writeSection(&b, "Events:", usageEvents)

	b.WriteString(usageRuleStyle.Render(strings.Repeat("=", usageWidth)))
	return b.String()
}

func writeSection(b *strings.Builder, title string, entries []usageEntry) {
	b.WriteString(usageHeaderStyle.Render(title) + "\n")

	var lines strings.Builder
	for _, e := range entries {
		lines.WriteString(dotLeader(e.name, 24) + e.desc + "\n")
	}
	b.WriteString(indent.String(lines.String(), 2))
}

func dotLeader(s string, width int) string {
	if len(s) >= width {
		return s + "."
	}
	return s + strings.Repeat(".", width-len(s))
}
