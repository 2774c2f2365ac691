package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/daemon"
	"github.com/tessro/tinymon/internal/logging"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Watch lifecycle events",
	Long:  "Connect to the running supervisor and print its lifecycle events as they happen.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		client := NewClient()
		events, err := client.StreamEvents()
		if err != nil {
			return fmt.Errorf("attach: %w", err)
		}
		defer client.Close()

		fmt.Fprintln(out, logging.Format(logging.KindAction, "attached (Ctrl+C to detach)"))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-sigCh:
				fmt.Fprintln(out, logging.Format(logging.KindAction, "detached"))
				return nil
			case res, ok := <-events:
				if !ok {
					return nil
				}
				if res.Err != nil {
					fmt.Fprintln(out, logging.Format(logging.KindEvent, "connection closed"))
					return nil
				}
				displayEvent(out, res.Event)
			}
		}
	},
}

// displayEvent prints one lifecycle event as a status line.
func displayEvent(w io.Writer, e *daemon.StreamEvent) {
	kind := logging.KindEvent
	text := fmt.Sprintf("%s pid %d (generation %d)", e.Kind, e.Pid, e.Generation)
	switch e.Kind {
	case "exit":
		sig := e.Signal
		if sig == "" {
			sig = "none"
		}
		text += fmt.Sprintf(" code %d, signal %s", e.Code, sig)
		if e.Restarting {
			text += ", restarting"
		}
	case "crash":
		kind = logging.KindError
		text += ": " + e.Error
	case "ready":
		kind = logging.KindMessage
	}
	fmt.Fprintln(w, logging.Format(kind, text))
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
