package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/daemon"
	"github.com/tessro/tinymon/internal/logging"
)

var stopViaSignal bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the supervisor",
	Long:  "Kill the child process and stop the running supervisor.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopViaSignal {
			return sendSignalCommand(cmd, daemon.CommandQuit)
		}

		client, err := ConnectClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Stop(); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), logging.Format(logging.KindAction, "stopped"))
		return nil
	},
}

// addPIDFileFlag gives cmd its own --pid-file flag, read back by
// sendSignalCommand.
func addPIDFileFlag(cmd *cobra.Command) {
	cmd.Flags().String("pid-file", "", "PID file (default ~/.tinymon/tinymon.pid)")
}

// sendSignalCommand delivers c to the supervisor named by cmd's --pid-file.
func sendSignalCommand(cmd *cobra.Command, c daemon.Command) error {
	pidFile, err := cmd.Flags().GetString("pid-file")
	if err != nil {
		return err
	}
	pid, err := daemon.SendCommand(pidFile, c)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), logging.Format(logging.KindAction, fmt.Sprintf("sent %s to %d", c, pid)))
	return nil
}

func init() {
	stopCmd.Flags().BoolVar(&stopViaSignal, "signal", false, "send SIGTERM via the PID file instead of using the control socket")
	addPIDFileFlag(stopCmd)
	rootCmd.AddCommand(stopCmd)
}
