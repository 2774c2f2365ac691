package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/daemon"
	"github.com/tessro/tinymon/internal/logging"
)

var restartViaSignal bool

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the child process",
	Long:  "Ask the running supervisor to replace its child process.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if restartViaSignal {
			return sendSignalCommand(cmd, daemon.CommandRestart)
		}

		client, err := ConnectClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Restart(); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), logging.Format(logging.KindAction, "restart requested"))
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Make the supervisor dump its status to its log",
	Long:  "Send SIGUSR1 to the supervisor named by the PID file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignalCommand(cmd, daemon.CommandDump)
	},
}

func init() {
	restartCmd.Flags().BoolVar(&restartViaSignal, "signal", false, "send SIGHUP via the PID file instead of using the control socket")
	addPIDFileFlag(restartCmd)
	addPIDFileFlag(dumpCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(dumpCmd)
}
