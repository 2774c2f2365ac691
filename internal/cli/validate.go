package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/logging"
)

var validateOpts configOptions

var validateCmd = &cobra.Command{
	Use:   "validate [script] [-- args...]",
	Short: "Check a configuration without running it",
	Long:  "Resolve the configuration the run command would use and report whether it is valid.",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := validateOpts.build(args)
		if err != nil {
			fmt.Fprintln(out, logging.Format(logging.KindError, err.Error()))
			return err
		}
		spec, err := config.New(cfg)
		if err != nil {
			fmt.Fprintln(out, logging.Format(logging.KindError, err.Error()))
			fmt.Fprintln(cmd.ErrOrStderr(), config.Usage())
			return err
		}

		path, argv := spec.Command()
		fmt.Fprintln(out, logging.Format(logging.KindAction, "config ok"))
		fmt.Fprintf(out, "command       = %s\n", strings.Join(append([]string{path}, argv...), " "))
		fmt.Fprintf(out, "cwd           = %s\n", spec.Dir)
		fmt.Fprintf(out, "env           = [%s]\n", strings.Join(spec.EnvKeys(), " "))
		fmt.Fprintf(out, "restart_delay = %s\n", spec.RestartDelay)
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print configuration and lifecycle reference",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
	},
}

func init() {
	addConfigFlags(validateCmd, &validateOpts)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(usageCmd)
}
