// Package cli implements the tinymon command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/paths"
)

// baseDir is the global --dir flag value.
var baseDir string

var rootCmd = &cobra.Command{
	Use:   "tinymon",
	Short: "Single-child process supervisor",
	Long:  "tinymon runs one script, restarts it on demand, and reports its lifecycle.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Path helpers read the override from the environment.
		if baseDir != "" {
			if err := os.Setenv(paths.EnvDir, baseDir); err != nil {
				return err
			}
		}
		return nil
	},
	SilenceUsage: true,
}

// BaseDir returns the value of the --dir flag.
func BaseDir() string {
	return baseDir
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "base directory for tinymon data (overrides ~/.tinymon)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
