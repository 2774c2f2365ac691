// Command tinymon runs one script under supervision.
package main

import (
	"os"

	"github.com/tessro/tinymon/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
