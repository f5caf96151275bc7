// Command kotoimi runs the event meaning research logger.
package main

import (
	"os"

	"github.com/kilupskalvis/kotoimi/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
