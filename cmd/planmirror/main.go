// Command planmirror keeps a local mirror of planning and tracking items.
package main

import (
	"os"

	"github.com/roach88/planmirror/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
