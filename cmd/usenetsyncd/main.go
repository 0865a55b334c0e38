// Command usenetsyncd synchronizes local folder trees over Usenet/NNTP
// and serves the management API that folder, share, and user commands
// talk to.
package main

import (
	"fmt"
	"os"

	"github.com/kraklabs/usenetsync/cmd/usenetsyncd/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
