// Command muchsyncd hosts the session endpoint: it either listens for
// Unix-socket connections (serve), speaks the protocol directly over
// its own stdio (pipe), or runs a one-shot local round trip for
// smoke-testing (test).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPathFlag string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "muchsyncd",
		Short: "muchsyncd exchanges sync operations with a peer over a duplex byte stream",
	}
	cmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "path to config.yaml (defaults to the XDG config location)")
	cmd.AddCommand(newServeCmd(), newPipeCmd(), newTestCmd())
	return cmd
}
