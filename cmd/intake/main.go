// Command intake runs the intake chat relay and a terminal chat client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is the build version.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "intake",
		Short:         "Bureau Zwartjes intake chat relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand())
	root.AddCommand(chatCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "intake:", err)
		os.Exit(1)
	}
}
