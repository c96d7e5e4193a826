package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version, set at build time via ldflags:
// go build -ldflags "-X github.com/anthonygricco/openevidence-cli/cmd.Version=1.2.3"
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "openevidence-cli", Version)
		},
	}
}
