// Command coachd serves and runs coaching conversations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coachd",
		Short:         "coachd runs multi-turn coaching check-ins",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "coachd.yaml", "Path to the configuration file")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")

	root.AddCommand(newServeCmd(), newChatCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the coachd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coachd version %s\n", version)
		},
	}
}
