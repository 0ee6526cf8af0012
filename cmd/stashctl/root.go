package main

import (
	"github.com/spf13/cobra"
)

const defaultSocket = "/run/stashd/stashd.asok"

func newRootCommand() *cobra.Command {
	ctx := &cliContext{}

	rootCmd := &cobra.Command{
		Use:           "stashctl",
		Short:         "Control a running stashd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.socket, "socket", defaultSocket, "Path to the daemon admin socket")
	rootCmd.PersistentFlags().StringVar(&ctx.format, "format", "", "Output format (json or json-pretty)")

	rootCmd.AddCommand(newHelpCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newVersionCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newPerfCommand(ctx))
	rootCmd.AddCommand(newLogCommand(ctx))
	rootCmd.AddCommand(newRawCommand(ctx))

	return rootCmd
}
