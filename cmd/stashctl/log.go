package main

import (
	"github.com/spf13/cobra"
)

func newLogCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Control the daemon's log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	simple := func(use, short, command string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				result, err := ctx.run(command, nil)
				if err != nil {
					return err
				}
				ctx.print(result)
				return nil
			},
		}
	}

	cmd.AddCommand(simple("flush", "Flush buffered log output to disk", "log flush"))
	cmd.AddCommand(simple("dump", "Write retained recent log lines to the log file", "log dump"))
	cmd.AddCommand(simple("reopen", "Close and reopen the log file", "log reopen"))

	return cmd
}
