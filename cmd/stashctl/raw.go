package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// newRawCommand sends an arbitrary command string with key=value arguments,
// for commands registered by subsystems the CLI has no dedicated verb for.
func newRawCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <command> [key=value ...]",
		Short: "Send a raw admin command to the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0]
			params := map[string]string{}
			for _, arg := range args[1:] {
				key, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("argument %q is not key=value", arg)
				}
				params[key] = value
			}
			result, err := ctx.run(command, params)
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	}
}

func newHelpCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the daemon's registered admin commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("help", nil)
			if err != nil {
				return err
			}
			if ctx.tabular() {
				var parsed struct {
					Commands []struct {
						Name        string `json:"name"`
						Description string `json:"description"`
					} `json:"commands"`
				}
				if err := json.Unmarshal(result, &parsed); err == nil && len(parsed.Commands) > 0 {
					sort.Slice(parsed.Commands, func(i, j int) bool {
						return parsed.Commands[i].Name < parsed.Commands[j].Name
					})
					rows := make([][]string, 0, len(parsed.Commands))
					for _, c := range parsed.Commands {
						rows = append(rows, []string{c.Name, c.Description})
					}
					fmt.Println(renderTable([]string{"COMMAND", "DESCRIPTION"}, rows))
					return nil
				}
			}
			ctx.print(result)
			return nil
		},
	}
}

func newStatusCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the daemon's runtime status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("status", nil)
			if err != nil {
				return err
			}
			if ctx.tabular() {
				var parsed map[string]any
				if err := json.Unmarshal(result, &parsed); err == nil && len(parsed) > 0 {
					names := make([]string, 0, len(parsed))
					for name := range parsed {
						names = append(names, name)
					}
					sort.Strings(names)
					rows := make([][]string, 0, len(names))
					for _, name := range names {
						rows = append(rows, []string{name, fmt.Sprint(parsed[name])})
					}
					fmt.Println(renderTable([]string{"FIELD", "VALUE"}, rows))
					return nil
				}
			}
			ctx.print(result)
			return nil
		},
	}
}

func newVersionCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Report the daemon's module and instance id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("version", nil)
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	}
}
