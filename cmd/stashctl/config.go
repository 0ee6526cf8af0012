package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change daemon configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective value of every option",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("config show", nil)
			if err != nil {
				return err
			}
			if ctx.tabular() {
				var parsed struct {
					Config map[string]string `json:"config"`
				}
				if err := json.Unmarshal(result, &parsed); err == nil && parsed.Config != nil {
					fmt.Println(renderTable([]string{"OPTION", "VALUE"}, sortedRows(parsed.Config)))
					return nil
				}
			}
			ctx.print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <option>",
		Short: "Get one option's effective value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("config get", map[string]string{"var": args[0]})
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <option> <value>",
		Short: "Set an option at runtime",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("config set", map[string]string{"var": args[0], "val": args[1]})
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <option>",
		Short: "Revert an option to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("config unset", map[string]string{"var": args[0]})
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff",
		Short: "Show options changed from their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("config diff", nil)
			if err != nil {
				return err
			}
			if ctx.tabular() {
				var parsed struct {
					Diff map[string]struct {
						Default string `json:"default"`
						Current string `json:"current"`
					} `json:"diff"`
				}
				if err := json.Unmarshal(result, &parsed); err == nil && parsed.Diff != nil {
					names := make([]string, 0, len(parsed.Diff))
					for name := range parsed.Diff {
						names = append(names, name)
					}
					sort.Strings(names)
					rows := make([][]string, 0, len(names))
					for _, name := range names {
						entry := parsed.Diff[name]
						rows = append(rows, []string{name, entry.Default, entry.Current})
					}
					fmt.Println(renderTable([]string{"OPTION", "DEFAULT", "CURRENT"}, rows))
					return nil
				}
			}
			ctx.print(result)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "help [option]",
		Short: "Describe configuration options",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{}
			if len(args) == 1 {
				params["var"] = args[0]
			}
			result, err := ctx.run("config help", params)
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	})

	return cmd
}

func sortedRows(m map[string]string) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, m[k]})
	}
	return rows
}
