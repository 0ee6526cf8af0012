package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func newPerfCommand(ctx *cliContext) *cobra.Command {
	var group string
	var counter string

	cmd := &cobra.Command{
		Use:   "perf",
		Short: "Inspect daemon performance counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&group, "group", "", "Restrict to one counter group")
	cmd.PersistentFlags().StringVar(&counter, "counter", "", "Restrict to one counter")

	filter := func() map[string]string {
		args := map[string]string{}
		if group != "" {
			args["group"] = group
		}
		if counter != "" {
			args["counter"] = counter
		}
		return args
	}

	simple := func(use, short, command string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				result, err := ctx.run(command, filter())
				if err != nil {
					return err
				}
				ctx.print(result)
				return nil
			},
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Dump current counter values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("perf dump", filter())
			if err != nil {
				return err
			}
			if ctx.tabular() {
				var parsed struct {
					Counters map[string]map[string]int64 `json:"counters"`
				}
				if err := json.Unmarshal(result, &parsed); err == nil && len(parsed.Counters) > 0 {
					fmt.Println(renderTable([]string{"GROUP", "COUNTER", "VALUE"}, counterRows(parsed.Counters), 3))
					return nil
				}
			}
			ctx.print(result)
			return nil
		},
	})
	cmd.AddCommand(simple("schema", "Dump counter metadata", "perf schema"))

	histogram := &cobra.Command{
		Use:   "histogram",
		Short: "Inspect histogram counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	histogram.AddCommand(simple("dump", "Dump current histogram values", "perf histogram dump"))
	histogram.AddCommand(simple("schema", "Dump histogram metadata", "perf histogram schema"))
	cmd.AddCommand(histogram)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <group|all>",
		Short: "Reset a counter group, or all of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.run("perf reset", map[string]string{"var": args[0]})
			if err != nil {
				return err
			}
			ctx.print(result)
			return nil
		},
	})

	return cmd
}

func counterRows(counters map[string]map[string]int64) [][]string {
	groups := make([]string, 0, len(counters))
	for name := range counters {
		groups = append(groups, name)
	}
	sort.Strings(groups)

	var rows [][]string
	for _, group := range groups {
		names := make([]string, 0, len(counters[group]))
		for name := range counters[group] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rows = append(rows, []string{group, name, strconv.FormatInt(counters[group][name], 10)})
		}
	}
	return rows
}
