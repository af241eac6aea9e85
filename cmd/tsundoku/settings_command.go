package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tsundoku/internal/tracker"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the automation toggles",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readOnly, func(tr *tracker.Tracker) error {
				return printSettings(ctx, cmd, tr.Settings())
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <name> <on|off>",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, readWrite, func(tr *tracker.Tracker) error {
				settings, err := tr.SetSetting(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printSettings(ctx, cmd, settings)
			})
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}

func printSettings(ctx *commandContext, cmd *cobra.Command, settings tracker.Settings) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, settings)
	}
	values := settings.Values()
	pairs := make([][2]string, 0, len(values))
	for _, name := range tracker.SettingNames() {
		pairs = append(pairs, [2]string{name, yesNo(values[name])})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(pairs))
	return nil
}
