package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"feed_relay/internal/registry"
)

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change process-wide settings",
	}
	cmd.AddCommand(a.settingsShowCmd(), a.settingsSetCmd())
	return cmd
}

func (a *app) settingsShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.reg.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range registry.SettingNames() {
				v := registry.SettingValue(s, name)
				if name == registry.SettingDeepLKey && v != "" && !reveal {
					v = "********"
				}
				fmt.Fprintf(a.out, "%s=%s\n", name, v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the DeepL key in clear")
	return cmd
}

func (a *app) settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Change one setting",
		Long: `Change one setting. Omit the value to clear a text setting.
A running relay picks the change up before its next pass.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			}
			s, err := a.reg.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			if err := registry.ParseSetting(&s, args[0], value); err != nil {
				return err
			}
			if err := a.reg.SaveSettings(cmd.Context(), s); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s=%s\n", args[0], registry.SettingValue(s.Normalize(), args[0]))
			return nil
		},
	}
}
