package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/backchannel/internal/config"
	"github.com/zulandar/backchannel/internal/db"
	"github.com/zulandar/backchannel/internal/settings"
)

// settingKeys are the keys the CLI accepts. Everything else is a typo.
var settingKeys = map[string]bool{
	settings.KeyBlockRole: true,
	settings.KeyInbox:     true,
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Relay settings commands",
	}

	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsUnsetCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Show relay settings",
		Long:  "Shows the value of one setting, or all settings when no key is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return runSettingsGet(cmd, configPath, key)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backchannel.yaml", "path to config file")
	return cmd
}

func runSettingsGet(cmd *cobra.Command, configPath, key string) error {
	out := cmd.OutOrStdout()

	store, err := openSettings(configPath)
	if err != nil {
		return err
	}

	keys := []string{settings.KeyBlockRole, settings.KeyInbox}
	if key != "" {
		if !settingKeys[key] {
			return fmt.Errorf("unknown setting %q", key)
		}
		keys = []string{key}
	}

	for _, k := range keys {
		value, ok, err := store.Get(k)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s: (unset)\n", k)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", k, value)
	}
	return nil
}

func newSettingsSetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a relay setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsSet(cmd, configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backchannel.yaml", "path to config file")
	return cmd
}

func runSettingsSet(cmd *cobra.Command, configPath, key, value string) error {
	if !settingKeys[key] {
		return fmt.Errorf("unknown setting %q", key)
	}

	store, err := openSettings(configPath)
	if err != nil {
		return err
	}

	if err := store.Set(key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s to %s\n", key, value)
	return nil
}

func newSettingsUnsetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Clear a relay setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsUnset(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backchannel.yaml", "path to config file")
	return cmd
}

func runSettingsUnset(cmd *cobra.Command, configPath, key string) error {
	if !settingKeys[key] {
		return fmt.Errorf("unknown setting %q", key)
	}

	store, err := openSettings(configPath)
	if err != nil {
		return err
	}

	if err := store.Unset(key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", key)
	return nil
}

func openSettings(configPath string) (*settings.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return settings.NewStore(gormDB), nil
}
