package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/backchannel/internal/config"
	"github.com/zulandar/backchannel/internal/db"
	"github.com/zulandar/backchannel/internal/room"
)

func newRoomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Room inspection commands",
	}

	cmd.AddCommand(newRoomsListCmd())
	return cmd
}

func newRoomsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open rooms",
		Long:  "Lists every open room with its codename and staff channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoomsList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backchannel.yaml", "path to config file")
	return cmd
}

func runRoomsList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	rooms, err := room.NewStore(gormDB).All()
	if err != nil {
		return err
	}

	if len(rooms) == 0 {
		fmt.Fprintln(out, "No open rooms.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODENAME\tCHANNEL\tOPENED")
	for _, r := range rooms {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.RoomID, r.Codename, r.ChannelID,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
