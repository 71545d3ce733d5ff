package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/backchannel/internal/codename"
	"github.com/zulandar/backchannel/internal/config"
	"github.com/zulandar/backchannel/internal/dashboard"
	"github.com/zulandar/backchannel/internal/db"
	"github.com/zulandar/backchannel/internal/relay"
	discordadapter "github.com/zulandar/backchannel/internal/relay/discord"
	slackadapter "github.com/zulandar/backchannel/internal/relay/slack"
	"github.com/zulandar/backchannel/internal/room"
	"github.com/zulandar/backchannel/internal/settings"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay daemon",
		Long:  "Connects to the configured chat platform and relays messages between users and staff rooms until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backchannel.yaml", "path to config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	roomStore := room.NewStore(gormDB)
	settingsStore := settings.NewStore(gormDB)
	gen := codename.New(roomStore.CodenameExists)

	daemon, err := relay.NewDaemon(relay.DaemonOpts{
		Rooms:    roomStore,
		Settings: settingsStore,
		Codename: gen,
		Adapter:  adapter,
		Digest:   cfg.Digest,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:   gormDB,
				Port: cfg.Dashboard.Port,
				Out:  out,
			}); err != nil {
				log.Printf("dashboard: %v", err)
			}
		}()
	}

	fmt.Fprintf(out, "Backchannel serving on %s\n", cfg.Platform)
	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (relay.Adapter, error) {
	switch cfg.Platform {
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Discord.Token,
			AppID:    cfg.Discord.AppID,
			GuildID:  cfg.Discord.GuildID,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
