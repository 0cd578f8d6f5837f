package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/querydesk/internal/relay"
	"github.com/zulandar/querydesk/internal/relay/discord"
	"github.com/zulandar/querydesk/internal/relay/slack"
)

func newRelayCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the chat relay daemon",
		Long: "Connects to the chat platforms configured under relay: and answers " +
			"questions in-thread. At least one platform must be configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}

			var adapters []relay.Adapter
			if a.cfg.Relay.Slack.AppToken != "" && a.cfg.Relay.Slack.BotToken != "" {
				sl, err := slack.New(slack.AdapterOpts{
					AppToken: a.cfg.Relay.Slack.AppToken,
					BotToken: a.cfg.Relay.Slack.BotToken,
				})
				if err != nil {
					return err
				}
				adapters = append(adapters, sl)
			}
			if a.cfg.Relay.Discord.Token != "" {
				dc, err := discord.New(discord.AdapterOpts{
					BotToken:  a.cfg.Relay.Discord.Token,
					ChannelID: a.cfg.Relay.Discord.ChannelID,
				})
				if err != nil {
					return err
				}
				adapters = append(adapters, dc)
			}
			if len(adapters) == 0 {
				return fmt.Errorf("no relay platforms configured; set relay.slack or relay.discord in %s", configPath)
			}

			daemon, err := relay.NewDaemon(relay.Opts{
				Runner:      a.graph,
				Directory:   a.dir,
				AuthEnabled: a.cfg.Auth.Enabled,
				Adapters:    adapters,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			a.startCleaner(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "QueryDesk relay running with %d adapter(s)\n", len(adapters))
			return daemon.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "querydesk.yaml", "path to config file")
	return cmd
}
