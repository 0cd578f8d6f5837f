package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/querydesk/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long:  "Starts the QueryDesk HTTP API. POST questions to /api/query-bot and poll /health for liveness.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
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

			return server.Start(ctx, server.Opts{
				Runner:      a.graph,
				Directory:   a.dir,
				AuthEnabled: a.cfg.Auth.Enabled,
				Port:        a.cfg.Server.Port,
				Workers:     a.cfg.Server.Workers,
				Out:         cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "querydesk.yaml", "path to config file")
	return cmd
}
