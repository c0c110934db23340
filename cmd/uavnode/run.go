package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/uavbus/internal/observability"
	"github.com/danmuck/uavbus/internal/status"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node on an in-memory loopback bus until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		observability.InitLogger("uavnode", cfg.Name)

		d, err := newDemo(cfg)
		if err != nil {
			return err
		}
		srv := status.New(cfg.Name, cfg.StatusAddr, cfg.CorsOrigins, d.local, d.local.DataTypes())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		nodeErr := make(chan error, 1)
		statusErr := make(chan error, 1)
		go func() { nodeErr <- d.run(ctx) }()
		go func() { statusErr <- srv.Serve(ctx) }()

		select {
		case err = <-nodeErr:
		case err = <-statusErr:
		case <-ctx.Done():
		}
		stop()
		log.Info().Err(err).Msg("uavnode.run shutdown")
		return err
	},
}
