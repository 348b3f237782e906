package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status endpoints without the MCP transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Status.Listen = listen
			}
			if cfg.Status.Listen == "" {
				return errors.New("no listen address: set status.listen or pass --listen")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.startBackground(ctx); err != nil {
				return err
			}

			return server.New(cfg.Status.Listen, rt.gov, rt.registry, version, logger).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides status.listen)")
	return cmd
}
