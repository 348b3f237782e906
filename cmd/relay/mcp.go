package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/relay/pkg/mcp"
	"github.com/pario-ai/relay/pkg/server"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var statusListen string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run relay as an MCP server on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if statusListen != "" {
				cfg.Status.Listen = statusListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			rt, err := newRuntime(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			srv, err := mcp.New(rt.gov, rt.completer, rt.pricing, logger, version)
			if err != nil {
				return fmt.Errorf("init mcp server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.startBackground(ctx); err != nil {
				return err
			}

			if cfg.Status.Listen != "" {
				status := server.New(cfg.Status.Listen, rt.gov, rt.registry, version, logger)
				go func() {
					if err := status.ListenAndServe(ctx); err != nil {
						logger.Error("status server stopped", slog.Any("error", err))
					}
				}()
			}

			logger.Info("mcp server started", slog.String("version", version))
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&statusListen, "status-listen", "", "also serve /health, /status and /metrics on this address")
	return cmd
}
