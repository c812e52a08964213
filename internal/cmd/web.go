// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/server"
)

func newServeCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the content page with an interactive annotation layer",
		Long: `Serve the highlighted content page. Selecting text opens a note editor;
hovering a highlight previews its notes and clicking it opens a panel to
edit or remove them. A JSON API is served under /api.

Examples:
  arc-marginalia -c manifesto.html serve
  arc-marginalia -c manifesto.html serve --addr 0.0.0.0:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cfg, store, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			srv := server.New(e, store, cfg.Anchor.ContextLength, cfg.Anchor.MinSelection, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Starting arc-marginalia on http://%s\n", addr)
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", cfg.Server.Addr, "Address to listen on")

	return cmd
}
