// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/engine"
)

func newWatchCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var (
		output     string
		debounceMs int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-anchor annotations whenever the content page changes",
		Long: `Watch the content page and re-run anchoring each time it is saved. With
--output the highlighted page is rewritten after every pass.

Examples:
  arc-marginalia -c manifesto.html watch
  arc-marginalia -c manifesto.html watch -o annotated.html --debounce 250`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cfg, store, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			var mu sync.Mutex
			report := func(res engine.Result) {
				logger.Info("anchored",
					"anchored", len(res.Spans),
					"unanchored", len(res.Unanchored),
					"markers", len(res.Markers))
				if output == "" {
					return
				}
				if err := writeFileAtomic(output, func(f *os.File) error { return e.Render(f) }); err != nil {
					logger.Error("failed to write output", "path", output, "error", err)
				}
			}
			e.OnPass(report)
			report(e.Last())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", cfg.Content.Path)
			return watchFile(ctx, cfg.Content.Path, time.Duration(debounceMs)*time.Millisecond, logger, func() {
				doc, err := loadDocument(cfg)
				if err != nil {
					logger.Error("failed to reload content", "error", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if _, err := e.Rerender(doc); err != nil {
					logger.Error("pass failed", "error", err)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Rewrite this file with the highlighted page after each pass")
	cmd.Flags().IntVar(&debounceMs, "debounce", 300, "Debounce milliseconds for file events")

	return cmd
}

// watchFile calls fn after path is written, created or renamed into place,
// once events have been quiet for debounce. The directory is watched rather
// than the file so editors that save by replacing the file keep working.
func watchFile(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	logger.Debug("watching", "path", abs)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fn)
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
