// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
)

func newResolveCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var out outputOptions

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show where each annotation anchors in the content page",
		Long: `Resolve every annotation against the current content page and print the
plain-text span it lands on. Annotations whose text is gone are reported as
unanchored; they stay stored and anchor again once the text returns.

Examples:
  arc-marginalia -c manifesto.html resolve
  arc-marginalia -c manifesto.html resolve -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := out.resolve(); err != nil {
				return err
			}
			e, err := openEngine(cfg, store, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			res := e.Last()
			w := cmd.OutOrStdout()
			if ok, err := out.structured(w, res); ok {
				return err
			}

			text := e.Text()
			if len(res.Spans) > 0 {
				t := newTable(w, "ID", "Start", "End", "Text")
				for _, s := range res.Spans {
					t.addRow(shortID(s.AnnotationID), fmt.Sprint(s.Start), fmt.Sprint(s.End), truncate(text[s.Start:s.End], 40))
				}
				if err := t.render(); err != nil {
					return err
				}
			}
			if len(res.Unanchored) > 0 {
				fmt.Fprintln(w)
				heading(w, "Unanchored (%d)", len(res.Unanchored))
				for _, id := range res.Unanchored {
					fmt.Fprintf(w, "  %s\n", shortID(id))
				}
			}
			fmt.Fprintf(w, "\n%d anchored, %d unanchored, %d marker(s)\n", len(res.Spans), len(res.Unanchored), len(res.Markers))
			return nil
		},
	}

	out.addFlags(cmd, outputTable)
	return cmd
}

func newRenderCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the content page with annotations highlighted",
		Long: `Render the content page with every anchored annotation wrapped in a
<mark data-annotation-ids="..."> element.

Examples:
  arc-marginalia -c manifesto.html render > annotated.html
  arc-marginalia -c manifesto.html render -o annotated.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cfg, store, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			if output == "" || output == "-" {
				return e.Render(cmd.OutOrStdout())
			}
			return writeFileAtomic(output, func(f *os.File) error { return e.Render(f) })
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file (default: stdout)")
	return cmd
}

// writeFileAtomic writes path through a temporary file in the same
// directory and renames it into place.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
