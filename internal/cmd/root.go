// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/content"
	"github.com/mtreilly/arc-marginalia/internal/engine"
)

// NewRootCmd creates the root command for arc-marginalia.
func NewRootCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	if logger == nil {
		logger = slog.Default()
	}

	root := &cobra.Command{
		Use:   "arc-marginalia",
		Short: "Anchor reader notes to the text of an HTML page",
		Long: `Attach notes to passages of an HTML page and keep them attached as the page changes.

arc-marginalia provides tools to:
- Add, edit, and remove notes on selected text
- Re-anchor notes after the page is edited
- Render the page with highlighted passages
- Export notes as JSON, YAML, or Markdown and import them back
- Serve the page with an interactive annotation layer`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&cfg.Content.Path, "content", "c", cfg.Content.Path, "HTML page to annotate")

	root.AddCommand(newAnnotateCmd(cfg, store, logger))
	root.AddCommand(newSearchCmd(cfg, store))
	root.AddCommand(newResolveCmd(cfg, store, logger))
	root.AddCommand(newRenderCmd(cfg, store, logger))
	root.AddCommand(newExportCmd(cfg, store, logger))
	root.AddCommand(newImportCmd(store))
	root.AddCommand(newStatsCmd(cfg, store, logger))
	root.AddCommand(newWatchCmd(cfg, store, logger))
	root.AddCommand(newServeCmd(cfg, store, logger))

	return root
}

var errNoContent = errors.New("no content page: pass --content or set content.path")

// loadDocument parses the configured content page.
func loadDocument(cfg *config.Config) (*html.Node, error) {
	if cfg.Content.Path == "" {
		return nil, errNoContent
	}
	f, err := os.Open(cfg.Content.Path)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	defer f.Close()
	doc, err := content.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse content %s: %w", cfg.Content.Path, err)
	}
	return doc, nil
}

// openEngine loads the content page and runs a first pass over it.
func openEngine(cfg *config.Config, store annotation.Store, logger *slog.Logger) (*engine.Engine, error) {
	doc, err := loadDocument(cfg)
	if err != nil {
		return nil, err
	}
	e := engine.New(doc, store, logger)
	if _, err := e.Pass(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// findAnnotation looks an annotation up by id or by a unique leading or
// trailing part of it.
func findAnnotation(store annotation.Store, ref string) (*annotation.Annotation, error) {
	if ref == "" {
		return nil, errors.New("empty annotation id")
	}
	a, err := store.Get(ref)
	if err != nil || a != nil {
		return a, err
	}
	list, err := store.List()
	if err != nil {
		return nil, err
	}
	var matches []*annotation.Annotation
	for _, a := range list {
		if strings.HasPrefix(a.ID, ref) || strings.HasSuffix(a.ID, ref) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("annotation %s: %w", ref, annotation.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("annotation id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
