// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/capture"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/content"
)

func newAnnotateCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "annotate",
		Aliases: []string{"ann", "note"},
		Short:   "Manage annotations",
		Long:    `Add, list, edit, and remove notes attached to passages of the content page.`,
	}

	cmd.AddCommand(newAnnotateAddCmd(cfg, store, logger))
	cmd.AddCommand(newAnnotateListCmd(cfg, store))
	cmd.AddCommand(newAnnotateEditCmd(store))
	cmd.AddCommand(newAnnotateDeleteCmd(store))
	cmd.AddCommand(newAnnotateClearCmd(store))

	return cmd
}

func newAnnotateAddCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var occurrence int

	cmd := &cobra.Command{
		Use:   "add <text> <note>",
		Short: "Annotate a passage of the content page",
		Long: `Select a passage of the content page by its text and attach a note to it.
The passage is matched against the page's visible text; use --occurrence
when it appears more than once.

Examples:
  arc-marginalia -c manifesto.html annotate add "grown by agents" "Says who?"
  arc-marginalia -c manifesto.html annotate add "agents" "The second one" --occurrence 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, note := args[0], args[1]

			doc, err := loadDocument(cfg)
			if err != nil {
				return err
			}
			root := content.Container(doc)
			text := content.PlainText(root)

			start, err := nthIndex(text, selected, occurrence)
			if err != nil {
				return err
			}

			c := capture.New(func() *html.Node { return root }, store, cfg.Anchor.ContextLength, cfg.Anchor.MinSelection, logger)
			p, err := c.SelectRange(text, start, start+len(selected))
			if errors.Is(err, capture.ErrSelectionTooShort) {
				return fmt.Errorf("selection must be at least %d characters", max(cfg.Anchor.MinSelection, annotation.MinSelectedText))
			}
			if err != nil {
				return err
			}
			c.Open(p)
			c.SetInput(note)
			a, err := c.Save()
			if errors.Is(err, capture.ErrEmptyNote) {
				return errors.New("note is empty")
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Added note %s on %q", shortID(a.ID), truncate(a.SelectedText, 40))
			if span, ok := anchor.Resolve(a, text); ok {
				fmt.Fprintf(out, " (offset %d-%d)", span.Start, span.End)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&occurrence, "occurrence", "n", 1, "Which occurrence of the text to annotate (1-based)")

	return cmd
}

// nthIndex returns the byte offset of the n-th (1-based) occurrence of sub.
func nthIndex(text, sub string, n int) (int, error) {
	if n < 1 {
		return 0, fmt.Errorf("occurrence must be at least 1")
	}
	if strings.TrimSpace(sub) == "" {
		return 0, errors.New("text to annotate is empty")
	}
	from := 0
	for i := 1; ; i++ {
		j := strings.Index(text[from:], sub)
		if j < 0 {
			if i == 1 {
				return 0, fmt.Errorf("text %q not found in content", truncate(sub, 40))
			}
			return 0, fmt.Errorf("text %q occurs only %d time(s)", truncate(sub, 40), i-1)
		}
		if i == n {
			return from + j, nil
		}
		from += j + 1
	}
}

func newAnnotateEditCmd(store annotation.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <annotation-id> <note>",
		Short: "Replace the note of an annotation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := findAnnotation(store, args[0])
			if err != nil {
				return err
			}
			if err := store.Update(a.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated note %s.\n", shortID(a.ID))
			return nil
		},
	}
}

func newAnnotateDeleteCmd(store annotation.Store) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <annotation-id>",
		Aliases: []string{"rm"},
		Short:   "Delete an annotation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := findAnnotation(store, args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(a.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Annotation deleted.")
			return nil
		},
	}
}

func newAnnotateClearCmd(store annotation.Store) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every annotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to delete every annotation without --force")
			}
			list, err := store.List()
			if err != nil {
				return err
			}
			if err := store.ClearAll(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d annotation(s).\n", len(list))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Confirm deleting every annotation")

	return cmd
}
