// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
)

func newSearchCmd(cfg *config.Config, store annotation.Store) *cobra.Command {
	var out outputOptions
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search annotations",
		Long: `Search annotation notes and selected text, ignoring case.

Examples:
  arc-marginalia search "agents"
  arc-marginalia search "who" --limit 5 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := out.resolve(); err != nil {
				return err
			}

			query := args[0]
			list, err := store.List()
			if err != nil {
				return err
			}
			matches := searchAnnotations(list, query)
			if limit > 0 && len(matches) > limit {
				matches = matches[:limit]
			}

			w := cmd.OutOrStdout()
			if ok, err := out.structured(w, matches); ok {
				return err
			}

			if len(matches) == 0 {
				fmt.Fprintf(w, "No annotations found matching %q\n", query)
				return nil
			}

			fmt.Fprintf(w, "Found %d result(s) for %q:\n\n", len(matches), query)
			t := newTable(w, "ID", "Selected", "Note", "Created")
			for _, a := range matches {
				t.addRow(shortID(a.ID), truncate(a.SelectedText, 30), truncate(a.Note, 45), humanize.Time(a.CreatedAt))
			}
			return t.render()
		},
	}

	out.addFlags(cmd, outputTable)
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Limit number of results")

	return cmd
}

func searchAnnotations(list []*annotation.Annotation, query string) []*annotation.Annotation {
	q := strings.ToLower(query)
	out := []*annotation.Annotation{}
	for _, a := range list {
		if strings.Contains(strings.ToLower(a.Note), q) || strings.Contains(strings.ToLower(a.SelectedText), q) {
			out = append(out, a)
		}
	}
	return out
}
