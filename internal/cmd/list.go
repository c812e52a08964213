// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/anchor"
	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/content"
)

func newAnnotateListCmd(cfg *config.Config, store annotation.Store) *cobra.Command {
	var out outputOptions
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List annotations",
		Long: `List every annotation in the order it was created.

With --content, a Status column shows whether each note still anchors.

Examples:
  arc-marginalia annotate list
  arc-marginalia annotate list -o json
  arc-marginalia -c manifesto.html annotate list --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := out.resolve(); err != nil {
				return err
			}

			list, err := store.List()
			if err != nil {
				return err
			}
			if limit > 0 && len(list) > limit {
				list = list[:limit]
			}

			w := cmd.OutOrStdout()
			if ok, err := out.structured(w, list); ok {
				return err
			}

			if len(list) == 0 {
				fmt.Fprintln(w, "No annotations yet.")
				fmt.Fprintln(w, "Use 'arc-marginalia annotate add <text> <note>' to add one.")
				return nil
			}

			var text string
			withStatus := cfg.Content.Path != ""
			if withStatus {
				doc, err := loadDocument(cfg)
				if err != nil {
					return err
				}
				text = content.PlainText(content.Container(doc))
			}

			headers := []string{"ID", "Selected", "Note", "Created"}
			if withStatus {
				headers = append(headers, "Status")
			}
			t := newTable(w, headers...)
			for _, a := range list {
				row := []string{
					shortID(a.ID),
					truncate(a.SelectedText, 30),
					truncate(a.Note, 40),
					humanize.Time(a.CreatedAt),
				}
				if withStatus {
					status := "unanchored"
					if _, ok := anchor.Resolve(a, text); ok {
						status = "anchored"
					}
					row = append(row, status)
				}
				t.addRow(row...)
			}
			if err := t.render(); err != nil {
				return err
			}

			fmt.Fprintf(w, "\nTotal: %d annotation(s)\n", len(list))
			return nil
		},
	}

	out.addFlags(cmd, outputTable)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Limit number of results")

	return cmd
}
