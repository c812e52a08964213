// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
)

type stats struct {
	Annotations   int        `json:"annotations" yaml:"annotations"`
	Anchored      *int       `json:"anchored,omitempty" yaml:"anchored,omitempty"`
	Unanchored    *int       `json:"unanchored,omitempty" yaml:"unanchored,omitempty"`
	Markers       *int       `json:"markers,omitempty" yaml:"markers,omitempty"`
	SharedMarkers *int       `json:"shared_markers,omitempty" yaml:"shared_markers,omitempty"`
	AvgNoteLength float64    `json:"avg_note_length" yaml:"avg_note_length"`
	Oldest        *time.Time `json:"oldest,omitempty" yaml:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty" yaml:"newest,omitempty"`
}

func newStatsCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var out outputOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show annotation statistics",
		Long: `Display counts of annotations and, with --content, how many anchor and how
many markers they share.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := out.resolve(); err != nil {
				return err
			}

			list, err := store.List()
			if err != nil {
				return err
			}

			s := stats{Annotations: len(list)}
			noteChars := 0
			for _, a := range list {
				noteChars += utf8.RuneCountInString(a.Note)
				if s.Oldest == nil || a.CreatedAt.Before(*s.Oldest) {
					t := a.CreatedAt
					s.Oldest = &t
				}
				if s.Newest == nil || a.CreatedAt.After(*s.Newest) {
					t := a.CreatedAt
					s.Newest = &t
				}
			}
			if len(list) > 0 {
				s.AvgNoteLength = float64(noteChars) / float64(len(list))
			}

			if cfg.Content.Path != "" {
				e, err := openEngine(cfg, store, logger)
				if err != nil {
					return err
				}
				defer e.Close()
				res := e.Last()
				anchored, unanchored, markers := len(res.Spans), len(res.Unanchored), len(res.Markers)
				shared := 0
				for _, m := range res.Markers {
					if len(m.IDs) > 1 {
						shared++
					}
				}
				s.Anchored, s.Unanchored, s.Markers, s.SharedMarkers = &anchored, &unanchored, &markers, &shared
			}

			w := cmd.OutOrStdout()
			if ok, err := out.structured(w, s); ok {
				return err
			}

			heading(w, "Annotation Statistics")
			fmt.Fprintf(w, "=====================\n\n")
			fmt.Fprintf(w, "Annotations:   %d\n", s.Annotations)
			if s.Anchored != nil {
				fmt.Fprintf(w, "Anchored:      %d\n", *s.Anchored)
				fmt.Fprintf(w, "Unanchored:    %d\n", *s.Unanchored)
				fmt.Fprintf(w, "Markers:       %d (%d shared)\n", *s.Markers, *s.SharedMarkers)
			}
			fmt.Fprintf(w, "Avg note:      %.1f characters\n", s.AvgNoteLength)
			if s.Oldest != nil {
				fmt.Fprintf(w, "Oldest:        %s\n", humanize.Time(*s.Oldest))
				fmt.Fprintf(w, "Newest:        %s\n", humanize.Time(*s.Newest))
			}
			return nil
		},
	}

	out.addFlags(cmd, outputTable)
	return cmd
}
