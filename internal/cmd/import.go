// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
)

func newImportCmd(store annotation.Store) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import annotations from an export file",
		Long: `Import annotations written by 'export --format json' or '--format yaml'.

Each record becomes a new annotation. Records whose selection, context and
note match an existing annotation are skipped, so importing the same file
twice is harmless.

Examples:
  arc-marginalia import notes.json
  arc-marginalia import ~/backup/notes.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if strings.HasPrefix(path, "~") {
				home, _ := os.UserHomeDir()
				path = filepath.Join(home, path[1:])
			}

			drafts, err := readImportFile(path)
			if err != nil {
				return err
			}

			existing, err := store.List()
			if err != nil {
				return fmt.Errorf("list annotations: %w", err)
			}
			seen := make(map[string]bool, len(existing))
			for _, a := range existing {
				seen[draftKey(annotation.Draft{
					SelectedText: a.SelectedText,
					Note:         a.Note,
					Prefix:       a.Prefix,
					Suffix:       a.Suffix,
				})] = true
			}

			w := cmd.OutOrStdout()
			imported, skipped := 0, 0
			for _, d := range drafts {
				key := draftKey(d)
				if seen[key] {
					skipped++
					continue
				}
				seen[key] = true

				if dryRun {
					fmt.Fprintf(w, "Would import: %q\n", truncate(d.SelectedText, 50))
					imported++
					continue
				}
				a, err := store.Create(d)
				if err != nil {
					fmt.Fprintf(w, "  Warning: could not import %q: %v\n", truncate(d.SelectedText, 50), err)
					continue
				}
				fmt.Fprintf(w, "Imported: %s - %s\n", shortID(a.ID), truncate(a.SelectedText, 50))
				imported++
			}

			fmt.Fprintf(w, "\nImported %d annotation(s), skipped %d already present.\n", imported, skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be imported without saving")

	return cmd
}

// importRecord accepts both export field spellings: JSON uses camelCase,
// YAML uses snake_case.
type importRecord struct {
	SelectedText string `json:"selectedText" yaml:"selected_text"`
	Note         string `json:"note" yaml:"note"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Suffix       string `json:"suffix" yaml:"suffix"`
}

func readImportFile(path string) ([]annotation.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var records []importRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	default:
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	drafts := make([]annotation.Draft, 0, len(records))
	for _, r := range records {
		drafts = append(drafts, annotation.Draft(r))
	}
	return drafts, nil
}

func draftKey(d annotation.Draft) string {
	return strings.Join([]string{d.SelectedText, d.Prefix, d.Suffix, strings.TrimSpace(d.Note)}, "\x00")
}
