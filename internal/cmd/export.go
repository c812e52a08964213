// Copyright (c) 2025 Arc Engineering
// SPDX-License-Identifier: MIT

package cmd

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/spf13/cobra"

	"github.com/mtreilly/arc-marginalia/internal/annotation"
	"github.com/mtreilly/arc-marginalia/internal/config"
	"github.com/mtreilly/arc-marginalia/internal/content"
	"github.com/mtreilly/arc-marginalia/internal/engine"
)

// exportRecord is one annotation with where it anchors, if known.
type exportRecord struct {
	annotation.Annotation `yaml:",inline"`
	Anchored              *bool `json:"anchored,omitempty" yaml:"anchored,omitempty"`
	Start                 *int  `json:"start,omitempty" yaml:"start,omitempty"`
	End                   *int  `json:"end,omitempty" yaml:"end,omitempty"`
}

func newExportCmd(cfg *config.Config, store annotation.Store, logger *slog.Logger) *cobra.Command {
	var (
		format string // "json", "yaml", "markdown"
		output string // file path or "-" for stdout
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export annotations to JSON, YAML, or Markdown",
		Long: `Export every annotation. With --content, records carry the span they anchor
to. The markdown format needs --content: it converts the page to Markdown
and appends the notes.

Examples:
  arc-marginalia export --format json
  arc-marginalia -c manifesto.html export --format yaml -o notes.yaml
  arc-marginalia -c manifesto.html export --format markdown`,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := store.List()
			if err != nil {
				return fmt.Errorf("list annotations: %w", err)
			}

			var e *engine.Engine
			if cfg.Content.Path != "" {
				e, err = openEngine(cfg, store, logger)
				if err != nil {
					return err
				}
				defer e.Close()
			}

			var outBytes []byte
			switch format {
			case "json", "yaml":
				var buf bytes.Buffer
				records := exportRecords(list, e)
				if format == "json" {
					err = writeJSON(&buf, records)
				} else {
					err = writeYAML(&buf, records)
				}
				outBytes = buf.Bytes()
			case "markdown", "md":
				if e == nil {
					return errNoContent
				}
				outBytes, err = exportMarkdown(e, list)
			default:
				return fmt.Errorf("unsupported format: %s (choose json, yaml, markdown)", format)
			}
			if err != nil {
				return fmt.Errorf("export %s: %w", format, err)
			}

			if output == "-" || output == "" {
				_, err := cmd.OutOrStdout().Write(outBytes)
				return err
			}
			return os.WriteFile(output, outBytes, 0o644)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format: json, yaml, markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file (default: stdout)")

	return cmd
}

func exportRecords(list []*annotation.Annotation, e *engine.Engine) []exportRecord {
	spans := map[string][2]int{}
	if e != nil {
		for _, s := range e.Last().Spans {
			spans[s.AnnotationID] = [2]int{s.Start, s.End}
		}
	}
	records := make([]exportRecord, 0, len(list))
	for _, a := range list {
		r := exportRecord{Annotation: *a}
		if e != nil {
			span, ok := spans[a.ID]
			r.Anchored = &ok
			if ok {
				r.Start, r.End = &span[0], &span[1]
			}
		}
		records = append(records, r)
	}
	return records
}

// exportMarkdown converts the annotated content container to Markdown and
// appends a numbered list of notes.
func exportMarkdown(e *engine.Engine, list []*annotation.Annotation) ([]byte, error) {
	page, err := content.RenderString(e.Root())
	if err != nil {
		return nil, err
	}
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(page)
	if err != nil {
		return nil, fmt.Errorf("convert page: %w", err)
	}

	anchored := map[string]bool{}
	for _, s := range e.Last().Spans {
		anchored[s.AnnotationID] = true
	}

	var buf bytes.Buffer
	buf.WriteString(strings.TrimSpace(md))
	buf.WriteString("\n\n## Notes\n\n")
	if len(list) == 0 {
		buf.WriteString("_No annotations._\n")
	}
	for i, a := range list {
		fmt.Fprintf(&buf, "%d. **%q**", i+1, a.SelectedText)
		if !anchored[a.ID] {
			buf.WriteString(" _(unanchored)_")
		}
		buf.WriteString("\n")
		for _, line := range strings.Split(a.Note, "\n") {
			fmt.Fprintf(&buf, "   > %s\n", line)
		}
	}
	return buf.Bytes(), nil
}
