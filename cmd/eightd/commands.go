package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/DukeRupert/eightd/internal/i18n"
	"github.com/DukeRupert/eightd/internal/report"
	"github.com/DukeRupert/eightd/internal/snapshot"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// stdoutPath selects standard output instead of a file.
const stdoutPath = "-"

// =============================================================================
// new
// =============================================================================

func (c *cli) newCmd() *cobra.Command {
	var lang, out string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Write a blank report backup",
		Long: `Writes the backup of a new report: today's date, empty answers and one
blank entry in each why chain.

Example:
  eightd new --lang en --out report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			labels, err := i18n.Lookup(lang)
			if err != nil {
				return errors.New(domain.ErrorMessage(err))
			}

			state := domain.NewReportState(labels.Language, c.now())
			data, err := snapshot.Encode(state)
			if err != nil {
				return err
			}

			if out == "" {
				out = domain.BackupFilename(state.ReportDate)
			}
			return c.write(cmd, out, data)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", domain.DefaultLanguage, "report language")
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file ("-" for stdout)`)
	return cmd
}

// =============================================================================
// export
// =============================================================================

func (c *cli) exportCmd() *cobra.Command {
	var (
		backup, format, out, logoPath, lang string
		logoWidth, logoHeight               int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render a report backup as XLSX, PDF or JSON",
		Long: `Renders a backup file with the same generators the server uses.

A missing or unreadable logo is skipped with a warning; it never fails the
export.

Example:
  eightd export --backup report.json --format pdf --logo logo.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := domain.ReportFormat(strings.ToLower(strings.TrimSpace(format)))
			if !f.IsValid() {
				return fmt.Errorf("unsupported format %q (use xlsx, pdf or json)", format)
			}

			state, err := c.loadBackup(backup)
			if err != nil {
				return err
			}
			if lang == "" {
				lang = state.Language
			}
			labels, err := i18n.Lookup(lang)
			if err != nil {
				return errors.New(domain.ErrorMessage(err))
			}

			var data []byte
			if f == domain.ReportFormatJSON {
				data, err = snapshot.Encode(state)
			} else {
				data, err = c.render(cmd, f, state, labels, report.NewLogoLoader(logoPath, logoWidth, logoHeight, nil))
			}
			if err != nil {
				return err
			}

			if out == "" {
				out = domain.ExportFilename(state.ReportDate, f)
			}
			return c.write(cmd, out, data)
		},
	}
	cmd.Flags().StringVarP(&backup, "backup", "b", "", "backup file to render")
	cmd.Flags().StringVarP(&format, "format", "f", string(domain.ReportFormatXLSX), "output format (xlsx, pdf, json)")
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file ("-" for stdout)`)
	cmd.Flags().StringVar(&logoPath, "logo", "", "logo image file or http(s) URL")
	cmd.Flags().IntVar(&logoWidth, "logo-max-width", report.DefaultLogoMaxWidth, "maximum logo width in pixels")
	cmd.Flags().IntVar(&logoHeight, "logo-max-height", report.DefaultLogoMaxHeight, "maximum logo height in pixels")
	cmd.Flags().StringVar(&lang, "lang", "", "label language (defaults to the report language)")
	cmd.MarkFlagRequired("backup")
	return cmd
}

func (c *cli) render(cmd *cobra.Command, f domain.ReportFormat, state *domain.ReportState, labels *i18n.Labels, loader *report.LogoLoader) ([]byte, error) {
	var gen report.Generator
	switch f {
	case domain.ReportFormatXLSX:
		gen = report.NewXLSXGenerator(c.logger)
	case domain.ReportFormatPDF:
		gen = report.NewPDFGenerator()
	default:
		return nil, fmt.Errorf("no generator for format %q", f)
	}

	var logo *report.Logo
	if logoSet(cmd) {
		l, err := loader.Load(cmd.Context())
		if err != nil {
			c.logger.Warn("skipping logo", "error", err)
		} else {
			logo = l
		}
	}

	var buf bytes.Buffer
	if _, err := gen.Generate(cmd.Context(), report.NewData(state, labels, logo, c.now()), &buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

func logoSet(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetString("logo")
	return strings.TrimSpace(v) != ""
}

// =============================================================================
// restore
// =============================================================================

func (c *cli) restoreCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "restore <base.json> <backup.json>",
		Short: "Merge a backup into another backup",
		Long: `Applies backup.json on top of base.json the way the server restores a
backup into a session: keys present in the backup replace the base value,
absent keys keep it, unknown keys are ignored.

The merged backup overwrites base.json unless --out is given. Nothing is
written when the backup is invalid.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := c.loadBackup(args[0])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			if err := snapshot.Decode(data, state); err != nil {
				return err
			}
			if _, err := i18n.Lookup(state.Language); err != nil {
				return errors.New(domain.ErrorMessage(err))
			}

			merged, err := snapshot.Encode(state)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0]
			}
			return c.write(cmd, out, merged)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file ("-" for stdout, default base.json)`)
	return cmd
}

// =============================================================================
// labels
// =============================================================================

func (c *cli) labelsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "labels [language]",
		Short: "Print the label table of a language",
		Long: `Prints the labels used by the exports. Without a language the supported
language codes are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := i18n.Default()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				for _, code := range table.Supported() {
					fmt.Fprintln(cmd.OutOrStdout(), code)
				}
				return nil
			}

			labels, err := table.Lookup(args[0])
			if err != nil {
				return errors.New(domain.ErrorMessage(err))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(labels)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(labels); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}

// =============================================================================
// Helpers
// =============================================================================

// loadBackup reads a backup file into a fresh default report.
func (c *cli) loadBackup(path string) (*domain.ReportState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}

	state := domain.NewReportState(domain.DefaultLanguage, c.now())
	if err := snapshot.Decode(data, state); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return state, nil
}

func (c *cli) write(cmd *cobra.Command, path string, data []byte) error {
	if path == stdoutPath {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.logger.Info("wrote file", "path", path, "bytes", len(data))
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d bytes)\n", path, len(data))
	return nil
}
