// Package domain contains core business types and interfaces.
//
// This file defines the export formats of an 8D report and the download
// file names derived from the report date.
package domain

import (
	"strings"
)

// =============================================================================
// Report Format
// =============================================================================

// ReportFormat represents the output format of an export.
type ReportFormat string

const (
	// ReportFormatXLSX generates an Excel workbook.
	ReportFormatXLSX ReportFormat = "xlsx"

	// ReportFormatPDF generates a printable PDF document.
	ReportFormatPDF ReportFormat = "pdf"

	// ReportFormatJSON generates the backup snapshot.
	ReportFormatJSON ReportFormat = "json"
)

// String returns the string representation of the format.
func (f ReportFormat) String() string {
	return string(f)
}

// IsValid returns true if the format is a recognized value.
func (f ReportFormat) IsValid() bool {
	switch f {
	case ReportFormatXLSX, ReportFormatPDF, ReportFormatJSON:
		return true
	}
	return false
}

// ContentType returns the MIME content type for the format.
func (f ReportFormat) ContentType() string {
	switch f {
	case ReportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ReportFormatPDF:
		return "application/pdf"
	case ReportFormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// FileExtension returns the file extension for the format.
func (f ReportFormat) FileExtension() string {
	return string(f)
}

// =============================================================================
// File Names
// =============================================================================

// ExportFilename returns the download name of a document export, e.g.
// "8D_Report_March_03,_2025.xlsx". JSON exports use the backup name.
func ExportFilename(reportDate string, f ReportFormat) string {
	if f == ReportFormatJSON {
		return BackupFilename(reportDate)
	}
	return "8D_Report_" + dateSlug(reportDate) + "." + f.FileExtension()
}

// BackupFilename returns the download name of a JSON backup, e.g.
// "8D_Report_Backup_March_03,_2025.json".
func BackupFilename(reportDate string) string {
	return "8D_Report_Backup_" + dateSlug(reportDate) + ".json"
}

func dateSlug(reportDate string) string {
	return strings.ReplaceAll(reportDate, " ", "_")
}
