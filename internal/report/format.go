// Package report turns telemetry records into downloadable documents.
package report

import (
	"fmt"
	"strings"
)

// Format is the output document type.
type Format string

const (
	CSV Format = "csv"
	PDF Format = "pdf"
)

// ParseFormat accepts "csv" or "pdf" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, PDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string { return string(f) }

// ContentType returns the MIME type of the rendered document.
func (f Format) ContentType() string {
	switch f {
	case PDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}
