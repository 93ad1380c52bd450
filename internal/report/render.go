package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

// Render writes records to w in format f. Records are rendered in the order given.
func Render(w io.Writer, f Format, records []domain.Record, opts Options) error {
	opts = opts.withDefaults()
	rows := Rows(records, f, opts)
	switch f {
	case CSV:
		return writeCSV(w, rows)
	case PDF:
		return writePDF(w, rows, opts)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
