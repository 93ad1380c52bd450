package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

var (
	columnWidths = []float64{50, 35, 35, 35, 35}
	columnAlign  = []string{"L", "R", "R", "R", "R"}
)

const (
	rowHeight    = 7
	headerHeight = 9
)

func writePDF(w io.Writer, rows [][]string, opts Options) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(opts.Title, true)
	pdf.SetCreator("meterflow", true)
	pdf.SetCreationDate(opts.Now())
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")

	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() == 1 {
			pdf.SetFont("Helvetica", "B", 16)
			pdf.SetTextColor(0, 0, 0)
			pdf.CellFormat(0, 10, opts.Title, "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 9)
			pdf.CellFormat(0, 6, fmt.Sprintf("%d records, generated %s", len(rows),
				opts.Now().In(opts.Location).Format(opts.DocumentTimeLayout)), "", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(41, 128, 185)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetDrawColor(200, 200, 200)
		for i, h := range Header {
			pdf.CellFormat(columnWidths[i], headerHeight, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	for n, row := range rows {
		fill := n%2 == 1
		pdf.SetFillColor(245, 245, 245)
		for i, cell := range row {
			pdf.CellFormat(columnWidths[i], rowHeight, cell, "1", 0, columnAlign[i], fill, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
