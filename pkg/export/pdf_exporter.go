package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// Table is one titled grid in a PDF document.
type Table struct {
	Heading string
	Headers []string
	Rows    [][]string
	// Widths in millimetres; when empty the page width is split evenly.
	Widths []float64
}

// Document is a landscape report made of stacked tables.
type Document struct {
	Title    string
	Subtitle string
	Tables   []Table
}

// PDFExporter renders documents with gofpdf.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

const pageWidth = 277.0

// Render lays out every table in order, repeating the header row after page breaks.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("pdf requires at least one table")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, tr(doc.Title), "", 1, "C", false, 0, "")
	}
	if doc.Subtitle != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, tr(doc.Subtitle), "", 1, "C", false, 0, "")
	}
	pdf.Ln(3)

	for _, table := range doc.Tables {
		if len(table.Headers) == 0 {
			return nil, fmt.Errorf("table %q has no headers", table.Heading)
		}
		widths := columnWidths(table)
		if table.Heading != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, tr(table.Heading), "", 1, "L", false, 0, "")
		}
		header := func() {
			pdf.SetFont("Arial", "B", 9)
			pdf.SetFillColor(230, 230, 230)
			for i, h := range table.Headers {
				pdf.CellFormat(widths[i], 7, tr(h), "1", 0, "C", true, 0, "")
			}
			pdf.Ln(-1)
			pdf.SetFont("Arial", "", 8)
		}
		header()
		_, pageHeight := pdf.GetPageSize()
		for _, row := range table.Rows {
			if pdf.GetY()+6 > pageHeight-12 {
				pdf.AddPage()
				header()
			}
			for i := range table.Headers {
				value := ""
				if i < len(row) {
					value = row[i]
				}
				pdf.CellFormat(widths[i], 6, tr(value), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(table Table) []float64 {
	if len(table.Widths) == len(table.Headers) {
		return table.Widths
	}
	widths := make([]float64, len(table.Headers))
	for i := range widths {
		widths[i] = pageWidth / float64(len(table.Headers))
	}
	return widths
}
