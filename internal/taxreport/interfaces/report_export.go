package interfaces

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	taxreport "compliance-cloud/internal/taxreport/domain"
)

// ErrEmptyReport indicates there is nothing to render.
var ErrEmptyReport = errors.New("taxreport export: empty report")

// BuildReportXLSX renders one sheet per year: a header, twelve month rows
// and a totals row.
func BuildReportXLSX(companyID string, report taxreport.Report) ([]byte, error) {
	years := report.Years()
	if len(years) == 0 {
		return nil, ErrEmptyReport
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, year := range years {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", year); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(year); err != nil {
			return nil, err
		}

		_ = f.SetCellValue(year, "A1", "Month")
		for col, kind := range taxreport.TaxKinds {
			cell, _ := excelize.CoordinatesToCellName(col+2, 1)
			_ = f.SetCellValue(year, cell, kind.Label())
		}
		for row, entry := range report[year] {
			_ = f.SetCellValue(year, fmt.Sprintf("A%d", row+2), entry.Month)
			for col, kind := range taxreport.TaxKinds {
				record, err := entry.Record(kind)
				if err != nil {
					return nil, err
				}
				cell, _ := excelize.CoordinatesToCellName(col+2, row+2)
				_ = f.SetCellValue(year, cell, record.Amount.InexactFloat64())
			}
		}
		totalRow := len(report[year]) + 2
		_ = f.SetCellValue(year, fmt.Sprintf("A%d", totalRow), "Total")
		for col, kind := range taxreport.TaxKinds {
			cell, _ := excelize.CoordinatesToCellName(col+2, totalRow)
			_ = f.SetCellValue(year, cell, report.Total(year, kind).InexactFloat64())
		}
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   "Tax report " + companyID,
		Created: time.Now().UTC().Format(time.RFC3339),
	})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportPDF renders a minimal PDF with one table per year.
func BuildReportPDF(companyID string, report taxreport.Report, fetchedAt time.Time) ([]byte, error) {
	years := report.Years()
	if len(years) == 0 {
		return nil, ErrEmptyReport
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)

	for _, year := range years {
		pdf.AddPage()
		pdf.Cell(0, 8, fmt.Sprintf("Tax Report %s", year))
		pdf.Ln(10)
		pdf.SetFont("Arial", "", 10)
		pdf.Cell(0, 6, fmt.Sprintf("Company: %s", companyID))
		pdf.Ln(5)
		if !fetchedAt.IsZero() {
			pdf.Cell(0, 6, fmt.Sprintf("Fetched: %s", fetchedAt.Format(time.RFC3339)))
			pdf.Ln(5)
		}
		pdf.Ln(4)

		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(25, 6, "Month", "1", 0, "C", false, 0, "")
		for _, kind := range taxreport.TaxKinds {
			pdf.CellFormat(40, 6, kind.Label(), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, entry := range report[year] {
			pdf.CellFormat(25, 6, entry.Month, "1", 0, "C", false, 0, "")
			for _, kind := range taxreport.TaxKinds {
				record, err := entry.Record(kind)
				if err != nil {
					return nil, err
				}
				pdf.CellFormat(40, 6, record.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(25, 6, "Total", "1", 0, "C", false, 0, "")
		for _, kind := range taxreport.TaxKinds {
			pdf.CellFormat(40, 6, report.Total(year, kind).StringFixed(2), "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 12)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
