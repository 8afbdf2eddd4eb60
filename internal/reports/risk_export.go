package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	risk "plugwatch/internal/risk/domain"
)

// Report is one risk export: the decayed accumulators of a subject kind at a
// point in time.
type Report struct {
	Kind        risk.SubjectKind
	GeneratedAt time.Time
	Subjects    []risk.Accumulator
}

// BuildRiskPDF renders a minimal PDF for a risk report.
func BuildRiskPDF(report Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Equipment Usage Risk Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Subject kind: %s", report.Kind))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Subject", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Sessions", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Anomalies", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Score", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Max Dev (%)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, subject := range report.Subjects {
		pdf.CellFormat(40, 6, subject.SubjectID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", subject.TotalSessions), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", subject.TotalAnomalies), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", subject.Score), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, string(subject.Level), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%.1f", subject.MaxDeviation), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRiskXLSX renders a minimal XLSX for a risk report.
func BuildRiskXLSX(report Report) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	subjectsSheet := "subjects"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(subjectsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Equipment Usage Risk Report")
	_ = f.SetCellValue(summarySheet, "A3", "Subject kind")
	_ = f.SetCellValue(summarySheet, "B3", string(report.Kind))
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", report.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Subjects")
	_ = f.SetCellValue(summarySheet, "B5", len(report.Subjects))

	_ = f.SetCellValue(subjectsSheet, "A1", "Subject")
	_ = f.SetCellValue(subjectsSheet, "B1", "Sessions")
	_ = f.SetCellValue(subjectsSheet, "C1", "Anomalies")
	_ = f.SetCellValue(subjectsSheet, "D1", "Avg Dev (%)")
	_ = f.SetCellValue(subjectsSheet, "E1", "Max Dev (%)")
	_ = f.SetCellValue(subjectsSheet, "F1", "Score")
	_ = f.SetCellValue(subjectsSheet, "G1", "Level")
	_ = f.SetCellValue(subjectsSheet, "H1", "Last Anomaly")
	for i, subject := range report.Subjects {
		row := i + 2
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("A%d", row), subject.SubjectID)
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("B%d", row), subject.TotalSessions)
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("C%d", row), subject.TotalAnomalies)
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("D%d", row), subject.AvgDeviation)
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("E%d", row), subject.MaxDeviation)
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("F%d", row), subject.Score)
		_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("G%d", row), string(subject.Level))
		if !subject.LastAnomalyAt.IsZero() {
			_ = f.SetCellValue(subjectsSheet, fmt.Sprintf("H%d", row), subject.LastAnomalyAt.Format(time.RFC3339))
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
