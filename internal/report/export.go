package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"qms/branch-queue/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"

	sheetName = "Reports"
)

var exportHeader = []string{"No", "Ticket", "Counter", "Customer", "Category", "Note", "Completed At"}

func exportRow(i int, r models.Report, loc *time.Location) []string {
	return []string{
		fmt.Sprint(i + 1),
		r.TicketNumber,
		r.CounterLabel,
		r.CustomerName,
		r.Category,
		r.Note,
		r.CompletedAt.In(loc).Format("2006-01-02 15:04:05"),
	}
}

func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func FileName(format string, filter ReportFilter) string {
	period := "all"
	switch {
	case filter.Year != 0 && filter.Month != 0:
		period = fmt.Sprintf("%04d-%02d", filter.Year, filter.Month)
	case filter.Year != 0:
		period = fmt.Sprintf("%04d", filter.Year)
	case filter.Month != 0:
		period = fmt.Sprintf("month-%02d", filter.Month)
	}
	return fmt.Sprintf("reports-%s.%s", period, format)
}

// Export writes reports in the requested format. Unknown formats fall back
// to XLSX.
func (s *Service) Export(w io.Writer, format string, reports []models.Report) error {
	if format == FormatCSV {
		return s.WriteCSV(w, reports)
	}
	return s.WriteXLSX(w, reports)
}

func (s *Service) WriteXLSX(w io.Writer, reports []models.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := toCells(exportHeader)
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range reports {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := toCells(exportRow(i, r, s.location))
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return f.Write(w)
}

func (s *Service) WriteCSV(w io.Writer, reports []models.Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return err
	}
	for i, r := range reports {
		if err := writer.Write(exportRow(i, r, s.location)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func toCells(values []string) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
