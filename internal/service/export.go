package service

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chronahq/tenancy/internal/domain/metrics"
)

var usageHeader = []string{"Slug", "Tenant ID", "Date", "Active Users", "Time Entries", "Expenses (cents)"}

var usageColWidths = []float64{24, 38, 12, 14, 14, 18}

// writeUsageXLSX renders one day's usage rows as a workbook with a frozen,
// styled header row.
func writeUsageXLSX(path string, day time.Time, rows []metrics.DailyUsage) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Usage " + day.Format("2006-01-02")
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(idx)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for col, name := range usageHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return fmt.Errorf("set header %s: %w", name, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("style header %s: %w", name, err)
		}
		colName, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheet, colName, colName, usageColWidths[col]); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	for i, r := range rows {
		values := []any{r.TenantSlug, r.TenantID, r.Date.Format("2006-01-02"), r.ActiveUsers, r.TimeEntries, r.ExpensesCents}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	return f.SaveAs(path)
}
