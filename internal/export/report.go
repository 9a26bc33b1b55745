// Package export writes monthly receipt reports as xlsx workbooks.
package export

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"receiptpocket/internal/receipt"
)

var reportHeader = []string{"日付", "支払先", "金額", "カテゴリー", "支払方法", "メモ", "立替者"}

// ReportWriter produces monthly expense reports.
type ReportWriter struct {
	logger *zap.Logger
}

// NewReportWriter creates a new report writer.
func NewReportWriter(logger *zap.Logger) *ReportWriter {
	return &ReportWriter{logger: logger}
}

// WriteMonthlyReport writes an xlsx workbook for the receipts of one month
// (format "2006-01"). The sheet holds a header row, one row per receipt, a
// grand total and per-category subtotals.
func (w *ReportWriter) WriteMonthlyReport(receipts []receipt.Receipt, month, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := month
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	for col, title := range reportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to build cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	var monthly []receipt.Receipt
	for _, r := range receipts {
		if r.InMonth(month) {
			monthly = append(monthly, r)
		}
	}
	receipt.Sort(monthly)

	var total int64
	categoryTotals := make(map[string]int64)
	row := 2
	for _, r := range monthly {
		reimbursedBy := ""
		if r.IsReimbursement {
			reimbursedBy = r.ReimbursedBy
		}
		values := []interface{}{r.Date, r.Vendor, r.Amount, r.Category, r.PaymentMethod, r.Description, reimbursedBy}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("failed to build cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to write receipt row: %w", err)
			}
		}
		total += r.Amount
		categoryTotals[r.Category] += r.Amount
		row++
	}

	row++
	if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), "合計"); err != nil {
		return fmt.Errorf("failed to write total label: %w", err)
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), total); err != nil {
		return fmt.Errorf("failed to write total: %w", err)
	}

	categories := make([]string, 0, len(categoryTotals))
	for category := range categoryTotals {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		row++
		if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), category); err != nil {
			return fmt.Errorf("failed to write category label: %w", err)
		}
		if err := f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), categoryTotals[category]); err != nil {
			return fmt.Errorf("failed to write category total: %w", err)
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	w.logger.Info("Monthly report written",
		zap.String("month", month),
		zap.Int("receipts", len(monthly)),
		zap.Int64("total", total),
		zap.String("path", outputPath))
	return nil
}
