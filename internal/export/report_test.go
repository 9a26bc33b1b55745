package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"receiptpocket/internal/receipt"
)

func TestWriteMonthlyReport(t *testing.T) {
	receipts := []receipt.Receipt{
		{
			ID: "RC-A-20250301", Date: "2025-03-01", Vendor: "日本交通", Amount: 2300,
			Category: "旅費交通費", PaymentMethod: "現金", Description: "客先訪問",
			CreatedAt: "2025-03-01T09:00:00.000Z",
		},
		{
			ID: "RC-B-20250314", Date: "2025-03-14", Vendor: "セブンイレブン", Amount: 1280,
			Category: "消耗品費", PaymentMethod: "現金", Description: "文房具",
			CreatedAt: "2025-03-14T09:00:00.000Z",
			IsReimbursement: true, ReimbursedBy: "田中",
		},
		{
			ID: "RC-C-20250401", Date: "2025-04-01", Vendor: "JR東日本", Amount: 460,
			Category: "旅費交通費", CreatedAt: "2025-04-01T09:00:00.000Z",
		},
	}

	outputPath := filepath.Join(t.TempDir(), "2025-03.xlsx")
	writer := NewReportWriter(zap.NewNop())
	require.NoError(t, writer.WriteMonthlyReport(receipts, "2025-03", outputPath))

	f, err := excelize.OpenFile(outputPath)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"2025-03"}, f.GetSheetList())

	rows, err := f.GetRows("2025-03")
	require.NoError(t, err)

	// Header, two receipt rows for March (newest first), blank, total,
	// two category subtotals.
	require.GreaterOrEqual(t, len(rows), 7)
	assert.Equal(t, "日付", rows[0][0])
	assert.Equal(t, "2025-03-14", rows[1][0])
	assert.Equal(t, "セブンイレブン", rows[1][1])
	assert.Equal(t, "田中", rows[1][6])
	assert.Equal(t, "2025-03-01", rows[2][0])

	total, err := f.GetCellValue("2025-03", "C5")
	require.NoError(t, err)
	assert.Equal(t, "3580", total)

	label, err := f.GetCellValue("2025-03", "A5")
	require.NoError(t, err)
	assert.Equal(t, "合計", label)

	// Category subtotals are sorted by name.
	catA, _ := f.GetCellValue("2025-03", "A6")
	valA, _ := f.GetCellValue("2025-03", "C6")
	catB, _ := f.GetCellValue("2025-03", "A7")
	valB, _ := f.GetCellValue("2025-03", "C7")
	assert.Equal(t, "旅費交通費", catA)
	assert.Equal(t, "2300", valA)
	assert.Equal(t, "消耗品費", catB)
	assert.Equal(t, "1280", valB)
}

func TestWriteMonthlyReportEmptyMonth(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "empty.xlsx")
	writer := NewReportWriter(zap.NewNop())
	require.NoError(t, writer.WriteMonthlyReport(nil, "2025-03", outputPath))

	f, err := excelize.OpenFile(outputPath)
	require.NoError(t, err)
	defer f.Close()

	total, err := f.GetCellValue("2025-03", "C3")
	require.NoError(t, err)
	assert.Equal(t, "0", total)
}
