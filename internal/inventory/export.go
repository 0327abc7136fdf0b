package inventory

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Ledger"

var exportHeaders = []string{"Tanggal", "Item ID", "Nama Item", "Tipe", "Qty", "Stok Awal", "Stok Akhir", "Referensi", "Ref ID", "Catatan", "Dibuat Oleh"}

// ExportXLSX writes the filtered ledger as a workbook to w.
func (s *Service) ExportXLSX(ctx context.Context, filter TransactionFilter, w io.Writer) error {
	rows, err := s.ListTransactions(ctx, filter)
	if err != nil {
		return err
	}
	f, err := BuildLedgerWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("inventory: write workbook: %w", err)
	}
	return nil
}

// BuildLedgerWorkbook lays out ledger rows on a single sheet with a totals row.
func BuildLedgerWorkbook(rows []StockTransaction) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, err
	}
	for i, h := range exportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		_ = f.SetCellValue(exportSheet, cell, h)
		_ = f.SetCellStyle(exportSheet, cell, cell, headerStyle)
	}

	var totalIn, totalOut int64
	for idx, tx := range rows {
		row := idx + 2
		values := []any{
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			tx.ItemID,
			tx.ItemName,
			string(tx.Type),
			tx.Quantity,
			tx.PreviousStock,
			tx.NewStock,
			string(tx.ReferenceType),
			"",
			tx.Notes,
			tx.CreatedBy,
		}
		if tx.ReferenceID != nil {
			values[8] = *tx.ReferenceID
		}
		for i, v := range values {
			col, _ := excelize.ColumnNumberToName(i + 1)
			_ = f.SetCellValue(exportSheet, fmt.Sprintf("%s%d", col, row), v)
		}
		if tx.Type == TransactionTypeIn {
			totalIn += tx.Quantity
		} else {
			totalOut += tx.Quantity
		}
	}

	summaryRow := len(rows) + 2
	summaryStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	_ = f.SetCellValue(exportSheet, fmt.Sprintf("A%d", summaryRow), "Total")
	_ = f.SetCellValue(exportSheet, fmt.Sprintf("C%d", summaryRow), fmt.Sprintf("Masuk %d / Keluar %d", totalIn, totalOut))
	_ = f.SetCellValue(exportSheet, fmt.Sprintf("E%d", summaryRow), totalIn-totalOut)
	_ = f.SetCellStyle(exportSheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("K%d", summaryRow), summaryStyle)

	widths := []float64{20, 8, 28, 6, 8, 10, 10, 14, 8, 32, 16}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(exportSheet, col, col, width)
	}
	return f, nil
}
