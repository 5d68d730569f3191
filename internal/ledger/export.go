package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	transactionSheet = "Transactions"
	itemSheet        = "Items"
)

// ExportXLSX returns a workbook with one row per transaction, newest first,
// and a second sheet listing the receipt items of each.
func (s *Service) ExportXLSX() ([]byte, error) {
	start := time.Now()

	transactions, err := s.ListTransactions()
	if err != nil {
		return nil, err
	}
	categories, err := s.ListCategories()
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(categories))
	for _, c := range categories {
		labels[c.ID] = c.Label
	}

	f := excelize.NewFile()
	defer f.Close()

	// A new file starts with "Sheet1"; rename it rather than leave it empty.
	if err := f.SetSheetName("Sheet1", transactionSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(itemSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}

	writeRow(f, transactionSheet, 1, "Date", "Title", "Category", "Type", "Amount", "Amount source", "Note", "Receipt")
	writeRow(f, itemSheet, 1, "Transaction", "Date", "Title", "Item", "Price")

	itemRow := 2
	for i, t := range transactions {
		label := labels[t.CategoryID]
		if label == "" {
			label = t.CategoryID
		}
		date := t.Date.Format(dateLayout)
		writeRow(f, transactionSheet, i+2, date, t.Title, label, string(t.Type), t.Amount, string(t.AmountSource), truncate(t.Note, 140), t.ReceiptFile)

		for _, item := range t.Items {
			writeRow(f, itemSheet, itemRow, t.ID, date, t.Title, item.Name, item.Price)
			itemRow++
		}
	}

	_ = f.SetColWidth(transactionSheet, "A", "A", 12)
	_ = f.SetColWidth(transactionSheet, "B", "C", 28)
	_ = f.SetColWidth(transactionSheet, "G", "H", 48)
	_ = f.SetColWidth(itemSheet, "A", "A", 38)
	_ = f.SetColWidth(itemSheet, "C", "D", 28)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("Exported transactions",
		"rows", len(transactions),
		"items", itemRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
