// Package export renders journal history as spreadsheets for the farm office.
package export

import (
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/farm-ledger/internal/model"
)

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	sheet           = "Transactions"
)

var header = []interface{}{
	"ID", "Date", "Item ID", "Type", "Quantity", "Balance After",
	"Unit Cost", "Total Cost", "Batch ID", "Module", "Reference", "Session", "Actor", "Note",
}

// WriteTransactions streams rows into a single-sheet workbook and writes it
// to w. It stops at the first error the sequence yields.
func WriteTransactions(w io.Writer, rows iter.Seq2[model.Transaction, error]) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return 0, err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, err
	}

	n := 0
	for t, err := range rows {
		if err != nil {
			return n, err
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return n, err
		}
		if err := sw.SetRow(cell, row(t)); err != nil {
			return n, fmt.Errorf("write row %d: %w", n+2, err)
		}
		n++
	}

	if err := sw.Flush(); err != nil {
		return n, err
	}
	return n, f.Write(w)
}

func row(t model.Transaction) []interface{} {
	batch := ""
	if t.BatchID != nil {
		batch = t.BatchID.String()
	}
	return []interface{}{
		t.ID.String(),
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.ItemID.String(),
		string(t.Type),
		t.Quantity.InexactFloat64(),
		t.BalanceAfter.InexactFloat64(),
		t.UnitCost.InexactFloat64(),
		t.TotalCost.InexactFloat64(),
		batch,
		deref(t.Module),
		deref(t.Reference),
		deref(t.SessionID),
		t.Actor,
		deref(t.Note),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Filename names an export taken at now.
func Filename(now time.Time) string {
	return "transactions-" + now.UTC().Format("20060102-150405") + ".xlsx"
}
