// Package export renders valuation and waste reports as .xlsx workbooks.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"concreterp/internal/domain/arkik"
	"concreterp/internal/domain/inventory/fifo"
)

// ContentType is the MIME type of the produced workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Valuation writes one row per layer plus a totals row.
func Valuation(v *fifo.Valuation) ([]byte, error) {
	header := []any{"entry_number", "entry_date", "remaining_kg", "unit_price", "layer_value"}
	rows := make([][]any, 0, len(v.Layers)+1)
	for _, l := range v.Layers {
		rows = append(rows, []any{
			l.EntryNumber,
			l.EntryDate.Format("2006-01-02"),
			l.RemainingKg.InexactFloat64(),
			l.UnitPrice.InexactFloat64(),
			l.LayerValue.InexactFloat64(),
		})
	}
	rows = append(rows, []any{"TOTAL", "", v.TotalKg.InexactFloat64(), "", v.TotalValue.InexactFloat64()})
	return write("valuation", header, rows)
}

// Waste writes one row per waste material record.
func Waste(items []arkik.WasteMaterial) ([]byte, error) {
	header := []any{
		"remision_number", "fecha", "material_code", "material_name",
		"theoretical", "actual", "waste", "reason", "notes",
	}
	rows := make([][]any, 0, len(items))
	for _, w := range items {
		rows = append(rows, []any{
			w.RemisionNumber,
			w.Fecha.Format("2006-01-02"),
			w.MaterialCode,
			deref(w.MaterialName),
			w.TheoreticalAmount.InexactFloat64(),
			w.ActualAmount.InexactFloat64(),
			w.WasteAmount.InexactFloat64(),
			string(w.WasteReason),
			deref(w.Notes),
		})
	}
	return write("waste", header, rows)
}

func write(sheetName string, header []any, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(sheet, sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
