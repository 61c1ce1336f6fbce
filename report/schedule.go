// Package report exports installment schedules as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/parcela-engine/parcela"
)

const SheetName = "Parcelas"

var header = []any{"Parcela", "Valor", "Vencimento", "Status", "Persistida"}

// WriteSchedule writes one sheet with a row per installment followed by the
// total, the premium and, when they disagree, a warning line.
func WriteSchedule(w io.Writer, p parcela.Policy, d parcela.Derivation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	money, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr(`"R$" #,##0.00`)})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", "E1", bold); err != nil {
		return err
	}

	for i, row := range d.Rows {
		r := i + 2
		valor, _ := row.Valor.Float64()
		persisted := "não"
		if row.Persisted() {
			persisted = "sim"
		}
		values := []any{row.Numero, valor, row.Vencimento, string(row.Status), persisted}
		if err := f.SetSheetRow(SheetName, cell(1, r), &values); err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, cell(2, r), cell(2, r), money); err != nil {
			return err
		}
	}

	s := parcela.Summarize(p, d.Rows)
	r := len(d.Rows) + 3
	total, _ := s.Total.Float64()
	premium, _ := s.Premium.Float64()
	lines := [][]any{
		{"Total", total},
		{"Prêmio", premium},
	}
	for i, line := range lines {
		if err := f.SetSheetRow(SheetName, cell(1, r+i), &line); err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, cell(1, r+i), cell(1, r+i), bold); err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, cell(2, r+i), cell(2, r+i), money); err != nil {
			return err
		}
	}
	if s.Mismatch {
		msg := fmt.Sprintf("Soma das parcelas difere do prêmio em R$ %s", parcela.FormatBuffer(s.Difference))
		if err := f.SetCellValue(SheetName, cell(1, r+len(lines)), msg); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetName, "A", "E", 16); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func strPtr(s string) *string { return &s }
