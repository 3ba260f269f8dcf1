// Package export renders the booking journal of a shop as an Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"prenotabot/internal/journal"
)

var columns = []string{"Data", "Inizio", "Fine", "Servizio", "Operatore", "Telefono", "Creato il"}

// WriteReservations writes the entries of one shop as a single-sheet workbook.
func WriteReservations(ctx context.Context, w io.Writer, shopID string, db *journal.DB) error {
	entries, err := db.ByShop(ctx, shopID, 0)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheet := "Prenotazioni"
	f.SetSheetName("Sheet1", sheet)

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for r, e := range entries {
		values := []interface{}{
			e.Start.Format("2006-01-02"),
			e.Start.Format("15:04"),
			e.End.Format("15:04"),
			e.ServiceName,
			e.Operator,
			e.Phone,
			e.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", r+2, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
