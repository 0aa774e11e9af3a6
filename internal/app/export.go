package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"gelato-costing/internal/core"
)

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	ratesSheet = "Rates"
)

var rateHeadings = []string{"rate_date", "currency", "rate_to_bwp"}

// writeRatesCSV emits the same column layout ImportRatesCSV accepts.
func writeRatesCSV(w io.Writer, rates []core.ExchangeRate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rateHeadings); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rates {
		if err := cw.Write([]string{r.Date, string(r.Currency), r.RateToBase.String()}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeRatesXLSX(w io.Writer, rates []core.ExchangeRate) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ratesSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	for i, h := range rateHeadings {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(ratesSheet, cell, h)
	}
	for i, r := range rates {
		row := i + 2
		f.SetCellValue(ratesSheet, fmt.Sprintf("A%d", row), r.Date)
		f.SetCellValue(ratesSheet, fmt.Sprintf("B%d", row), string(r.Currency))
		// Rates go in as text so spreadsheets don't truncate to float precision.
		f.SetCellValue(ratesSheet, fmt.Sprintf("C%d", row), r.RateToBase.String())
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func exportFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "csv":
		return "csv", nil
	case "xlsx":
		return "xlsx", nil
	default:
		return "", &core.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q, use csv or xlsx", format)}
	}
}
