// Package reports renders admin exports and result bundles.
package reports

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/onlab/orderdesk/internal/domain"
)

const (
	OrdersSheet  = "Orders"
	SummarySheet = "Summary"

	// XLSXContentType is the media type of WriteOrders output.
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var orderHeadings = []interface{}{
	"Order ID", "Account ID", "Kind", "Name", "State", "Price", "Failure Reason", "Created At", "Updated At",
}

// WriteOrders writes orders and an optional summary as an xlsx workbook.
func WriteOrders(w io.Writer, orders []domain.Order, stats *domain.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", OrdersSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := f.SetSheetRow(OrdersSheet, "A1", &orderHeadings); err != nil {
		return err
	}
	if err := f.SetCellStyle(OrdersSheet, "A1", "I1", bold); err != nil {
		return err
	}

	for i, o := range orders {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			o.ID,
			o.AccountID,
			string(o.Kind),
			o.Name,
			string(o.State),
			o.Price,
			o.FailureReason,
			formatTime(o.CreatedAt),
			formatTime(o.UpdatedAt),
		}
		if err := f.SetSheetRow(OrdersSheet, cell, &row); err != nil {
			return fmt.Errorf("write order %s: %w", o.ID, err)
		}
	}
	if err := f.SetColWidth(OrdersSheet, "A", "B", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(OrdersSheet, "D", "D", 40); err != nil {
		return err
	}

	if stats != nil {
		if err := writeSummary(f, stats, bold); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, stats *domain.Stats, bold int) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Accounts", stats.Accounts},
		{"Orders", stats.Total},
	}
	for _, s := range []domain.OrderState{domain.StateCreated, domain.StatePaid, domain.StateFulfilled, domain.StateFailed} {
		rows = append(rows, []interface{}{"Orders " + string(s), stats.ByState[s]})
	}
	rows = append(rows, []interface{}{"Revenue", decimal.NewFromInt(stats.Revenue).String()})

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return f.SetCellStyle(SummarySheet, "A1", "B1", bold)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
