// Package report renders branch cash books as spreadsheets.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"repairpos/backend/internal/domain"
)

const (
	ledgerSheet  = "So quy"
	balanceSheet = "So du"
	timeLayout   = "2006-01-02 15:04"
	moneyFormat  = 3 // #,##0
)

var ledgerHeadings = []any{"Thời gian", "Mã giao dịch", "Loại", "Danh mục", "Nguồn tiền", "Phiếu sửa", "Diễn giải", "Thu", "Chi"}

var balanceHeadings = []any{"Nguồn tiền", "Tổng thu", "Tổng chi", "Số dư"}

type CashBook struct {
	BranchID     string
	From         time.Time
	To           time.Time
	Transactions []domain.CashTransaction
	Balances     []domain.PaymentSourceBalance
	Location     *time.Location
}

// WriteXLSX writes the ledger sheet (one row per cash transaction plus a
// totals row) and the per-source balance sheet.
func (b CashBook) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(balanceSheet); err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: moneyFormat})
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := b.writeLedger(f, money, bold); err != nil {
		return err
	}
	if err := b.writeBalances(f, money, bold); err != nil {
		return err
	}
	return f.Write(w)
}

func (b CashBook) writeLedger(f *excelize.File, money, bold int) error {
	if err := f.SetSheetRow(ledgerSheet, "A1", &ledgerHeadings); err != nil {
		return err
	}
	if err := f.SetRowStyle(ledgerSheet, 1, 1, bold); err != nil {
		return err
	}

	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	var income, expense int64
	row := 2
	for _, t := range b.Transactions {
		var in, out any
		if t.Type == domain.CashIncome {
			in = t.Amount
			income += t.Amount
		} else {
			out = t.Amount
			expense += t.Amount
		}
		values := []any{
			t.CreatedAt.In(loc).Format(timeLayout),
			t.ID, t.Type, t.Category, t.PaymentSource, t.WorkOrderID, t.Description,
			in, out,
		}
		if err := setRow(f, ledgerSheet, row, &values); err != nil {
			return err
		}
		row++
	}

	totals := []any{"Tổng cộng", nil, nil, nil, nil, nil, nil, income, expense}
	if err := setRow(f, ledgerSheet, row, &totals); err != nil {
		return err
	}
	if err := f.SetRowStyle(ledgerSheet, row, row, bold); err != nil {
		return err
	}
	if err := f.SetColStyle(ledgerSheet, "H:I", money); err != nil {
		return err
	}
	return f.SetColWidth(ledgerSheet, "A", "G", 18)
}

func (b CashBook) writeBalances(f *excelize.File, money, bold int) error {
	if err := f.SetSheetRow(balanceSheet, "A1", &balanceHeadings); err != nil {
		return err
	}
	if err := f.SetRowStyle(balanceSheet, 1, 1, bold); err != nil {
		return err
	}
	for i, bal := range b.Balances {
		values := []any{bal.PaymentSource, bal.Income, bal.Expense, bal.Balance}
		if err := setRow(f, balanceSheet, i+2, &values); err != nil {
			return err
		}
	}
	return f.SetColStyle(balanceSheet, "B:D", money)
}

func setRow(f *excelize.File, sheet string, row int, values *[]any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, values)
}

func (b CashBook) Filename() string {
	name := "so-quy"
	if b.BranchID != "" {
		name += "-" + b.BranchID
	}
	if !b.From.IsZero() {
		name += "-" + b.From.Format("20060102")
	}
	if !b.To.IsZero() {
		name += "-" + b.To.Format("20060102")
	}
	return fmt.Sprintf("%s.xlsx", name)
}
