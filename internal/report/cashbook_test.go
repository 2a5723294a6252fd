package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"repairpos/backend/internal/domain"
)

func TestWriteXLSX(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	book := CashBook{
		BranchID: "HN",
		From:     at,
		To:       at.Add(24 * time.Hour),
		Transactions: []domain.CashTransaction{
			{ID: "cash-1", Type: domain.CashIncome, Category: domain.CategoryServiceDeposit, Amount: 50000, PaymentSource: "cash", WorkOrderID: "SC-HN-000001", CreatedAt: at},
			{ID: "cash-2", Type: domain.CashExpense, Category: domain.CategoryServiceRefund, Amount: 20000, PaymentSource: "bank", WorkOrderID: "SC-HN-000002", CreatedAt: at},
		},
		Balances: []domain.PaymentSourceBalance{
			{PaymentSource: "bank", Income: 0, Expense: 20000, Balance: -20000},
			{PaymentSource: "cash", Income: 50000, Expense: 0, Balance: 50000},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, book.WriteXLSX(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(ledgerSheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Thời gian", rows[0][0])
	assert.Equal(t, "2026-03-01 09:30", rows[1][0])
	assert.Equal(t, "cash-1", rows[1][1])
	assert.Equal(t, "50000", rows[1][7])
	assert.Equal(t, "20000", rows[2][8])
	assert.Equal(t, "Tổng cộng", rows[3][0])
	assert.Equal(t, "50000", rows[3][7])
	assert.Equal(t, "20000", rows[3][8])

	balances, err := f.GetRows(balanceSheet, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, []string{"bank", "0", "20000", "-20000"}, balances[1])

	assert.Equal(t, "so-quy-HN-20260301-20260302.xlsx", book.Filename())
}

func TestWriteXLSXEmptyBook(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CashBook{}.WriteXLSX(&buf))
	assert.NotZero(t, buf.Len())
	assert.Equal(t, "so-quy.xlsx", CashBook{}.Filename())
}
