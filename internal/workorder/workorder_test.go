package workorder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
)

func TestComputeTotalsScenario(t *testing.T) {
	totals := ComputeTotals(30000, []domain.PartLine{{PartID: "P1", Quantity: 2, Price: 50000}}, nil, 0)
	assert.EqualValues(t, 130000, totals.Total)
	assert.EqualValues(t, 100000, totals.PartsTotal)
}

func TestComputeTotalsClampsAtZero(t *testing.T) {
	totals := ComputeTotals(10000, nil, []domain.ServiceLine{{Description: "bớt", Quantity: 1, Price: -5000}}, 20000)
	assert.EqualValues(t, 5000, totals.Subtotal)
	assert.EqualValues(t, 0, totals.Total)
}

func TestTotalRecomputationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		labor := rng.Int63n(500000)
		discount := rng.Int63n(800000)
		var parts []domain.PartLine
		var services []domain.ServiceLine
		var sum int64
		for j := 0; j < rng.Intn(4); j++ {
			p := domain.PartLine{PartID: "P", Quantity: 1 + rng.Intn(5), Price: rng.Int63n(200000)}
			parts = append(parts, p)
			sum += p.Price * int64(p.Quantity)
		}
		for j := 0; j < rng.Intn(3); j++ {
			s := domain.ServiceLine{Description: "S", Quantity: 1 + rng.Intn(3), Price: rng.Int63n(100000)}
			services = append(services, s)
			sum += s.Price * int64(s.Quantity)
		}
		want := labor + sum - discount
		if want < 0 {
			want = 0
		}

		w := domain.WorkOrder{LaborCost: labor, Discount: discount, PartsUsed: parts, AdditionalServices: services,
			DepositAmount: rng.Int63n(300000), AdditionalPayment: rng.Int63n(300000)}
		ApplyTotals(&w)
		require.Equal(t, want, w.Total)
		require.Equal(t, w.DepositAmount+w.AdditionalPayment, w.TotalPaid)
		require.Equal(t, max(0, w.Total-w.TotalPaid), w.RemainingAmount)
	}
}

func TestDiscountFromPercentRoundsHalfUp(t *testing.T) {
	d, err := DiscountFromPercent(333335, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 33334, d)

	d, err = DiscountFromPercent(0, 50)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = DiscountFromPercent(1000, 120)
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}

func TestDerivePaymentStatus(t *testing.T) {
	assert.Equal(t, domain.PaymentUnpaid, DerivePaymentStatus(130000, 0))
	assert.Equal(t, domain.PaymentPartial, DerivePaymentStatus(130000, 50000))
	assert.Equal(t, domain.PaymentPaid, DerivePaymentStatus(130000, 130000))
	assert.Equal(t, domain.PaymentPaid, DerivePaymentStatus(130000, 150000))
	assert.Equal(t, domain.PaymentUnpaid, DerivePaymentStatus(0, 0))
}

func TestParseEnums(t *testing.T) {
	s, err := ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIntake, s)

	s, err = ParseStatus("Trả máy")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusHandedOff, s)

	_, err = ParseStatus("Done")
	assert.Equal(t, apperr.InvalidStatus, apperr.CodeOf(err))

	ps, err := ParsePaymentStatus("PAID")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, ps)

	_, err = ParsePaymentStatus("refunded")
	assert.Equal(t, apperr.InvalidPaymentStatus, apperr.CodeOf(err))

	m, err := NormalizePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCash, m)
	_, err = NormalizePaymentMethod("crypto")
	assert.Error(t, err)
}

func TestValidateLines(t *testing.T) {
	require.NoError(t, ValidateLines(
		[]domain.PartLine{{PartID: "P1", Quantity: 1, Price: 0}},
		[]domain.ServiceLine{{Description: "giảm giá", Quantity: 1, Price: -10000}},
	))

	err := ValidateLines([]domain.PartLine{{PartID: "P1", Quantity: 0}, {PartID: "P2", Quantity: 1, Price: -1}}, nil)
	coded := apperr.From(err)
	require.Equal(t, apperr.InvalidPart, coded.Code)
	assert.Len(t, coded.Detail, 2)

	err = ValidateLines(nil, []domain.ServiceLine{{Description: "x", Quantity: 0}})
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}

func TestValidateLinesBoundsAmounts(t *testing.T) {
	require.NoError(t, ValidateLines([]domain.PartLine{{PartID: "P1", Quantity: 1, Price: MaxAmount}}, nil))

	err := ValidateLines([]domain.PartLine{{PartID: "P1", Quantity: 2, Price: 1 << 62}}, nil)
	coded := apperr.From(err)
	require.Equal(t, apperr.InvalidPart, coded.Code)
	assert.Equal(t, []InvalidLine{{Index: 0, PartID: "P1", Reason: "amount too large"}}, coded.Detail)

	err = ValidateLines([]domain.PartLine{{PartID: "P1", Quantity: 2, Price: MaxAmount/2 + 1}}, nil)
	assert.Equal(t, apperr.InvalidPart, apperr.CodeOf(err))

	err = ValidateLines([]domain.PartLine{
		{PartID: "P1", Quantity: 1, Price: MaxAmount},
		{PartID: "P2", Quantity: 1, Price: 1},
	}, nil)
	coded = apperr.From(err)
	require.Equal(t, apperr.InvalidPart, coded.Code)
	assert.Equal(t, []InvalidLine{{Index: 1, PartID: "P2", Reason: "amount too large"}}, coded.Detail)

	err = ValidateLines([]domain.PartLine{{PartID: "P1", Quantity: MaxQuantity + 1, Price: 1000}}, nil)
	coded = apperr.From(err)
	require.Equal(t, apperr.InvalidPart, coded.Code)
	assert.Equal(t, []InvalidLine{{Index: 0, PartID: "P1", Reason: "quantity too large"}}, coded.Detail)

	err = ValidateLines(nil, []domain.ServiceLine{{Description: "giảm", Quantity: 2, Price: -(1 << 62)}})
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))

	err = ValidateLines(
		[]domain.PartLine{{PartID: "P1", Quantity: 1, Price: MaxAmount}},
		[]domain.ServiceLine{{Description: "phụ phí", Quantity: 1, Price: 1}},
	)
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))

	require.NoError(t, ValidateMoney(map[string]int64{"labor_cost": MaxAmount, "discount": 0}))
	err = ValidateMoney(map[string]int64{"labor_cost": MaxAmount + 1})
	assert.Equal(t, apperr.InvalidInput, apperr.CodeOf(err))
}

func TestStockDeltaMergesDuplicateLines(t *testing.T) {
	old := []domain.PartLine{{PartID: "A", Quantity: 2}, {PartID: "B", Quantity: 1}}
	next := []domain.PartLine{{PartID: "A", Quantity: 1}, {PartID: "A", Quantity: 3}, {PartID: "C", Quantity: 2}}

	delta := StockDelta(old, next)
	assert.Equal(t, map[string]int{"A": 2, "B": -1, "C": 2}, delta)
	assert.Equal(t, []string{"A", "B", "C"}, SortedPartIDs(delta))
	assert.Empty(t, StockDelta(old, old))
}

func TestLockRules(t *testing.T) {
	stored := domain.WorkOrder{
		Status:        domain.StatusHandedOff,
		PaymentStatus: domain.PaymentPaid,
		LaborCost:     30000,
		PartsUsed:     []domain.PartLine{{PartID: "P1", Quantity: 2, Price: 50000, CostPrice: 30000}},
	}
	require.True(t, IsLocked(stored))

	costEdit := stored.Clone()
	costEdit.PartsUsed[0].CostPrice = 35000
	assert.False(t, PricingChanged(stored, costEdit))

	priceEdit := stored.Clone()
	priceEdit.PartsUsed[0].Price = 60000
	assert.True(t, PricingChanged(stored, priceEdit))

	laborEdit := stored.Clone()
	laborEdit.LaborCost = 0
	assert.True(t, PricingChanged(stored, laborEdit))

	stored.Status = domain.StatusCompleted
	assert.False(t, IsLocked(stored))
}

func TestDefersStock(t *testing.T) {
	assert.True(t, DefersStock(true, domain.PaymentPartial, 50000, 0))
	assert.False(t, DefersStock(false, domain.PaymentPartial, 50000, 0))
	assert.False(t, DefersStock(true, domain.PaymentUnpaid, 0, 0))
	assert.False(t, DefersStock(true, domain.PaymentPartial, 50000, 10000))
}

func TestUnlockCode(t *testing.T) {
	issue, code := SplitUnlockCode("Màn hình vỡ [MK: 1234]")
	assert.Equal(t, "Màn hình vỡ", issue)
	assert.Equal(t, "1234", code)

	assert.Equal(t, "Màn hình vỡ [MK: 1234]", JoinUnlockCode(issue, code))
	assert.Equal(t, "Pin yếu", JoinUnlockCode("Pin yếu", ""))
	assert.Equal(t, "[MK: 0000]", JoinUnlockCode("", "0000"))
	assert.Equal(t, "Không lên nguồn", StripUnlockCode("Không lên nguồn"))
}

func TestComputeMargin(t *testing.T) {
	w := domain.WorkOrder{
		PartsUsed:          []domain.PartLine{{PartID: "P1", Quantity: 2, Price: 50000, CostPrice: 30000}},
		AdditionalServices: []domain.ServiceLine{{Description: "vệ sinh", Quantity: 1, Price: 20000, CostPrice: 5000}},
		LaborCost:          30000,
	}
	ApplyTotals(&w)
	m := ComputeMargin(w)
	assert.EqualValues(t, 150000, m.Revenue)
	assert.EqualValues(t, 65000, m.Cost)
	assert.EqualValues(t, 85000, m.Profit)
	assert.Equal(t, "0.5667", m.MarginRatio.String())
}
