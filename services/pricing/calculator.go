// Package pricing computes cart and subscription totals.
//
// Plan prices are displayed with GST included. The pre-tax amount is recovered by
// dividing by (1 + GSTRate) and the tax is the pre-tax amount times GSTRate, so the
// two always add back up to the displayed price within a paisa.
package pricing

import (
	"github.com/shopspring/decimal"

	"toybox-api/models"
)

var (
	GSTRate = decimal.RequireFromString("0.18")

	gstDivisor = decimal.NewFromInt(1).Add(GSTRate)
)

type Calculator struct {
	// IncludeDeposit adds the plan's refundable deposit to the payable total.
	// Off by default: the deposit is disclosed but collected separately.
	IncludeDeposit bool
}

func NewCalculator(includeDeposit bool) *Calculator {
	return &Calculator{IncludeDeposit: includeDeposit}
}

// ItemsTotal is the sum of price × quantity over all lines.
func (c *Calculator) ItemsTotal(lines []models.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromFloat(line.Price).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// MonthlyPlanAmountExGST returns the plan price without GST, zero when no plan is selected.
func (c *Calculator) MonthlyPlanAmountExGST(plan *models.Plan) decimal.Decimal {
	if plan == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(plan.Price).Div(gstDivisor)
}

func (c *Calculator) GSTAmount(plan *models.Plan) decimal.Decimal {
	return c.MonthlyPlanAmountExGST(plan).Mul(GSTRate)
}

func (c *Calculator) Deposit(plan *models.Plan) decimal.Decimal {
	if plan == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(plan.Deposit)
}

// TotalPrice is the payable amount: items, plus the GST-inclusive plan price, plus the
// deposit when IncludeDeposit is set. The deposit is never taxed.
func (c *Calculator) TotalPrice(lines []models.CartLine, plan *models.Plan) decimal.Decimal {
	total := c.ItemsTotal(lines)
	if plan != nil {
		total = total.Add(decimal.NewFromFloat(plan.Price))
		if c.IncludeDeposit {
			total = total.Add(c.Deposit(plan))
		}
	}
	return total
}

func (c *Calculator) Breakdown(lines []models.CartLine, plan *models.Plan) *models.PriceBreakdown {
	b := &models.PriceBreakdown{
		ItemsTotal:      round2(c.ItemsTotal(lines)),
		PlanPreTax:      round2(c.MonthlyPlanAmountExGST(plan)),
		GST:             round2(c.GSTAmount(plan)),
		Deposit:         round2(c.Deposit(plan)),
		DepositIncluded: c.IncludeDeposit && plan != nil,
		Total:           round2(c.TotalPrice(lines, plan)),
	}
	if plan != nil {
		b.PlanPrice = round2(decimal.NewFromFloat(plan.Price))
	}
	return b
}

// MinimumPayable is the smallest amount the gateway accepts, one rupee.
var MinimumPayable = decimal.NewFromInt(1)

func IsPayable(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(MinimumPayable)
}

func round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func Lines(items []models.CartItem) []models.CartLine {
	lines := make([]models.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Line())
	}
	return lines
}
