package agent

import "github.com/shopspring/decimal"

// FeeModel computes the fees(q) + gas term of spec.md §4.7's
// opportunity-viability inequality, grounded on
// original_source/src/core/fee_model.py's taker/maker fee rates,
// generalized with a flat gas estimate per SPEC_FULL §4.10.
type FeeModel struct {
	TakerFeeBps    decimal.Decimal
	MakerFeeBps    decimal.Decimal
	GasEstimateUSD decimal.Decimal
}

// DefaultFeeModel matches fee_model.py's defaults (0.2% taker, 0 maker)
// plus a nominal rollup gas estimate.
func DefaultFeeModel() FeeModel {
	return FeeModel{
		TakerFeeBps:    decimal.NewFromFloat(20),
		MakerFeeBps:    decimal.Zero,
		GasEstimateUSD: decimal.NewFromFloat(0.02),
	}
}

// Compute returns the fee and gas cost of trading size units, taker
// side unless isTaker is false. IOC orders (the only kind ArbitrageAgent
// places) are always taker.
func (f FeeModel) Compute(size decimal.Decimal, isTaker bool) (fee, gas decimal.Decimal) {
	rate := f.TakerFeeBps
	if !isTaker {
		rate = f.MakerFeeBps
	}
	fee = size.Mul(rate).Div(decimal.NewFromInt(10000))
	gas = f.GasEstimateUSD
	return fee, gas
}
