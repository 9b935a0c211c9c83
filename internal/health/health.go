// Package health implements Aave V3 health-factor aggregation: per-position
// USD valuation, the weighted-threshold solvency ratio, and counterfactual
// price-drop projection.
//
// The health factor is:
//
//	HF = Σ(collateral_i × liquidationThreshold_i) / Σ(debt_j)
//
// summing the numerator over collateral-enabled positions only and the
// denominator over all positions. HF < 1 means the account is eligible for
// liquidation. A user with zero debt has no health factor (infinite
// solvency), represented as nil — callers must treat nil as maximally safe,
// never as unknown.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Conversion to float64 happens only at the API response boundary, after all
// aggregation arithmetic is complete.
package health

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// PercentageFactor scales Aave basis-point risk parameters (1e4).
	// 8250 = 82.5%.
	PercentageFactor = decimal.New(1, 4)

	// PriceDecimals scales oracle USD prices (1e8).
	PriceDecimals = decimal.New(1, 8)

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Position is one user's stake in a single reserve. Balances are raw
// integer-scaled amounts in the asset's smallest unit; risk parameters are
// basis-point scaled; the price is USD scaled by 1e8.
//
// Derived USD values are computed, never stored, so they cannot drift out of
// sync with the underlying balances.
type Position struct {
	UserAddress  string
	AssetSymbol  string
	AssetAddress string
	Decimals     int32

	CollateralBalance decimal.Decimal // aToken balance
	VariableDebt      decimal.Decimal
	StableDebt        decimal.Decimal

	LTV                  decimal.Decimal // 8000 = 80%
	LiquidationThreshold decimal.Decimal
	LiquidationBonus     decimal.Decimal // 10500 = 105% = 5% bonus

	PriceUSD decimal.Decimal // scaled by 1e8

	CollateralEnabled bool
}

// TotalDebt returns variable plus stable debt in the asset's smallest unit.
func (p Position) TotalDebt() decimal.Decimal {
	return p.VariableDebt.Add(p.StableDebt)
}

// CollateralUSD returns the position's collateral value in USD. A position
// not enabled as collateral contributes zero regardless of balance.
func (p Position) CollateralUSD() decimal.Decimal {
	if !p.CollateralEnabled {
		return decimal.Zero
	}
	scale := decimal.New(1, p.Decimals)
	return p.CollateralBalance.Div(scale).Mul(p.PriceUSD.Div(PriceDecimals))
}

// DebtUSD returns the position's debt value in USD. Debt counts whether or
// not the position is enabled as collateral.
func (p Position) DebtUSD() decimal.Decimal {
	scale := decimal.New(1, p.Decimals)
	return p.TotalDebt().Div(scale).Mul(p.PriceUSD.Div(PriceDecimals))
}

// LiquidationThresholdDecimal returns the threshold as a fraction
// (8250 → 0.825).
func (p Position) LiquidationThresholdDecimal() decimal.Decimal {
	return p.LiquidationThreshold.Div(PercentageFactor)
}

// LiquidationBonusDecimal returns the bonus as a multiplier (10500 → 1.05).
func (p Position) LiquidationBonusDecimal() decimal.Decimal {
	return p.LiquidationBonus.Div(PercentageFactor)
}

// UserAggregate combines all of one user's positions. Position order is
// ingestion order and irrelevant to the math. Aggregates are immutable once
// built; SimulatePriceDrop returns a new aggregate rather than mutating, so
// one base population supports any number of independent what-if scenarios.
type UserAggregate struct {
	UserAddress string
	Positions   []Position
}

// TotalCollateralUSD sums collateral value over all positions.
func (u *UserAggregate) TotalCollateralUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range u.Positions {
		total = total.Add(p.CollateralUSD())
	}
	return total
}

// TotalCollateralThresholdUSD sums threshold-weighted collateral value over
// collateral-enabled positions.
func (u *UserAggregate) TotalCollateralThresholdUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range u.Positions {
		if !p.CollateralEnabled {
			continue
		}
		total = total.Add(p.CollateralUSD().Mul(p.LiquidationThresholdDecimal()))
	}
	return total
}

// TotalDebtUSD sums debt value over all positions.
func (u *UserAggregate) TotalDebtUSD() decimal.Decimal {
	total := decimal.Zero
	for _, p := range u.Positions {
		total = total.Add(p.DebtUSD())
	}
	return total
}

// HealthFactor returns the user's solvency ratio, or nil when the user has
// no debt. nil means infinite/safe, not unknown.
func (u *UserAggregate) HealthFactor() *decimal.Decimal {
	debt := u.TotalDebtUSD()
	if debt.IsZero() {
		return nil
	}
	hf := u.TotalCollateralThresholdUSD().Div(debt)
	return &hf
}

// IsLiquidatable reports whether the user's health factor exists and is
// below 1.
func (u *UserAggregate) IsLiquidatable() bool {
	hf := u.HealthFactor()
	return hf != nil && hf.LessThan(one)
}

// SimulatePriceDrop returns a new aggregate where every position matching
// assetAddress (case-insensitive) has its price multiplied by
// (100 - dropPercent)/100. All other positions are copied unchanged and the
// receiver is never mutated.
//
// dropPercent is a percentage in [0,100); the method does not validate or
// clamp — out-of-range values are the caller's responsibility.
func (u *UserAggregate) SimulatePriceDrop(assetAddress string, dropPercent decimal.Decimal) *UserAggregate {
	multiplier := hundred.Sub(dropPercent).Div(hundred)

	projected := make([]Position, len(u.Positions))
	for i, p := range u.Positions {
		if strings.EqualFold(p.AssetAddress, assetAddress) {
			p.PriceUSD = p.PriceUSD.Mul(multiplier)
		}
		projected[i] = p
	}

	return &UserAggregate{UserAddress: u.UserAddress, Positions: projected}
}
