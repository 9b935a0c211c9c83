// Package liquidation simulates liquidation cascades under hypothetical
// price shocks.
//
// Given a population of user aggregates and an asset price drop, it projects
// every indebted user through the shock and tabulates who newly crosses the
// HF < 1 liquidation threshold, what collateral and debt that puts at risk,
// and what a liquidator would stand to earn under Aave's close-factor and
// bonus mechanics. The base population is never mutated; each scenario works
// on its own projected copies, so independent scenarios can run concurrently
// from one snapshot.
package liquidation

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/health"
)

// DefaultCloseFactor is Aave's default cap on the fraction of a position's
// debt a single liquidation call may repay (50%).
var DefaultCloseFactor = decimal.NewFromFloat(0.5)

// AffectedUser is one user pushed below HF 1 by the simulated shock.
// Collateral and debt are post-shock values.
type AffectedUser struct {
	UserAddress   string
	HFBefore      *decimal.Decimal // nil when the user had no debt pre-shock
	HFAfter       decimal.Decimal
	CollateralUSD decimal.Decimal
	DebtUSD       decimal.Decimal
}

// Scenario is the result of one simulation run.
type Scenario struct {
	AssetSymbol      string
	AssetAddress     string
	PriceDropPercent decimal.Decimal

	OriginalPriceUSD  decimal.Decimal
	SimulatedPriceUSD decimal.Decimal

	UsersAtRisk              int
	TotalCollateralAtRiskUSD decimal.Decimal
	TotalDebtAtRiskUSD       decimal.Decimal

	CloseFactor      decimal.Decimal
	LiquidationBonus decimal.Decimal

	EstimatedLiquidatableDebtUSD decimal.Decimal
	EstimatedLiquidatorProfitUSD decimal.Decimal

	// AffectedUsers is sorted by post-shock health factor ascending, most
	// at-risk first. Truncation for display is the caller's concern.
	AffectedUsers []AffectedUser
}

// Simulate projects a price drop of dropPercent on assetAddress across the
// population and tabulates the newly liquidatable users.
//
// The population is expected to be pre-filtered: users already below HF 1
// should have been excluded, so the scenario measures users the shock tips
// over, not positions that were already underwater. closeFactor and bonus
// are required explicitly; callers typically pass DefaultCloseFactor and the
// shocked asset's own liquidation bonus.
//
// Simulate never fails: an asset absent from the population or an empty
// population yields a zero-valued scenario.
func Simulate(
	users map[string]*health.UserAggregate,
	assetAddress, assetSymbol string,
	dropPercent, closeFactor, bonus decimal.Decimal,
) Scenario {
	// Price is global per asset; the first position holding it suffices.
	originalPrice := decimal.Zero
	for _, u := range users {
		for _, p := range u.Positions {
			if strings.EqualFold(p.AssetAddress, assetAddress) {
				originalPrice = p.PriceUSD.Div(health.PriceDecimals)
				break
			}
		}
		if originalPrice.IsPositive() {
			break
		}
	}

	multiplier := decimal.NewFromInt(100).Sub(dropPercent).Div(decimal.NewFromInt(100))
	simulatedPrice := originalPrice.Mul(multiplier)

	one := decimal.NewFromInt(1)
	var affected []AffectedUser
	totalCollateralAtRisk := decimal.Zero
	totalDebtAtRisk := decimal.Zero

	for _, u := range users {
		if u.TotalDebtUSD().IsZero() {
			continue
		}

		projected := u.SimulatePriceDrop(assetAddress, dropPercent)
		hfAfter := projected.HealthFactor()
		if hfAfter == nil || hfAfter.GreaterThanOrEqual(one) {
			continue
		}

		collateral := projected.TotalCollateralUSD()
		debt := projected.TotalDebtUSD()
		totalCollateralAtRisk = totalCollateralAtRisk.Add(collateral)
		totalDebtAtRisk = totalDebtAtRisk.Add(debt)

		affected = append(affected, AffectedUser{
			UserAddress:   u.UserAddress,
			HFBefore:      u.HealthFactor(),
			HFAfter:       *hfAfter,
			CollateralUSD: collateral,
			DebtUSD:       debt,
		})
	}

	sort.Slice(affected, func(i, j int) bool {
		return affected[i].HFAfter.LessThan(affected[j].HFAfter)
	})

	liquidatableDebt := totalDebtAtRisk.Mul(closeFactor)
	liquidatorProfit := liquidatableDebt.Mul(bonus)

	return Scenario{
		AssetSymbol:                  assetSymbol,
		AssetAddress:                 assetAddress,
		PriceDropPercent:             dropPercent,
		OriginalPriceUSD:             originalPrice,
		SimulatedPriceUSD:            simulatedPrice,
		UsersAtRisk:                  len(affected),
		TotalCollateralAtRiskUSD:     totalCollateralAtRisk,
		TotalDebtAtRiskUSD:           totalDebtAtRisk,
		CloseFactor:                  closeFactor,
		LiquidationBonus:             bonus,
		EstimatedLiquidatableDebtUSD: liquidatableDebt,
		EstimatedLiquidatorProfitUSD: liquidatorProfit,
		AffectedUsers:                affected,
	}
}
