// Package risk builds population-level risk analyses and serves them over
// HTTP: summary statistics, health-factor distributions, at-risk rankings,
// and liquidation-cascade scenarios.
//
// All aggregation arithmetic stays in shopspring/decimal; values become
// float64 only inside the JSON response types.
package risk

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/health"
	"github.com/lendscan/risk-engine/internal/liquidation"
	"github.com/lendscan/risk-engine/internal/model"
	"github.com/lendscan/risk-engine/internal/timeutil"
)

var (
	one          = decimal.NewFromInt(1)
	atRiskUpper  = decimal.NewFromFloat(1.5)
	defaultBonus = decimal.NewFromFloat(0.05)
)

// AnalyzeOptions tunes an analysis run.
type AnalyzeOptions struct {
	// MinCollateralUSD is the dust floor: users below it are dropped from
	// statistics entirely and counted separately.
	MinCollateralUSD decimal.Decimal

	// ShockAssetSymbol selects the asset for the scenario batch (typically
	// WETH). Empty disables scenarios.
	ShockAssetSymbol string

	// PriceDropPercents are the hypothetical shocks to run, in percent.
	PriceDropPercents []decimal.Decimal
}

// ReserveRollup aggregates one asset's usage across the valid population.
// Parameters are stored as fractions (LTV 0.80, bonus 0.05) ready for
// display.
type ReserveRollup struct {
	Symbol               string
	Address              string
	LTV                  decimal.Decimal
	LiquidationThreshold decimal.Decimal
	LiquidationBonus     decimal.Decimal // bonus fraction, 0.05 = 5%
	PriceUSD             decimal.Decimal
	TotalCollateralUSD   decimal.Decimal
	TotalDebtUSD         decimal.Decimal
}

// Analysis is one full risk computation over a population snapshot.
type Analysis struct {
	ChainID      string
	SnapshotTime time.Time

	// Valid is the filtered population every statistic below is built from:
	// HF ≤ 1 artifacts and dust users removed.
	Valid map[string]*health.UserAggregate

	UsersExcluded   int // HF ≤ 1 with debt: stale data, already liquidatable on-chain
	UsersBelowFloor int // dropped by the minimum-collateral floor
	UsersWithDebt   int

	// AtRisk holds users with 1.0 < HF < 1.5, sorted ascending (most
	// dangerous first).
	AtRisk []*health.UserAggregate

	TotalCollateralUSD decimal.Decimal
	TotalDebtUSD       decimal.Decimal

	Buckets  []health.Bucket
	Reserves []ReserveRollup

	Scenarios []liquidation.Scenario
}

// Analyze filters a parsed population and computes every derived statistic.
//
// Users with nonzero debt and HF ≤ 1.0 are data artifacts (per protocol
// rules they should already have been liquidated) and are excluded from all
// statistics, counted only in UsersExcluded. The collateral floor then
// removes dust. Scenarios run once per configured drop percent, in parallel:
// each projection builds its own derived population, so no state is shared
// across scenarios.
func Analyze(chainID string, users map[string]*health.UserAggregate, opts AnalyzeOptions) *Analysis {
	a := &Analysis{
		ChainID:            chainID,
		SnapshotTime:       time.Now().UTC(),
		Valid:              make(map[string]*health.UserAggregate),
		TotalCollateralUSD: decimal.Zero,
		TotalDebtUSD:       decimal.Zero,
	}

	for addr, u := range users {
		debt := u.TotalDebtUSD()
		hf := u.HealthFactor()

		if !debt.IsZero() && hf != nil && hf.LessThanOrEqual(one) {
			a.UsersExcluded++
			continue
		}
		if u.TotalCollateralUSD().LessThan(opts.MinCollateralUSD) {
			a.UsersBelowFloor++
			continue
		}
		a.Valid[addr] = u
	}

	for _, u := range a.Valid {
		a.TotalCollateralUSD = a.TotalCollateralUSD.Add(u.TotalCollateralUSD())
		a.TotalDebtUSD = a.TotalDebtUSD.Add(u.TotalDebtUSD())

		if u.TotalDebtUSD().IsZero() {
			continue
		}
		a.UsersWithDebt++
		if hf := u.HealthFactor(); hf != nil && hf.GreaterThan(one) && hf.LessThan(atRiskUpper) {
			a.AtRisk = append(a.AtRisk, u)
		}
	}

	sort.Slice(a.AtRisk, func(i, j int) bool {
		hi, hj := a.AtRisk[i].HealthFactor(), a.AtRisk[j].HealthFactor()
		return hi.LessThan(*hj)
	})

	a.Buckets = health.BuildDistribution(a.Valid)
	a.Reserves = buildReserveRollups(a.Valid)

	if opts.ShockAssetSymbol != "" && a.UsersWithDebt > 0 {
		a.Scenarios = runScenarioBatch(a.Valid, a.Reserves, opts)
	}

	return a
}

// buildReserveRollups aggregates per-asset usage across the population and
// sorts by total value descending (most used first).
func buildReserveRollups(users map[string]*health.UserAggregate) []ReserveRollup {
	byAddr := make(map[string]*ReserveRollup)

	for _, u := range users {
		for _, p := range u.Positions {
			r, ok := byAddr[p.AssetAddress]
			if !ok {
				r = &ReserveRollup{
					Symbol:               p.AssetSymbol,
					Address:              p.AssetAddress,
					LTV:                  p.LTV.Div(health.PercentageFactor),
					LiquidationThreshold: p.LiquidationThresholdDecimal(),
					LiquidationBonus:     p.LiquidationBonusDecimal().Sub(one),
					PriceUSD:             p.PriceUSD.Div(health.PriceDecimals),
					TotalCollateralUSD:   decimal.Zero,
					TotalDebtUSD:         decimal.Zero,
				}
				byAddr[p.AssetAddress] = r
			}
			r.TotalCollateralUSD = r.TotalCollateralUSD.Add(p.CollateralUSD())
			r.TotalDebtUSD = r.TotalDebtUSD.Add(p.DebtUSD())
		}
	}

	rollups := make([]ReserveRollup, 0, len(byAddr))
	for _, r := range byAddr {
		rollups = append(rollups, *r)
	}
	sort.Slice(rollups, func(i, j int) bool {
		vi := rollups[i].TotalCollateralUSD.Add(rollups[i].TotalDebtUSD)
		vj := rollups[j].TotalCollateralUSD.Add(rollups[j].TotalDebtUSD)
		return vi.GreaterThan(vj)
	})
	return rollups
}

// runScenarioBatch runs one liquidation scenario per drop percent against
// the shock asset. Scenarios are independent and run concurrently; the bonus
// is the shocked asset's own liquidation bonus.
func runScenarioBatch(
	users map[string]*health.UserAggregate,
	reserves []ReserveRollup,
	opts AnalyzeOptions,
) []liquidation.Scenario {
	var shock *ReserveRollup
	for i := range reserves {
		if reserves[i].Symbol == opts.ShockAssetSymbol {
			shock = &reserves[i]
			break
		}
	}
	if shock == nil {
		return nil
	}

	bonus := shock.LiquidationBonus
	if bonus.IsZero() {
		bonus = defaultBonus
	}

	scenarios := make([]liquidation.Scenario, len(opts.PriceDropPercents))
	var wg sync.WaitGroup
	for i, drop := range opts.PriceDropPercents {
		wg.Add(1)
		go func(i int, drop decimal.Decimal) {
			defer wg.Done()
			scenarios[i] = liquidation.Simulate(
				users, shock.Address, shock.Symbol,
				drop, liquidation.DefaultCloseFactor, bonus,
			)
		}(i, drop)
	}
	wg.Wait()

	return scenarios
}

// Snapshot converts an analysis into its persisted form, keyed by the hour
// it was taken.
func (a *Analysis) Snapshot() *model.RiskSnapshot {
	snap := &model.RiskSnapshot{
		ChainID:            a.ChainID,
		SnapshotHour:       timeutil.TruncateToHour(a.SnapshotTime.Unix()),
		TotalUsers:         len(a.Valid),
		UsersWithDebt:      a.UsersWithDebt,
		UsersAtRisk:        len(a.AtRisk),
		UsersExcluded:      a.UsersExcluded,
		UsersBelowFloor:    a.UsersBelowFloor,
		TotalCollateralUSD: a.TotalCollateralUSD,
		TotalDebtUSD:       a.TotalDebtUSD,
		CreatedAt:          a.SnapshotTime,
	}
	for _, b := range a.Buckets {
		snap.Buckets = append(snap.Buckets, model.BucketRow{
			Label:              b.Label,
			Count:              b.Count,
			TotalCollateralUSD: b.TotalCollateralUSD,
			TotalDebtUSD:       b.TotalDebtUSD,
		})
	}
	return snap
}

// ScenarioRows converts the scenario batch into persisted rows for the given
// snapshot ID.
func (a *Analysis) ScenarioRows(snapshotID string) []model.ScenarioRow {
	rows := make([]model.ScenarioRow, 0, len(a.Scenarios))
	for _, s := range a.Scenarios {
		rows = append(rows, model.ScenarioRow{
			SnapshotID:                   snapshotID,
			AssetSymbol:                  s.AssetSymbol,
			AssetAddress:                 s.AssetAddress,
			PriceDropPercent:             s.PriceDropPercent,
			OriginalPriceUSD:             s.OriginalPriceUSD,
			SimulatedPriceUSD:            s.SimulatedPriceUSD,
			UsersAtRisk:                  s.UsersAtRisk,
			TotalCollateralAtRiskUSD:     s.TotalCollateralAtRiskUSD,
			TotalDebtAtRiskUSD:           s.TotalDebtAtRiskUSD,
			EstimatedLiquidatableDebtUSD: s.EstimatedLiquidatableDebtUSD,
			EstimatedLiquidatorProfitUSD: s.EstimatedLiquidatorProfitUSD,
		})
	}
	return rows
}
