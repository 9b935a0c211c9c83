// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserReserveRecord is one raw userReserve row as returned by the Aave V3
// subgraph. It is the only shape in which external position data enters the
// engine; everything past the parser works on strongly-typed positions.
//
// Balances and risk parameters arrive as integer-scaled decimal strings and
// are not interpreted here.
type UserReserveRecord struct {
	ID                             string        `json:"id"`
	User                           UserRef       `json:"user"`
	Reserve                        ReserveRecord `json:"reserve"`
	CurrentATokenBalance           string        `json:"currentATokenBalance"`
	CurrentVariableDebt            string        `json:"currentVariableDebt"`
	CurrentStableDebt              string        `json:"currentStableDebt"`
	UsageAsCollateralEnabledOnUser bool          `json:"usageAsCollateralEnabledOnUser"`
	LastUpdateTimestamp            int64         `json:"lastUpdateTimestamp"`
}

// UserRef identifies the position owner.
type UserRef struct {
	ID string `json:"id"`
}

// ReserveRecord is the reserve (lending-pool asset market) a position
// belongs to, with its risk parameters and oracle price.
type ReserveRecord struct {
	Symbol                      string       `json:"symbol"`
	UnderlyingAsset             string       `json:"underlyingAsset"`
	Decimals                    int32        `json:"decimals"`
	BaseLTVasCollateral         string       `json:"baseLTVasCollateral"`
	ReserveLiquidationThreshold string       `json:"reserveLiquidationThreshold"`
	ReserveLiquidationBonus     string       `json:"reserveLiquidationBonus"`
	UsageAsCollateralEnabled    bool         `json:"usageAsCollateralEnabled"`
	Price                       *PriceRecord `json:"price"`

	// Interest rate strategy, RAY-scaled. Only populated by the reserve
	// configuration query; empty on userReserves rows.
	OptimalUtilisationRate string `json:"optimalUtilisationRate"`
	BaseVariableBorrowRate string `json:"baseVariableBorrowRate"`
	VariableRateSlope1     string `json:"variableRateSlope1"`
	VariableRateSlope2     string `json:"variableRateSlope2"`
}

// PriceRecord carries the oracle price in USD, scaled by 1e8. An absent
// record or empty string means the reserve cannot be valued.
type PriceRecord struct {
	PriceInUSD string `json:"priceInUsd"`
}

// HasUSDPrice reports whether the reserve carries a usable USD price.
func (r *ReserveRecord) HasUSDPrice() bool {
	return r.Price != nil && r.Price.PriceInUSD != ""
}

// RiskSnapshot is one persisted analysis run for a chain, keyed by the hour
// it was taken. Re-running within the same hour overwrites the previous row.
type RiskSnapshot struct {
	ID                 string          `json:"id" db:"id"`
	ChainID            string          `json:"chain_id" db:"chain_id"`
	SnapshotHour       time.Time       `json:"snapshot_hour" db:"snapshot_hour"`
	TotalUsers         int             `json:"total_users" db:"total_users"`
	UsersWithDebt      int             `json:"users_with_debt" db:"users_with_debt"`
	UsersAtRisk        int             `json:"users_at_risk" db:"users_at_risk"`
	UsersExcluded      int             `json:"users_excluded" db:"users_excluded"`
	UsersBelowFloor    int             `json:"users_below_floor" db:"users_below_floor"`
	TotalCollateralUSD decimal.Decimal `json:"total_collateral_usd" db:"total_collateral_usd"`
	TotalDebtUSD       decimal.Decimal `json:"total_debt_usd" db:"total_debt_usd"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	Buckets            []BucketRow     `json:"buckets"`
}

// BucketRow is one health-factor distribution band of a snapshot.
type BucketRow struct {
	Label              string          `json:"bucket" db:"bucket"`
	Count              int             `json:"count" db:"count"`
	TotalCollateralUSD decimal.Decimal `json:"total_collateral_usd" db:"total_collateral_usd"`
	TotalDebtUSD       decimal.Decimal `json:"total_debt_usd" db:"total_debt_usd"`
}

// ScenarioRow is one persisted liquidation-simulation result attached to a
// snapshot.
type ScenarioRow struct {
	ID                           string          `json:"id" db:"id"`
	SnapshotID                   string          `json:"snapshot_id" db:"snapshot_id"`
	AssetSymbol                  string          `json:"asset_symbol" db:"asset_symbol"`
	AssetAddress                 string          `json:"asset_address" db:"asset_address"`
	PriceDropPercent             decimal.Decimal `json:"price_drop_percent" db:"price_drop_percent"`
	OriginalPriceUSD             decimal.Decimal `json:"original_price_usd" db:"original_price_usd"`
	SimulatedPriceUSD            decimal.Decimal `json:"simulated_price_usd" db:"simulated_price_usd"`
	UsersAtRisk                  int             `json:"users_at_risk" db:"users_at_risk"`
	TotalCollateralAtRiskUSD     decimal.Decimal `json:"total_collateral_at_risk_usd" db:"total_collateral_at_risk_usd"`
	TotalDebtAtRiskUSD           decimal.Decimal `json:"total_debt_at_risk_usd" db:"total_debt_at_risk_usd"`
	EstimatedLiquidatableDebtUSD decimal.Decimal `json:"estimated_liquidatable_debt_usd" db:"estimated_liquidatable_debt_usd"`
	EstimatedLiquidatorProfitUSD decimal.Decimal `json:"estimated_liquidator_profit_usd" db:"estimated_liquidator_profit_usd"`
}
