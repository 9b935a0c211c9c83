package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventTypes lists the protocol event kinds the engine ingests, in the
// order they are fetched.
var EventTypes = []string{"supply", "withdraw", "borrow", "repay", "liquidation", "flashloan"}

// IsEventType reports whether s names a known protocol event kind.
func IsEventType(s string) bool {
	for _, t := range EventTypes {
		if t == s {
			return true
		}
	}
	return false
}

// ReserveHistoryItem is one raw reserveParamsHistoryItems row from the
// subgraph: the state of a reserve at one update. Amounts arrive as
// integer-scaled decimal strings and are not interpreted here.
type ReserveHistoryItem struct {
	ID                       string     `json:"id"`
	Reserve                  ReserveRef `json:"reserve"`
	TotalLiquidity           string     `json:"totalLiquidity"`
	AvailableLiquidity       string     `json:"availableLiquidity"`
	TotalCurrentVariableDebt string     `json:"totalCurrentVariableDebt"`
	TotalPrincipalStableDebt string     `json:"totalPrincipalStableDebt"`
	BorrowCap                string     `json:"borrowCap"`
	SupplyCap                string     `json:"supplyCap"`
	PriceInEth               string     `json:"priceInEth"`
	PriceInUSD               string     `json:"priceInUsd"`
	Timestamp                int64      `json:"timestamp"`
}

// ReserveRef is the minimal reserve identification nested inside history
// items and protocol events.
type ReserveRef struct {
	Symbol          string `json:"symbol"`
	UnderlyingAsset string `json:"underlyingAsset"`
	Decimals        int32  `json:"decimals"`
}

// AccountRef identifies an account nested inside an event. Some subgraph
// deployments serialize these as a bare address string instead of an
// object, so unmarshalling accepts both.
type AccountRef struct {
	ID string `json:"id"`
}

func (a *AccountRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &a.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	a.ID = obj.ID
	return nil
}

// EventRecord is one raw protocol event row from the subgraph. It is the
// union of the per-type query shapes; fields a given event type does not
// carry stay zero.
type EventRecord struct {
	ID            string     `json:"id"`
	TxHash        string     `json:"txHash"`
	Timestamp     int64      `json:"timestamp"`
	Amount        string     `json:"amount"`
	AssetPriceUSD string     `json:"assetPriceUSD"`
	BorrowRate    string     `json:"borrowRate"`
	User          AccountRef `json:"user"`
	Caller        AccountRef `json:"caller"`
	To            AccountRef `json:"to"`
	Repayer       AccountRef `json:"repayer"`
	Initiator     AccountRef `json:"initiator"`
	Liquidator    AccountRef `json:"liquidator"`
	Reserve       ReserveRef `json:"reserve"`

	// Liquidation-only fields. A liquidation touches two reserves: the
	// principal (debt repaid) and the collateral seized.
	PrincipalAmount         string     `json:"principalAmount"`
	PrincipalReserve        ReserveRef `json:"principalReserve"`
	CollateralAmount        string     `json:"collateralAmount"`
	CollateralReserve       ReserveRef `json:"collateralReserve"`
	CollateralAssetPriceUSD string     `json:"collateralAssetPriceUSD"`
	BorrowAssetPriceUSD     string     `json:"borrowAssetPriceUSD"`
}

// RateModelParams is the Aave V3 interest rate strategy for a reserve,
// with all rates expressed as plain decimals (0.05 = 5%).
type RateModelParams struct {
	OptimalUtilization     decimal.Decimal `json:"optimal_utilization_rate"`
	BaseVariableBorrowRate decimal.Decimal `json:"base_variable_borrow_rate"`
	VariableRateSlope1     decimal.Decimal `json:"variable_rate_slope1"`
	VariableRateSlope2     decimal.Decimal `json:"variable_rate_slope2"`
}

// VariableBorrowRate evaluates the two-slope rate curve at the given
// utilization.
func (p RateModelParams) VariableBorrowRate(utilization decimal.Decimal) decimal.Decimal {
	if utilization.LessThanOrEqual(p.OptimalUtilization) {
		if p.OptimalUtilization.IsZero() {
			return p.BaseVariableBorrowRate
		}
		return p.BaseVariableBorrowRate.Add(
			utilization.Mul(p.VariableRateSlope1).Div(p.OptimalUtilization))
	}
	excessCapacity := decimal.NewFromInt(1).Sub(p.OptimalUtilization)
	if excessCapacity.IsZero() {
		return p.BaseVariableBorrowRate.Add(p.VariableRateSlope1)
	}
	excess := utilization.Sub(p.OptimalUtilization)
	return p.BaseVariableBorrowRate.
		Add(p.VariableRateSlope1).
		Add(excess.Mul(p.VariableRateSlope2).Div(excessCapacity))
}

// ReserveSnapshot is the hourly state of one reserve on one market, keyed
// by (chain_id, market_id, asset_address, timestamp_hour). Amounts are in
// whole asset units; USD values are nil when the subgraph carried no price
// at that point.
type ReserveSnapshot struct {
	ID                 string           `json:"id" db:"id"`
	ChainID            string           `json:"chain_id" db:"chain_id"`
	MarketID           string           `json:"market_id" db:"market_id"`
	AssetSymbol        string           `json:"asset_symbol" db:"asset_symbol"`
	AssetAddress       string           `json:"asset_address" db:"asset_address"`
	Timestamp          int64            `json:"timestamp" db:"timestamp"`
	TimestampHour      time.Time        `json:"timestamp_hour" db:"timestamp_hour"`
	TimestampDay       time.Time        `json:"timestamp_day" db:"timestamp_day"`
	TimestampWeek      time.Time        `json:"timestamp_week" db:"timestamp_week"`
	TimestampMonth     time.Time        `json:"timestamp_month" db:"timestamp_month"`
	BorrowCap          decimal.Decimal  `json:"borrow_cap" db:"borrow_cap"`
	SupplyCap          decimal.Decimal  `json:"supply_cap" db:"supply_cap"`
	SuppliedAmount     decimal.Decimal  `json:"supplied_amount" db:"supplied_amount"`
	SuppliedValueUSD   *decimal.Decimal `json:"supplied_value_usd" db:"supplied_value_usd"`
	BorrowedAmount     decimal.Decimal  `json:"borrowed_amount" db:"borrowed_amount"`
	BorrowedValueUSD   *decimal.Decimal `json:"borrowed_value_usd" db:"borrowed_value_usd"`
	AvailableLiquidity decimal.Decimal  `json:"available_liquidity" db:"available_liquidity"`
	PriceUSD           *decimal.Decimal `json:"price_usd" db:"price_usd"`
	Utilization        decimal.Decimal  `json:"utilization" db:"utilization"`
	RateModel          *RateModelParams `json:"rate_model"`
}

// ProtocolEvent is one normalized protocol event: a supply, withdraw,
// borrow, repay, liquidation, or flashloan. Amount is kept in the asset's
// smallest unit; AmountUSD is nil when the event carried no price.
type ProtocolEvent struct {
	ID                     string           `json:"id" db:"id"`
	ChainID                string           `json:"chain_id" db:"chain_id"`
	EventType              string           `json:"event_type" db:"event_type"`
	Timestamp              int64            `json:"timestamp" db:"timestamp"`
	TimestampHour          time.Time        `json:"timestamp_hour" db:"timestamp_hour"`
	TimestampDay           time.Time        `json:"timestamp_day" db:"timestamp_day"`
	TimestampWeek          time.Time        `json:"timestamp_week" db:"timestamp_week"`
	TimestampMonth         time.Time        `json:"timestamp_month" db:"timestamp_month"`
	TxHash                 string           `json:"tx_hash" db:"tx_hash"`
	UserAddress            string           `json:"user_address" db:"user_address"`
	LiquidatorAddress      string           `json:"liquidator_address,omitempty" db:"liquidator_address"`
	AssetAddress           string           `json:"asset_address" db:"asset_address"`
	AssetSymbol            string           `json:"asset_symbol" db:"asset_symbol"`
	AssetDecimals          int32            `json:"asset_decimals" db:"asset_decimals"`
	Amount                 decimal.Decimal  `json:"amount" db:"amount"`
	AmountUSD              *decimal.Decimal `json:"amount_usd" db:"amount_usd"`
	CollateralAssetAddress string           `json:"collateral_asset_address,omitempty" db:"collateral_asset_address"`
	CollateralAssetSymbol  string           `json:"collateral_asset_symbol,omitempty" db:"collateral_asset_symbol"`
	CollateralAmount       *decimal.Decimal `json:"collateral_amount,omitempty" db:"collateral_amount"`
	BorrowRate             *decimal.Decimal `json:"borrow_rate,omitempty" db:"borrow_rate"`
}
