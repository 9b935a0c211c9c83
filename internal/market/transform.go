// Package market tracks per-reserve market state: hourly supply, borrow,
// and utilization snapshots built from the subgraph's reserve parameter
// history, plus the discrete protocol events (supplies, borrows, repays,
// liquidations) that move that state.
package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/model"
	"github.com/lendscan/risk-engine/internal/timeutil"
)

// Aave V3 fixed-point scales. Rate strategy parameters are RAY-scaled;
// oracle prices in history items are WAD-scaled.
var (
	ray = decimal.New(1, 27)
	wad = decimal.New(1, 18)
)

// ErrMissingField is returned when a raw subgraph row lacks a field the
// snapshot cannot be built without.
var ErrMissingField = errors.New("market: missing required field")

// ErrMalformedNumeric is returned when a raw amount or price is not a
// valid decimal string.
var ErrMalformedNumeric = errors.New("market: malformed numeric value")

// SnapshotFromHistoryItem normalizes one reserveParamsHistoryItems row
// into an hourly ReserveSnapshot.
//
// Raw integer amounts are scaled to whole asset units by 10^decimals;
// borrowed = variable + stable debt. USD values stay nil when the item
// carries no positive price — an unpriced reserve is recorded without a
// valuation rather than valued at zero. Caps default to 0, which in Aave
// means no cap.
func SnapshotFromHistoryItem(item model.ReserveHistoryItem, chainID, marketID string, rateModel *model.RateModelParams) (*model.ReserveSnapshot, error) {
	if item.Reserve.UnderlyingAsset == "" {
		return nil, fmt.Errorf("%w: item %s: reserve.underlyingAsset", ErrMissingField, item.ID)
	}
	if item.Timestamp == 0 {
		return nil, fmt.Errorf("%w: item %s: timestamp", ErrMissingField, item.ID)
	}

	assetScale := decimal.New(1, item.Reserve.Decimals)

	supplied, err := scaledAmount(item.ID, "totalLiquidity", item.TotalLiquidity, assetScale)
	if err != nil {
		return nil, err
	}
	available, err := scaledAmount(item.ID, "availableLiquidity", item.AvailableLiquidity, assetScale)
	if err != nil {
		return nil, err
	}
	variableDebt, err := scaledAmount(item.ID, "totalCurrentVariableDebt", item.TotalCurrentVariableDebt, assetScale)
	if err != nil {
		return nil, err
	}
	stableDebt, err := scaledAmount(item.ID, "totalPrincipalStableDebt", item.TotalPrincipalStableDebt, assetScale)
	if err != nil {
		return nil, err
	}
	borrowed := variableDebt.Add(stableDebt)

	borrowCap, err := optionalAmount(item.ID, "borrowCap", item.BorrowCap)
	if err != nil {
		return nil, err
	}
	supplyCap, err := optionalAmount(item.ID, "supplyCap", item.SupplyCap)
	if err != nil {
		return nil, err
	}

	snap := &model.ReserveSnapshot{
		ChainID:            chainID,
		MarketID:           marketID,
		AssetSymbol:        item.Reserve.Symbol,
		AssetAddress:       strings.ToLower(item.Reserve.UnderlyingAsset),
		Timestamp:          item.Timestamp,
		TimestampHour:      timeutil.TruncateToHour(item.Timestamp),
		TimestampDay:       timeutil.TruncateToDay(item.Timestamp),
		TimestampWeek:      timeutil.TruncateToWeek(item.Timestamp),
		TimestampMonth:     timeutil.TruncateToMonth(item.Timestamp),
		BorrowCap:          borrowCap,
		SupplyCap:          supplyCap,
		SuppliedAmount:     supplied,
		BorrowedAmount:     borrowed,
		AvailableLiquidity: available,
		Utilization:        ComputeUtilization(supplied, borrowed),
		RateModel:          rateModel,
	}

	if item.PriceInUSD != "" {
		raw, err := decimal.NewFromString(item.PriceInUSD)
		if err != nil {
			return nil, fmt.Errorf("%w: item %s field priceInUsd: %q", ErrMalformedNumeric, item.ID, item.PriceInUSD)
		}
		price := raw.Div(wad)
		if price.IsPositive() {
			suppliedUSD := supplied.Mul(price)
			borrowedUSD := borrowed.Mul(price)
			snap.PriceUSD = &price
			snap.SuppliedValueUSD = &suppliedUSD
			snap.BorrowedValueUSD = &borrowedUSD
		}
	}

	return snap, nil
}

// ComputeUtilization returns borrowed/supplied, or 0 for an empty reserve.
func ComputeUtilization(supplied, borrowed decimal.Decimal) decimal.Decimal {
	if supplied.IsZero() {
		return decimal.Zero
	}
	return borrowed.Div(supplied)
}

// RateModelFromReserve builds the RAY-descaled rate strategy from a
// reserve configuration row. Returns nil when the reserve carries no
// strategy fields.
func RateModelFromReserve(r model.ReserveRecord) (*model.RateModelParams, error) {
	if r.OptimalUtilisationRate == "" {
		return nil, nil
	}

	fields := []struct {
		name  string
		value string
	}{
		{"optimalUtilisationRate", r.OptimalUtilisationRate},
		{"baseVariableBorrowRate", r.BaseVariableBorrowRate},
		{"variableRateSlope1", r.VariableRateSlope1},
		{"variableRateSlope2", r.VariableRateSlope2},
	}

	parsed := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		if f.value == "" {
			return nil, fmt.Errorf("%w: reserve %s field %s", ErrMissingField, r.UnderlyingAsset, f.name)
		}
		v, err := decimal.NewFromString(f.value)
		if err != nil {
			return nil, fmt.Errorf("%w: reserve %s field %s: %q", ErrMalformedNumeric, r.UnderlyingAsset, f.name, f.value)
		}
		parsed[i] = v.Div(ray)
	}

	return &model.RateModelParams{
		OptimalUtilization:     parsed[0],
		BaseVariableBorrowRate: parsed[1],
		VariableRateSlope1:     parsed[2],
		VariableRateSlope2:     parsed[3],
	}, nil
}

// DedupeSnapshots keeps the first snapshot per (chain, market, asset,
// hour) key, preserving order. History items within the same hour collapse
// to the earliest one, matching the hourly table's unique key.
func DedupeSnapshots(snaps []*model.ReserveSnapshot) []*model.ReserveSnapshot {
	type key struct {
		chain, market, asset string
		hour                 int64
	}
	seen := make(map[key]bool, len(snaps))
	out := snaps[:0]
	for _, s := range snaps {
		k := key{s.ChainID, s.MarketID, s.AssetAddress, s.TimestampHour.Unix()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

func scaledAmount(id, field, value string, scale decimal.Decimal) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: item %s: %s", ErrMissingField, id, field)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: item %s field %s: %q", ErrMalformedNumeric, id, field, value)
	}
	return v.Div(scale), nil
}

func optionalAmount(id, field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: item %s field %s: %q", ErrMalformedNumeric, id, field, value)
	}
	return v, nil
}
