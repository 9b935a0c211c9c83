package health

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/model"
)

// ErrMalformedNumeric is returned when a balance or risk parameter in a raw
// record is not a valid decimal string. The record-normalization boundary is
// expected to deliver well-formed numerics; this error aborting the parse is
// a data-quality signal, not a recoverable per-record condition.
var ErrMalformedNumeric = errors.New("health: malformed numeric value")

// ParseUserReserves converts raw subgraph user-reserve records into a
// population of user aggregates keyed by lowercase user address.
//
// Records whose reserve carries no usable USD price are silently dropped: a
// position that cannot be valued is excluded entirely rather than valued at
// zero, which would understate the user's risk. A position counts as
// collateral only when both the reserve-level and the user-level collateral
// flags are set.
func ParseUserReserves(records []model.UserReserveRecord) (map[string]*UserAggregate, error) {
	users := make(map[string]*UserAggregate)

	for _, r := range records {
		if !r.Reserve.HasUSDPrice() {
			continue
		}

		pos, err := parsePosition(r)
		if err != nil {
			return nil, err
		}

		agg, ok := users[pos.UserAddress]
		if !ok {
			agg = &UserAggregate{UserAddress: pos.UserAddress}
			users[pos.UserAddress] = agg
		}
		agg.Positions = append(agg.Positions, pos)
	}

	return users, nil
}

func parsePosition(r model.UserReserveRecord) (Position, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"currentATokenBalance", r.CurrentATokenBalance},
		{"currentVariableDebt", r.CurrentVariableDebt},
		{"currentStableDebt", r.CurrentStableDebt},
		{"baseLTVasCollateral", r.Reserve.BaseLTVasCollateral},
		{"reserveLiquidationThreshold", r.Reserve.ReserveLiquidationThreshold},
		{"reserveLiquidationBonus", r.Reserve.ReserveLiquidationBonus},
		{"priceInUsd", r.Reserve.Price.PriceInUSD},
	}

	parsed := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f.value)
		if err != nil {
			return Position{}, fmt.Errorf("%w: record %s field %s: %q",
				ErrMalformedNumeric, r.ID, f.name, f.value)
		}
		parsed[i] = v
	}

	return Position{
		UserAddress:          strings.ToLower(r.User.ID),
		AssetSymbol:          r.Reserve.Symbol,
		AssetAddress:         strings.ToLower(r.Reserve.UnderlyingAsset),
		Decimals:             r.Reserve.Decimals,
		CollateralBalance:    parsed[0],
		VariableDebt:         parsed[1],
		StableDebt:           parsed[2],
		LTV:                  parsed[3],
		LiquidationThreshold: parsed[4],
		LiquidationBonus:     parsed[5],
		PriceUSD:             parsed[6],
		CollateralEnabled:    r.UsageAsCollateralEnabledOnUser && r.Reserve.UsageAsCollateralEnabled,
	}, nil
}
