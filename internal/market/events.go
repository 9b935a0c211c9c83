package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/model"
	"github.com/lendscan/risk-engine/internal/timeutil"
)

// EventFromRecord normalizes one raw subgraph event row into a
// ProtocolEvent. For liquidations the primary asset is the principal (the
// debt repaid); the seized collateral rides along on the collateral
// fields.
func EventFromRecord(eventType string, raw model.EventRecord, chainID string) (*model.ProtocolEvent, error) {
	if !model.IsEventType(eventType) {
		return nil, fmt.Errorf("market: unknown event type %q", eventType)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("%w: event: id", ErrMissingField)
	}
	if raw.Timestamp == 0 {
		return nil, fmt.Errorf("%w: event %s: timestamp", ErrMissingField, raw.ID)
	}

	ev := &model.ProtocolEvent{
		ID:             raw.ID,
		ChainID:        chainID,
		EventType:      eventType,
		Timestamp:      raw.Timestamp,
		TimestampHour:  timeutil.TruncateToHour(raw.Timestamp),
		TimestampDay:   timeutil.TruncateToDay(raw.Timestamp),
		TimestampWeek:  timeutil.TruncateToWeek(raw.Timestamp),
		TimestampMonth: timeutil.TruncateToMonth(raw.Timestamp),
		TxHash:         txHash(raw),
	}

	if eventType == "liquidation" {
		return liquidationEvent(ev, raw)
	}

	user := raw.User.ID
	if eventType == "flashloan" {
		user = raw.Initiator.ID
	}

	amount, err := rawAmount(raw.ID, raw.Amount)
	if err != nil {
		return nil, err
	}

	ev.UserAddress = strings.ToLower(user)
	ev.AssetAddress = strings.ToLower(raw.Reserve.UnderlyingAsset)
	ev.AssetSymbol = raw.Reserve.Symbol
	ev.AssetDecimals = raw.Reserve.Decimals
	ev.Amount = amount
	ev.AmountUSD = ComputeUSDValue(amount, raw.Reserve.Decimals, raw.AssetPriceUSD)

	if eventType == "borrow" && raw.BorrowRate != "" {
		rate, err := decimal.NewFromString(raw.BorrowRate)
		if err != nil {
			return nil, fmt.Errorf("%w: event %s field borrowRate: %q", ErrMalformedNumeric, raw.ID, raw.BorrowRate)
		}
		descaled := rate.Div(ray)
		ev.BorrowRate = &descaled
	}

	return ev, nil
}

func liquidationEvent(ev *model.ProtocolEvent, raw model.EventRecord) (*model.ProtocolEvent, error) {
	principal, err := rawAmount(raw.ID, raw.PrincipalAmount)
	if err != nil {
		return nil, err
	}

	ev.UserAddress = strings.ToLower(raw.User.ID) // the liquidated user
	ev.LiquidatorAddress = strings.ToLower(raw.Liquidator.ID)
	ev.AssetAddress = strings.ToLower(raw.PrincipalReserve.UnderlyingAsset)
	ev.AssetSymbol = raw.PrincipalReserve.Symbol
	ev.AssetDecimals = raw.PrincipalReserve.Decimals
	ev.Amount = principal
	ev.AmountUSD = ComputeUSDValue(principal, raw.PrincipalReserve.Decimals, raw.BorrowAssetPriceUSD)

	if raw.CollateralAmount != "" {
		collateral, err := rawAmount(raw.ID, raw.CollateralAmount)
		if err != nil {
			return nil, err
		}
		ev.CollateralAssetAddress = strings.ToLower(raw.CollateralReserve.UnderlyingAsset)
		ev.CollateralAssetSymbol = raw.CollateralReserve.Symbol
		ev.CollateralAmount = &collateral
	}

	return ev, nil
}

// ComputeUSDValue values a raw smallest-unit amount at a plain USD price
// string: (amount / 10^decimals) * price. Returns nil when the price is
// absent or malformed — events without a usable price are stored unvalued.
func ComputeUSDValue(amount decimal.Decimal, decimals int32, priceUSD string) *decimal.Decimal {
	if priceUSD == "" {
		return nil
	}
	price, err := decimal.NewFromString(priceUSD)
	if err != nil {
		return nil
	}
	usd := amount.Div(decimal.New(1, decimals)).Mul(price)
	return &usd
}

// txHash prefers the event's direct txHash field and falls back to the
// transaction hash embedded in the event ID ({txHash}-{logIndex} or
// {txHash}:{logIndex}).
func txHash(raw model.EventRecord) string {
	if raw.TxHash != "" {
		return raw.TxHash
	}
	for _, sep := range []string{"-", ":"} {
		head, _, found := strings.Cut(raw.ID, sep)
		if found && strings.HasPrefix(head, "0x") && len(head) == 66 {
			return head
		}
	}
	if strings.HasPrefix(raw.ID, "0x") && len(raw.ID) >= 66 {
		return raw.ID[:66]
	}
	return ""
}

func rawAmount(id, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: event %s: amount", ErrMissingField, id)
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: event %s field amount: %q", ErrMalformedNumeric, id, value)
	}
	return v, nil
}
