package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/model"
)

func (s *PostgresStore) UpsertReserveSnapshots(ctx context.Context, snaps []*model.ReserveSnapshot) (int, error) {
	written := 0
	for _, snap := range snaps {
		if snap.ID == "" {
			snap.ID = uuid.New().String()
		}

		var optimal, baseRate, slope1, slope2 *string
		if rm := snap.RateModel; rm != nil {
			optimal = numericArg(&rm.OptimalUtilization)
			baseRate = numericArg(&rm.BaseVariableBorrowRate)
			slope1 = numericArg(&rm.VariableRateSlope1)
			slope2 = numericArg(&rm.VariableRateSlope2)
		}

		err := s.pool.QueryRow(ctx,
			`INSERT INTO reserve_snapshots_hourly
			   (id, chain_id, market_id, asset_symbol, asset_address, ts,
			    timestamp_hour, timestamp_day, timestamp_week, timestamp_month,
			    borrow_cap, supply_cap, supplied_amount, supplied_value_usd,
			    borrowed_amount, borrowed_value_usd, available_liquidity, price_usd, utilization,
			    optimal_utilization_rate, base_variable_borrow_rate, variable_rate_slope1, variable_rate_slope2)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
			         $15::NUMERIC, $16::NUMERIC, $17::NUMERIC, $18::NUMERIC, $19::NUMERIC,
			         $20::NUMERIC, $21::NUMERIC, $22::NUMERIC, $23::NUMERIC)
			 ON CONFLICT ON CONSTRAINT uq_reserve_snapshot_key DO UPDATE SET
			   asset_symbol = EXCLUDED.asset_symbol,
			   ts = EXCLUDED.ts,
			   timestamp_day = EXCLUDED.timestamp_day,
			   timestamp_week = EXCLUDED.timestamp_week,
			   timestamp_month = EXCLUDED.timestamp_month,
			   borrow_cap = EXCLUDED.borrow_cap,
			   supply_cap = EXCLUDED.supply_cap,
			   supplied_amount = EXCLUDED.supplied_amount,
			   supplied_value_usd = EXCLUDED.supplied_value_usd,
			   borrowed_amount = EXCLUDED.borrowed_amount,
			   borrowed_value_usd = EXCLUDED.borrowed_value_usd,
			   available_liquidity = EXCLUDED.available_liquidity,
			   price_usd = EXCLUDED.price_usd,
			   utilization = EXCLUDED.utilization,
			   optimal_utilization_rate = EXCLUDED.optimal_utilization_rate,
			   base_variable_borrow_rate = EXCLUDED.base_variable_borrow_rate,
			   variable_rate_slope1 = EXCLUDED.variable_rate_slope1,
			   variable_rate_slope2 = EXCLUDED.variable_rate_slope2
			 RETURNING id`,
			snap.ID, snap.ChainID, snap.MarketID, snap.AssetSymbol, snap.AssetAddress, snap.Timestamp,
			snap.TimestampHour, snap.TimestampDay, snap.TimestampWeek, snap.TimestampMonth,
			snap.BorrowCap.String(), snap.SupplyCap.String(),
			snap.SuppliedAmount.String(), numericArg(snap.SuppliedValueUSD),
			snap.BorrowedAmount.String(), numericArg(snap.BorrowedValueUSD),
			snap.AvailableLiquidity.String(), numericArg(snap.PriceUSD), snap.Utilization.String(),
			optimal, baseRate, slope1, slope2,
		).Scan(&snap.ID)
		if err != nil {
			return written, fmt.Errorf("upsert reserve snapshot %s/%s/%s: %w",
				snap.ChainID, snap.AssetAddress, snap.TimestampHour, err)
		}
		written++
	}
	return written, nil
}

func (s *PostgresStore) LatestReserveSnapshot(ctx context.Context, chainID, marketID, assetAddress string) (*model.ReserveSnapshot, error) {
	snap, err := scanReserveSnapshot(s.pool.QueryRow(ctx,
		reserveSnapshotSelect+`
		 WHERE chain_id = $1 AND market_id = $2 AND asset_address = $3
		 ORDER BY timestamp_hour DESC LIMIT 1`,
		chainID, marketID, assetAddress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest reserve snapshot for %s/%s/%s: %w", chainID, marketID, assetAddress, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest reserve snapshot for %s/%s/%s: %w", chainID, marketID, assetAddress, err)
	}
	return snap, nil
}

func (s *PostgresStore) LatestReserveSnapshots(ctx context.Context) ([]model.ReserveSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (chain_id, market_id, asset_address) `+reserveSnapshotColumns+`
		 FROM reserve_snapshots_hourly
		 ORDER BY chain_id, market_id, asset_address, timestamp_hour DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.ReserveSnapshot
	for rows.Next() {
		snap, err := scanReserveSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) ListReserveSnapshots(ctx context.Context, chainID, marketID, assetAddress string, from, to time.Time) ([]model.ReserveSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		reserveSnapshotSelect+`
		 WHERE chain_id = $1 AND market_id = $2 AND asset_address = $3
		   AND timestamp_hour BETWEEN $4 AND $5
		 ORDER BY timestamp_hour`,
		chainID, marketID, assetAddress, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.ReserveSnapshot
	for rows.Next() {
		snap, err := scanReserveSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) MaxReserveSnapshotTimestamp(ctx context.Context, chainID, assetAddress string) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(ts), 0) FROM reserve_snapshots_hourly
		 WHERE chain_id = $1 AND asset_address = $2`,
		chainID, assetAddress).Scan(&max)
	return max, err
}

func (s *PostgresStore) InsertProtocolEvents(ctx context.Context, events []*model.ProtocolEvent) (int, error) {
	inserted := 0
	for _, ev := range events {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO protocol_events
			   (id, chain_id, event_type, ts,
			    timestamp_hour, timestamp_day, timestamp_week, timestamp_month,
			    tx_hash, user_address, liquidator_address,
			    asset_address, asset_symbol, asset_decimals, amount, amount_usd,
			    collateral_asset_address, collateral_asset_symbol, collateral_amount, borrow_rate)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			         $15::NUMERIC, $16::NUMERIC, $17, $18, $19::NUMERIC, $20::NUMERIC)
			 ON CONFLICT (id) DO NOTHING`,
			ev.ID, ev.ChainID, ev.EventType, ev.Timestamp,
			ev.TimestampHour, ev.TimestampDay, ev.TimestampWeek, ev.TimestampMonth,
			emptyToNil(ev.TxHash), ev.UserAddress, emptyToNil(ev.LiquidatorAddress),
			ev.AssetAddress, ev.AssetSymbol, ev.AssetDecimals,
			ev.Amount.String(), numericArg(ev.AmountUSD),
			emptyToNil(ev.CollateralAssetAddress), emptyToNil(ev.CollateralAssetSymbol),
			numericArg(ev.CollateralAmount), numericArg(ev.BorrowRate),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) MaxEventTimestamp(ctx context.Context, chainID, eventType string) (int64, error) {
	var max int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(ts), 0) FROM protocol_events
		 WHERE chain_id = $1 AND event_type = $2`,
		chainID, eventType).Scan(&max)
	return max, err
}

func (s *PostgresStore) RecentEvents(ctx context.Context, chainID, eventType string, limit int) ([]model.ProtocolEvent, error) {
	query := eventSelect + ` WHERE chain_id = $1`
	args := []any{chainID}
	if eventType != "" {
		query += ` AND event_type = $2`
		args = append(args, eventType)
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ProtocolEvent
	for rows.Next() {
		var ev model.ProtocolEvent
		var txHash, liquidator, collAddr, collSymbol *string
		var amount string
		var amountUSD, collAmount, borrowRate *string
		if err := rows.Scan(&ev.ID, &ev.ChainID, &ev.EventType, &ev.Timestamp,
			&ev.TimestampHour, &ev.TimestampDay, &ev.TimestampWeek, &ev.TimestampMonth,
			&txHash, &ev.UserAddress, &liquidator,
			&ev.AssetAddress, &ev.AssetSymbol, &ev.AssetDecimals,
			&amount, &amountUSD, &collAddr, &collSymbol, &collAmount, &borrowRate); err != nil {
			return nil, err
		}
		ev.TxHash = deref(txHash)
		ev.LiquidatorAddress = deref(liquidator)
		ev.CollateralAssetAddress = deref(collAddr)
		ev.CollateralAssetSymbol = deref(collSymbol)
		ev.Amount, _ = decimal.NewFromString(amount)
		ev.AmountUSD = numericValue(amountUSD)
		ev.CollateralAmount = numericValue(collAmount)
		ev.BorrowRate = numericValue(borrowRate)
		events = append(events, ev)
	}
	return events, rows.Err()
}

const reserveSnapshotColumns = `
	id, chain_id, market_id, asset_symbol, asset_address, ts,
	timestamp_hour, timestamp_day, timestamp_week, timestamp_month,
	borrow_cap::TEXT, supply_cap::TEXT, supplied_amount::TEXT, supplied_value_usd::TEXT,
	borrowed_amount::TEXT, borrowed_value_usd::TEXT, available_liquidity::TEXT, price_usd::TEXT, utilization::TEXT,
	optimal_utilization_rate::TEXT, base_variable_borrow_rate::TEXT, variable_rate_slope1::TEXT, variable_rate_slope2::TEXT`

const reserveSnapshotSelect = `SELECT ` + reserveSnapshotColumns + ` FROM reserve_snapshots_hourly`

const eventSelect = `
	SELECT id, chain_id, event_type, ts,
	       timestamp_hour, timestamp_day, timestamp_week, timestamp_month,
	       tx_hash, user_address, liquidator_address,
	       asset_address, asset_symbol, asset_decimals,
	       amount::TEXT, amount_usd::TEXT,
	       collateral_asset_address, collateral_asset_symbol,
	       collateral_amount::TEXT, borrow_rate::TEXT
	FROM protocol_events`

func scanReserveSnapshot(row pgxRow) (*model.ReserveSnapshot, error) {
	var snap model.ReserveSnapshot
	var borrowCap, supplyCap, supplied, borrowed, available, utilization string
	var suppliedUSD, borrowedUSD, priceUSD *string
	var optimal, baseRate, slope1, slope2 *string
	if err := row.Scan(&snap.ID, &snap.ChainID, &snap.MarketID, &snap.AssetSymbol, &snap.AssetAddress, &snap.Timestamp,
		&snap.TimestampHour, &snap.TimestampDay, &snap.TimestampWeek, &snap.TimestampMonth,
		&borrowCap, &supplyCap, &supplied, &suppliedUSD,
		&borrowed, &borrowedUSD, &available, &priceUSD, &utilization,
		&optimal, &baseRate, &slope1, &slope2); err != nil {
		return nil, err
	}
	snap.BorrowCap, _ = decimal.NewFromString(borrowCap)
	snap.SupplyCap, _ = decimal.NewFromString(supplyCap)
	snap.SuppliedAmount, _ = decimal.NewFromString(supplied)
	snap.BorrowedAmount, _ = decimal.NewFromString(borrowed)
	snap.AvailableLiquidity, _ = decimal.NewFromString(available)
	snap.Utilization, _ = decimal.NewFromString(utilization)
	snap.SuppliedValueUSD = numericValue(suppliedUSD)
	snap.BorrowedValueUSD = numericValue(borrowedUSD)
	snap.PriceUSD = numericValue(priceUSD)
	if optimal != nil {
		snap.RateModel = &model.RateModelParams{}
		snap.RateModel.OptimalUtilization, _ = decimal.NewFromString(*optimal)
		if baseRate != nil {
			snap.RateModel.BaseVariableBorrowRate, _ = decimal.NewFromString(*baseRate)
		}
		if slope1 != nil {
			snap.RateModel.VariableRateSlope1, _ = decimal.NewFromString(*slope1)
		}
		if slope2 != nil {
			snap.RateModel.VariableRateSlope2, _ = decimal.NewFromString(*slope2)
		}
	}
	return &snap, nil
}

// numericArg renders an optional decimal as a NUMERIC query argument.
func numericArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// numericValue parses an optional NUMERIC::TEXT scan target.
func numericValue(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
