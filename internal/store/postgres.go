package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS risk_snapshots (
			id                   TEXT PRIMARY KEY,
			chain_id             TEXT NOT NULL,
			snapshot_hour        TIMESTAMPTZ NOT NULL,
			total_users          INTEGER NOT NULL,
			users_with_debt      INTEGER NOT NULL,
			users_at_risk        INTEGER NOT NULL,
			users_excluded       INTEGER NOT NULL,
			users_below_floor    INTEGER NOT NULL,
			total_collateral_usd NUMERIC NOT NULL,
			total_debt_usd       NUMERIC NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL,
			CONSTRAINT uq_risk_snapshot_key UNIQUE (chain_id, snapshot_hour)
		);
		CREATE TABLE IF NOT EXISTS risk_snapshot_buckets (
			snapshot_id          TEXT NOT NULL REFERENCES risk_snapshots(id) ON DELETE CASCADE,
			bucket               TEXT NOT NULL,
			count                INTEGER NOT NULL,
			total_collateral_usd NUMERIC NOT NULL,
			total_debt_usd       NUMERIC NOT NULL,
			PRIMARY KEY (snapshot_id, bucket)
		);
		CREATE TABLE IF NOT EXISTS liquidation_scenarios (
			id                              TEXT PRIMARY KEY,
			snapshot_id                     TEXT NOT NULL REFERENCES risk_snapshots(id) ON DELETE CASCADE,
			asset_symbol                    TEXT NOT NULL,
			asset_address                   TEXT NOT NULL,
			price_drop_percent              NUMERIC NOT NULL,
			original_price_usd              NUMERIC NOT NULL,
			simulated_price_usd             NUMERIC NOT NULL,
			users_at_risk                   INTEGER NOT NULL,
			total_collateral_at_risk_usd    NUMERIC NOT NULL,
			total_debt_at_risk_usd          NUMERIC NOT NULL,
			estimated_liquidatable_debt_usd NUMERIC NOT NULL,
			estimated_liquidator_profit_usd NUMERIC NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_risk_snapshots_chain_hour
			ON risk_snapshots (chain_id, snapshot_hour DESC);
		CREATE TABLE IF NOT EXISTS reserve_snapshots_hourly (
			id                        TEXT PRIMARY KEY,
			chain_id                  TEXT NOT NULL,
			market_id                 TEXT NOT NULL,
			asset_symbol              TEXT NOT NULL,
			asset_address             TEXT NOT NULL,
			ts                        BIGINT NOT NULL,
			timestamp_hour            TIMESTAMPTZ NOT NULL,
			timestamp_day             TIMESTAMPTZ NOT NULL,
			timestamp_week            TIMESTAMPTZ NOT NULL,
			timestamp_month           TIMESTAMPTZ NOT NULL,
			borrow_cap                NUMERIC NOT NULL,
			supply_cap                NUMERIC NOT NULL,
			supplied_amount           NUMERIC NOT NULL,
			supplied_value_usd        NUMERIC,
			borrowed_amount           NUMERIC NOT NULL,
			borrowed_value_usd        NUMERIC,
			available_liquidity       NUMERIC NOT NULL,
			price_usd                 NUMERIC,
			utilization               NUMERIC NOT NULL,
			optimal_utilization_rate  NUMERIC,
			base_variable_borrow_rate NUMERIC,
			variable_rate_slope1      NUMERIC,
			variable_rate_slope2      NUMERIC,
			CONSTRAINT uq_reserve_snapshot_key UNIQUE (chain_id, market_id, asset_address, timestamp_hour)
		);
		CREATE INDEX IF NOT EXISTS idx_reserve_snapshots_asset
			ON reserve_snapshots_hourly (chain_id, asset_address, timestamp_hour DESC);
		CREATE TABLE IF NOT EXISTS protocol_events (
			id                       TEXT PRIMARY KEY,
			chain_id                 TEXT NOT NULL,
			event_type               TEXT NOT NULL,
			ts                       BIGINT NOT NULL,
			timestamp_hour           TIMESTAMPTZ NOT NULL,
			timestamp_day            TIMESTAMPTZ NOT NULL,
			timestamp_week           TIMESTAMPTZ NOT NULL,
			timestamp_month          TIMESTAMPTZ NOT NULL,
			tx_hash                  TEXT,
			user_address             TEXT NOT NULL,
			liquidator_address       TEXT,
			asset_address            TEXT NOT NULL,
			asset_symbol             TEXT NOT NULL,
			asset_decimals           INTEGER NOT NULL,
			amount                   NUMERIC NOT NULL,
			amount_usd               NUMERIC,
			collateral_asset_address TEXT,
			collateral_asset_symbol  TEXT,
			collateral_amount        NUMERIC,
			borrow_rate              NUMERIC
		);
		CREATE INDEX IF NOT EXISTS idx_events_cursor
			ON protocol_events (chain_id, event_type, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_user
			ON protocol_events (user_address, ts DESC);
	`)
	return err
}

func (s *PostgresStore) UpsertRiskSnapshot(ctx context.Context, snap *model.RiskSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}

	// On conflict the existing row keeps its id; RETURNING reports which
	// id won so the caller can attach bucket and scenario rows correctly.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO risk_snapshots
		   (id, chain_id, snapshot_hour, total_users, users_with_debt, users_at_risk,
		    users_excluded, users_below_floor, total_collateral_usd, total_debt_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11)
		 ON CONFLICT ON CONSTRAINT uq_risk_snapshot_key DO UPDATE SET
		   total_users = EXCLUDED.total_users,
		   users_with_debt = EXCLUDED.users_with_debt,
		   users_at_risk = EXCLUDED.users_at_risk,
		   users_excluded = EXCLUDED.users_excluded,
		   users_below_floor = EXCLUDED.users_below_floor,
		   total_collateral_usd = EXCLUDED.total_collateral_usd,
		   total_debt_usd = EXCLUDED.total_debt_usd,
		   created_at = EXCLUDED.created_at
		 RETURNING id`,
		snap.ID, snap.ChainID, snap.SnapshotHour,
		snap.TotalUsers, snap.UsersWithDebt, snap.UsersAtRisk,
		snap.UsersExcluded, snap.UsersBelowFloor,
		snap.TotalCollateralUSD.String(), snap.TotalDebtUSD.String(),
		snap.CreatedAt,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s/%s: %w", snap.ChainID, snap.SnapshotHour, err)
	}

	// Buckets are replaced wholesale alongside the snapshot row.
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM risk_snapshot_buckets WHERE snapshot_id = $1`, snap.ID); err != nil {
		return err
	}
	for _, b := range snap.Buckets {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO risk_snapshot_buckets (snapshot_id, bucket, count, total_collateral_usd, total_debt_usd)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			snap.ID, b.Label, b.Count,
			b.TotalCollateralUSD.String(), b.TotalDebtUSD.String(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) LatestRiskSnapshot(ctx context.Context, chainID string) (*model.RiskSnapshot, error) {
	snap, err := s.scanSnapshot(s.pool.QueryRow(ctx,
		snapshotSelect+` WHERE chain_id = $1 ORDER BY snapshot_hour DESC LIMIT 1`, chainID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest snapshot for %s: %w", chainID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot for %s: %w", chainID, err)
	}
	if err := s.loadBuckets(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *PostgresStore) ListRiskSnapshots(ctx context.Context, chainID string, from, to time.Time) ([]model.RiskSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		snapshotSelect+` WHERE chain_id = $1 AND snapshot_hour BETWEEN $2 AND $3 ORDER BY snapshot_hour`,
		chainID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.RiskSnapshot
	for rows.Next() {
		snap, err := s.scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snaps {
		if err := s.loadBuckets(ctx, &snaps[i]); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (s *PostgresStore) ReplaceScenarios(ctx context.Context, snapshotID string, scenarios []model.ScenarioRow) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM liquidation_scenarios WHERE snapshot_id = $1`, snapshotID); err != nil {
		return err
	}
	for _, sc := range scenarios {
		id := sc.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO liquidation_scenarios
			   (id, snapshot_id, asset_symbol, asset_address, price_drop_percent,
			    original_price_usd, simulated_price_usd, users_at_risk,
			    total_collateral_at_risk_usd, total_debt_at_risk_usd,
			    estimated_liquidatable_debt_usd, estimated_liquidator_profit_usd)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8,
			         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC)`,
			id, snapshotID, sc.AssetSymbol, sc.AssetAddress,
			sc.PriceDropPercent.String(),
			sc.OriginalPriceUSD.String(), sc.SimulatedPriceUSD.String(),
			sc.UsersAtRisk,
			sc.TotalCollateralAtRiskUSD.String(), sc.TotalDebtAtRiskUSD.String(),
			sc.EstimatedLiquidatableDebtUSD.String(), sc.EstimatedLiquidatorProfitUSD.String(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ScenariosBySnapshot(ctx context.Context, snapshotID string) ([]model.ScenarioRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, snapshot_id, asset_symbol, asset_address,
		        price_drop_percent::TEXT, original_price_usd::TEXT, simulated_price_usd::TEXT,
		        users_at_risk,
		        total_collateral_at_risk_usd::TEXT, total_debt_at_risk_usd::TEXT,
		        estimated_liquidatable_debt_usd::TEXT, estimated_liquidator_profit_usd::TEXT
		 FROM liquidation_scenarios WHERE snapshot_id = $1 ORDER BY price_drop_percent`,
		snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenarios []model.ScenarioRow
	for rows.Next() {
		var sc model.ScenarioRow
		var drop, orig, sim, collateral, debt, liqDebt, profit string
		if err := rows.Scan(&sc.ID, &sc.SnapshotID, &sc.AssetSymbol, &sc.AssetAddress,
			&drop, &orig, &sim, &sc.UsersAtRisk,
			&collateral, &debt, &liqDebt, &profit); err != nil {
			return nil, err
		}
		sc.PriceDropPercent, _ = decimal.NewFromString(drop)
		sc.OriginalPriceUSD, _ = decimal.NewFromString(orig)
		sc.SimulatedPriceUSD, _ = decimal.NewFromString(sim)
		sc.TotalCollateralAtRiskUSD, _ = decimal.NewFromString(collateral)
		sc.TotalDebtAtRiskUSD, _ = decimal.NewFromString(debt)
		sc.EstimatedLiquidatableDebtUSD, _ = decimal.NewFromString(liqDebt)
		sc.EstimatedLiquidatorProfitUSD, _ = decimal.NewFromString(profit)
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

const snapshotSelect = `
	SELECT id, chain_id, snapshot_hour, total_users, users_with_debt, users_at_risk,
	       users_excluded, users_below_floor,
	       total_collateral_usd::TEXT, total_debt_usd::TEXT, created_at
	FROM risk_snapshots`

// pgxRow covers both pgx.Row and pgx.Rows for single-row scanning.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanSnapshot(row pgxRow) (*model.RiskSnapshot, error) {
	var snap model.RiskSnapshot
	var collateral, debt string
	if err := row.Scan(&snap.ID, &snap.ChainID, &snap.SnapshotHour,
		&snap.TotalUsers, &snap.UsersWithDebt, &snap.UsersAtRisk,
		&snap.UsersExcluded, &snap.UsersBelowFloor,
		&collateral, &debt, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.TotalCollateralUSD, _ = decimal.NewFromString(collateral)
	snap.TotalDebtUSD, _ = decimal.NewFromString(debt)
	return &snap, nil
}

func (s *PostgresStore) loadBuckets(ctx context.Context, snap *model.RiskSnapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT bucket, count, total_collateral_usd::TEXT, total_debt_usd::TEXT
		 FROM risk_snapshot_buckets WHERE snapshot_id = $1`, snap.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var b model.BucketRow
		var collateral, debt string
		if err := rows.Scan(&b.Label, &b.Count, &collateral, &debt); err != nil {
			return err
		}
		b.TotalCollateralUSD, _ = decimal.NewFromString(collateral)
		b.TotalDebtUSD, _ = decimal.NewFromString(debt)
		snap.Buckets = append(snap.Buckets, b)
	}
	return rows.Err()
}
