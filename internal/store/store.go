// Package store defines the persistence interface for risk snapshots.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lendscan/risk-engine/internal/model"
)

// ErrNotFound is returned when a lookup matches no rows. Callers use it to
// tell an empty store apart from a broken one.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Risk snapshots are keyed by
// (chain_id, snapshot_hour): re-running an analysis within the same hour
// overwrites the previous row. Reserve snapshots are keyed by
// (chain_id, market_id, asset_address, timestamp_hour); protocol events by
// their subgraph ID.
type Store interface {
	// UpsertRiskSnapshot inserts or replaces the snapshot for its
	// chain+hour key and fills in snap.ID.
	UpsertRiskSnapshot(ctx context.Context, snap *model.RiskSnapshot) error

	// LatestRiskSnapshot returns the most recent snapshot for a chain.
	LatestRiskSnapshot(ctx context.Context, chainID string) (*model.RiskSnapshot, error)

	// ListRiskSnapshots returns snapshots for a chain within [from, to],
	// oldest first.
	ListRiskSnapshots(ctx context.Context, chainID string, from, to time.Time) ([]model.RiskSnapshot, error)

	// ReplaceScenarios replaces the scenario rows attached to a snapshot.
	ReplaceScenarios(ctx context.Context, snapshotID string, rows []model.ScenarioRow) error

	// ScenariosBySnapshot returns the scenario rows for a snapshot ordered
	// by drop percent ascending.
	ScenariosBySnapshot(ctx context.Context, snapshotID string) ([]model.ScenarioRow, error)

	// UpsertReserveSnapshots inserts or replaces hourly reserve snapshots
	// by their chain+market+asset+hour key and returns how many were
	// written.
	UpsertReserveSnapshots(ctx context.Context, snaps []*model.ReserveSnapshot) (int, error)

	// LatestReserveSnapshot returns the newest snapshot for one asset on
	// one market, or ErrNotFound.
	LatestReserveSnapshot(ctx context.Context, chainID, marketID, assetAddress string) (*model.ReserveSnapshot, error)

	// LatestReserveSnapshots returns the newest snapshot per
	// (chain, market, asset) across all chains.
	LatestReserveSnapshots(ctx context.Context) ([]model.ReserveSnapshot, error)

	// ListReserveSnapshots returns one asset's snapshots within [from, to],
	// oldest first.
	ListReserveSnapshots(ctx context.Context, chainID, marketID, assetAddress string, from, to time.Time) ([]model.ReserveSnapshot, error)

	// MaxReserveSnapshotTimestamp returns the ingestion cursor for one
	// asset: the newest raw timestamp stored, or 0 when none.
	MaxReserveSnapshotTimestamp(ctx context.Context, chainID, assetAddress string) (int64, error)

	// InsertProtocolEvents inserts events, skipping IDs already stored,
	// and returns how many were actually inserted.
	InsertProtocolEvents(ctx context.Context, events []*model.ProtocolEvent) (int, error)

	// MaxEventTimestamp returns the ingestion cursor for one chain and
	// event type: the newest timestamp stored, or 0 when none.
	MaxEventTimestamp(ctx context.Context, chainID, eventType string) (int64, error)

	// RecentEvents returns the newest events for a chain, newest first,
	// optionally filtered by event type ("" = all types).
	RecentEvents(ctx context.Context, chainID, eventType string, limit int) ([]model.ProtocolEvent, error)
}
