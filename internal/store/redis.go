package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lendscan/risk-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot paths: latest snapshot and scenario lookups. Writes go
// to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertRiskSnapshot(ctx context.Context, snap *model.RiskSnapshot) error {
	if err := s.primary.UpsertRiskSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheLatest(ctx, snap)
	return nil
}

func (s *CachedStore) ReplaceScenarios(ctx context.Context, snapshotID string, rows []model.ScenarioRow) error {
	if err := s.primary.ReplaceScenarios(ctx, snapshotID, rows); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, scenariosKey(snapshotID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) LatestRiskSnapshot(ctx context.Context, chainID string) (*model.RiskSnapshot, error) {
	data, err := s.rdb.Get(ctx, latestKey(chainID)).Bytes()
	if err == nil {
		var snap model.RiskSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LatestRiskSnapshot(ctx, chainID)
	if err != nil {
		return nil, err
	}

	s.cacheLatest(ctx, snap)
	return snap, nil
}

func (s *CachedStore) ScenariosBySnapshot(ctx context.Context, snapshotID string) ([]model.ScenarioRow, error) {
	data, err := s.rdb.Get(ctx, scenariosKey(snapshotID)).Bytes()
	if err == nil {
		var rows []model.ScenarioRow
		if json.Unmarshal(data, &rows) == nil {
			return rows, nil
		}
	}

	rows, err := s.primary.ScenariosBySnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rows); err == nil {
		s.rdb.Set(ctx, scenariosKey(snapshotID), data, s.ttl)
	}
	return rows, nil
}

func (s *CachedStore) UpsertReserveSnapshots(ctx context.Context, snaps []*model.ReserveSnapshot) (int, error) {
	n, err := s.primary.UpsertReserveSnapshots(ctx, snaps)
	if err != nil {
		return n, err
	}
	// Invalidate the overview; next read re-populates.
	s.rdb.Del(ctx, overviewKey)
	return n, nil
}

func (s *CachedStore) LatestReserveSnapshots(ctx context.Context) ([]model.ReserveSnapshot, error) {
	data, err := s.rdb.Get(ctx, overviewKey).Bytes()
	if err == nil {
		var snaps []model.ReserveSnapshot
		if json.Unmarshal(data, &snaps) == nil {
			return snaps, nil
		}
	}

	snaps, err := s.primary.LatestReserveSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snaps); err == nil {
		s.rdb.Set(ctx, overviewKey, data, s.ttl)
	}
	return snaps, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRiskSnapshots(ctx context.Context, chainID string, from, to time.Time) ([]model.RiskSnapshot, error) {
	return s.primary.ListRiskSnapshots(ctx, chainID, from, to)
}

func (s *CachedStore) LatestReserveSnapshot(ctx context.Context, chainID, marketID, assetAddress string) (*model.ReserveSnapshot, error) {
	return s.primary.LatestReserveSnapshot(ctx, chainID, marketID, assetAddress)
}

func (s *CachedStore) ListReserveSnapshots(ctx context.Context, chainID, marketID, assetAddress string, from, to time.Time) ([]model.ReserveSnapshot, error) {
	return s.primary.ListReserveSnapshots(ctx, chainID, marketID, assetAddress, from, to)
}

func (s *CachedStore) MaxReserveSnapshotTimestamp(ctx context.Context, chainID, assetAddress string) (int64, error) {
	return s.primary.MaxReserveSnapshotTimestamp(ctx, chainID, assetAddress)
}

func (s *CachedStore) InsertProtocolEvents(ctx context.Context, events []*model.ProtocolEvent) (int, error) {
	return s.primary.InsertProtocolEvents(ctx, events)
}

func (s *CachedStore) MaxEventTimestamp(ctx context.Context, chainID, eventType string) (int64, error) {
	return s.primary.MaxEventTimestamp(ctx, chainID, eventType)
}

func (s *CachedStore) RecentEvents(ctx context.Context, chainID, eventType string, limit int) ([]model.ProtocolEvent, error) {
	return s.primary.RecentEvents(ctx, chainID, eventType, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheLatest(ctx context.Context, snap *model.RiskSnapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, latestKey(snap.ChainID), data, s.ttl)
	}
}

const overviewKey = "market:overview"

func latestKey(chainID string) string   { return fmt.Sprintf("risk:latest:%s", chainID) }
func scenariosKey(snapID string) string { return fmt.Sprintf("risk:scenarios:%s", snapID) }
