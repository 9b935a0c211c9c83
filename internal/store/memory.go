package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendscan/risk-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	snapshots    map[string][]model.RiskSnapshot    // chainID → snapshots
	scenarios    map[string][]model.ScenarioRow     // snapshotID → scenarios
	reserveSnaps map[string][]model.ReserveSnapshot // chainID → reserve snapshots
	events       map[string]model.ProtocolEvent     // event ID → event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:    make(map[string][]model.RiskSnapshot),
		scenarios:    make(map[string][]model.ScenarioRow),
		reserveSnaps: make(map[string][]model.ReserveSnapshot),
		events:       make(map[string]model.ProtocolEvent),
	}
}

func (s *MemoryStore) UpsertRiskSnapshot(_ context.Context, snap *model.RiskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.snapshots[snap.ChainID]
	for i, existing := range snaps {
		if existing.SnapshotHour.Equal(snap.SnapshotHour) {
			snap.ID = existing.ID // keep the original id, like the SQL upsert
			snaps[i] = *snap
			return nil
		}
	}

	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	s.snapshots[snap.ChainID] = append(snaps, *snap)
	return nil
}

func (s *MemoryStore) LatestRiskSnapshot(_ context.Context, chainID string) (*model.RiskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[chainID]
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no snapshots for chain %s: %w", chainID, ErrNotFound)
	}

	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.SnapshotHour.After(latest.SnapshotHour) {
			latest = snap
		}
	}
	return &latest, nil
}

func (s *MemoryStore) ListRiskSnapshots(_ context.Context, chainID string, from, to time.Time) ([]model.RiskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RiskSnapshot
	for _, snap := range s.snapshots[chainID] {
		if snap.SnapshotHour.Before(from) || snap.SnapshotHour.After(to) {
			continue
		}
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SnapshotHour.Before(result[j].SnapshotHour)
	})
	return result, nil
}

func (s *MemoryStore) ReplaceScenarios(_ context.Context, snapshotID string, rows []model.ScenarioRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.ScenarioRow, len(rows))
	for i, r := range rows {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		copied[i] = r
	}
	s.scenarios[snapshotID] = copied
	return nil
}

func (s *MemoryStore) ScenariosBySnapshot(_ context.Context, snapshotID string) ([]model.ScenarioRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]model.ScenarioRow, len(s.scenarios[snapshotID]))
	copy(rows, s.scenarios[snapshotID])
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].PriceDropPercent.LessThan(rows[j].PriceDropPercent)
	})
	return rows, nil
}

func (s *MemoryStore) UpsertReserveSnapshots(_ context.Context, snaps []*model.ReserveSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, snap := range snaps {
		existing := s.reserveSnaps[snap.ChainID]
		replaced := false
		for i, e := range existing {
			if e.MarketID == snap.MarketID && e.AssetAddress == snap.AssetAddress &&
				e.TimestampHour.Equal(snap.TimestampHour) {
				snap.ID = e.ID // keep the original id, like the SQL upsert
				existing[i] = *snap
				replaced = true
				break
			}
		}
		if !replaced {
			if snap.ID == "" {
				snap.ID = uuid.New().String()
			}
			s.reserveSnaps[snap.ChainID] = append(existing, *snap)
		}
		written++
	}
	return written, nil
}

func (s *MemoryStore) LatestReserveSnapshot(_ context.Context, chainID, marketID, assetAddress string) (*model.ReserveSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.ReserveSnapshot
	for i, snap := range s.reserveSnaps[chainID] {
		if snap.MarketID != marketID || snap.AssetAddress != assetAddress {
			continue
		}
		if latest == nil || snap.TimestampHour.After(latest.TimestampHour) {
			latest = &s.reserveSnaps[chainID][i]
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no reserve snapshots for %s/%s/%s: %w", chainID, marketID, assetAddress, ErrNotFound)
	}
	out := *latest
	return &out, nil
}

func (s *MemoryStore) LatestReserveSnapshots(_ context.Context) ([]model.ReserveSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ chain, market, asset string }
	latest := make(map[key]model.ReserveSnapshot)
	for chainID, snaps := range s.reserveSnaps {
		for _, snap := range snaps {
			k := key{chainID, snap.MarketID, snap.AssetAddress}
			if cur, ok := latest[k]; !ok || snap.TimestampHour.After(cur.TimestampHour) {
				latest[k] = snap
			}
		}
	}

	out := make([]model.ReserveSnapshot, 0, len(latest))
	for _, snap := range latest {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChainID != out[j].ChainID {
			return out[i].ChainID < out[j].ChainID
		}
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].AssetAddress < out[j].AssetAddress
	})
	return out, nil
}

func (s *MemoryStore) ListReserveSnapshots(_ context.Context, chainID, marketID, assetAddress string, from, to time.Time) ([]model.ReserveSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ReserveSnapshot
	for _, snap := range s.reserveSnaps[chainID] {
		if snap.MarketID != marketID || snap.AssetAddress != assetAddress {
			continue
		}
		if snap.TimestampHour.Before(from) || snap.TimestampHour.After(to) {
			continue
		}
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampHour.Before(result[j].TimestampHour)
	})
	return result, nil
}

func (s *MemoryStore) MaxReserveSnapshotTimestamp(_ context.Context, chainID, assetAddress string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, snap := range s.reserveSnaps[chainID] {
		if snap.AssetAddress == assetAddress && snap.Timestamp > max {
			max = snap.Timestamp
		}
	}
	return max, nil
}

func (s *MemoryStore) InsertProtocolEvents(_ context.Context, events []*model.ProtocolEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, ev := range events {
		if _, exists := s.events[ev.ID]; exists {
			continue
		}
		s.events[ev.ID] = *ev
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) MaxEventTimestamp(_ context.Context, chainID, eventType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, ev := range s.events {
		if ev.ChainID == chainID && ev.EventType == eventType && ev.Timestamp > max {
			max = ev.Timestamp
		}
	}
	return max, nil
}

func (s *MemoryStore) RecentEvents(_ context.Context, chainID, eventType string, limit int) ([]model.ProtocolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ProtocolEvent
	for _, ev := range s.events {
		if ev.ChainID != chainID {
			continue
		}
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		result = append(result, ev)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp > result[j].Timestamp
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
