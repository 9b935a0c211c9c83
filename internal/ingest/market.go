package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lendscan/risk-engine/internal/market"
	"github.com/lendscan/risk-engine/internal/metrics"
	"github.com/lendscan/risk-engine/internal/model"
)

// runMarketData ingests the reserve snapshot series and protocol events
// for one chain. Both use store-side cursors so a cycle only fetches what
// is newer than the last stored row.
func (j *Job) runMarketData(ctx context.Context, chainID string) error {
	if err := j.ingestReserveSnapshots(ctx, chainID); err != nil {
		return fmt.Errorf("reserve snapshots: %w", err)
	}
	if err := j.ingestEvents(ctx, chainID); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

func (j *Job) ingestReserveSnapshots(ctx context.Context, chainID string) error {
	fetcher := j.fetchers[chainID]
	chain, err := j.cfg.GetChain(chainID)
	if err != nil {
		return err
	}

	// Current reserve configs carry the rate strategies the history items
	// lack; key them by lowercase address.
	reserves, err := fetcher.FetchReservesConfig(ctx)
	if err != nil {
		return err
	}
	rateModels := make(map[string]*model.RateModelParams, len(reserves))
	for _, r := range reserves {
		rm, err := market.RateModelFromReserve(r)
		if err != nil {
			slog.Warn("skipping rate strategy", "chain", chainID, "asset", r.UnderlyingAsset, "err", err)
			continue
		}
		if rm != nil {
			rateModels[strings.ToLower(r.UnderlyingAsset)] = rm
		}
	}

	for _, mkt := range j.cfg.MarketsForChain(chainID) {
		for _, asset := range mkt.Assets {
			if err := j.ingestAssetHistory(ctx, chainID, chain.PoolAddress, mkt.MarketID, asset.Symbol, asset.Address, rateModels[asset.Address]); err != nil {
				// One asset failing does not stop the rest of the market.
				slog.Error("reserve snapshot ingestion failed",
					"chain", chainID, "market", mkt.MarketID, "asset", asset.Symbol, "err", err)
			}
		}
	}
	return nil
}

func (j *Job) ingestAssetHistory(ctx context.Context, chainID, poolAddress, marketID, symbol, address string, rateModel *model.RateModelParams) error {
	fetcher := j.fetchers[chainID]

	from, err := j.store.MaxReserveSnapshotTimestamp(ctx, chainID, address)
	if err != nil {
		return err
	}
	if from == 0 {
		from = j.cfg.Ingest.BackfillStartUnix
	}

	// Subgraph reserve IDs concatenate the asset address with the
	// PoolAddressesProvider address.
	items, err := fetcher.FetchReserveHistory(ctx, address+poolAddress, from)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	snaps := make([]*model.ReserveSnapshot, 0, len(items))
	for _, item := range items {
		snap, err := market.SnapshotFromHistoryItem(item, chainID, marketID, rateModel)
		if err != nil {
			return err
		}
		snaps = append(snaps, snap)
	}
	snaps = market.DedupeSnapshots(snaps)

	written, err := j.store.UpsertReserveSnapshots(ctx, snaps)
	if err != nil {
		return err
	}
	metrics.ReserveSnapshotsIngested.WithLabelValues(chainID).Add(float64(written))
	slog.Info("reserve snapshots stored",
		"chain", chainID, "asset", symbol, "items", len(items), "written", written)
	return nil
}

func (j *Job) ingestEvents(ctx context.Context, chainID string) error {
	fetcher := j.fetchers[chainID]

	for _, eventType := range j.cfg.Ingest.EventTypes {
		from, err := j.store.MaxEventTimestamp(ctx, chainID, eventType)
		if err != nil {
			return err
		}
		if from == 0 {
			from = j.cfg.Ingest.BackfillStartUnix
		}

		records, err := fetcher.FetchEvents(ctx, eventType, from, j.cfg.Ingest.MaxEventsPerCycle)
		if err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		if len(records) == 0 {
			continue
		}

		events := make([]*model.ProtocolEvent, 0, len(records))
		for _, raw := range records {
			ev, err := market.EventFromRecord(eventType, raw, chainID)
			if err != nil {
				return fmt.Errorf("%s: %w", eventType, err)
			}
			events = append(events, ev)
		}

		inserted, err := j.store.InsertProtocolEvents(ctx, events)
		if err != nil {
			return fmt.Errorf("%s: %w", eventType, err)
		}
		metrics.EventsIngested.WithLabelValues(chainID, eventType).Add(float64(inserted))
		slog.Info("protocol events stored",
			"chain", chainID, "type", eventType, "fetched", len(records), "inserted", inserted)
	}
	return nil
}
