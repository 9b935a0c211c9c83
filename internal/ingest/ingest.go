// Package ingest runs the scheduled analysis cycle: fetch the population
// from each chain's subgraph, compute the risk analysis, persist the hourly
// snapshot, and broadcast the result.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/config"
	"github.com/lendscan/risk-engine/internal/health"
	"github.com/lendscan/risk-engine/internal/metrics"
	"github.com/lendscan/risk-engine/internal/risk"
	"github.com/lendscan/risk-engine/internal/store"
	"github.com/lendscan/risk-engine/internal/subgraph"
)

// Job is the scheduled ingestion job. One Job covers all configured chains.
type Job struct {
	cfg      *config.Config
	store    store.Store
	fetchers map[string]subgraph.Fetcher
	hub      *risk.Hub // optional, may be nil
}

// New creates an ingestion job.
func New(cfg *config.Config, st store.Store, fetchers map[string]subgraph.Fetcher, hub *risk.Hub) *Job {
	return &Job{cfg: cfg, store: st, fetchers: fetchers, hub: hub}
}

// Run executes one cycle immediately, then repeats on the configured
// interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	interval := time.Duration(j.cfg.Ingest.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	j.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest loop stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce runs one full cycle across all configured chains. Per-chain
// failures are logged and counted; one chain failing does not stop the rest.
func (j *Job) RunOnce(ctx context.Context) {
	for chainID := range j.fetchers {
		start := time.Now()
		err := j.runChain(ctx, chainID)
		metrics.IngestDuration.WithLabelValues(chainID).Observe(time.Since(start).Seconds())

		if err != nil {
			metrics.IngestRunsTotal.WithLabelValues(chainID, "error").Inc()
			slog.Error("ingest cycle failed", "chain", chainID, "err", err)
			continue
		}
		metrics.IngestRunsTotal.WithLabelValues(chainID, "ok").Inc()

		// Market data rides the same cycle but fails independently: a
		// broken history or event query must not mark the risk run failed.
		if err := j.runMarketData(ctx, chainID); err != nil {
			slog.Error("market data cycle failed", "chain", chainID, "err", err)
		}
	}
}

func (j *Job) runChain(ctx context.Context, chainID string) error {
	fetcher := j.fetchers[chainID]

	records, err := fetcher.FetchAllUserReserves(ctx, j.cfg.Ingest.MaxUsers)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		slog.Warn("no user positions returned", "chain", chainID)
		return nil
	}

	users, err := health.ParseUserReserves(records)
	if err != nil {
		return err
	}

	analysis := risk.Analyze(chainID, users, risk.AnalyzeOptions{
		MinCollateralUSD:  decimal.NewFromFloat(j.cfg.Ingest.MinCollateralUSD),
		ShockAssetSymbol:  j.cfg.Ingest.ShockAssetSymbol,
		PriceDropPercents: toDecimals(j.cfg.Ingest.PriceDropPercents),
	})

	snap := analysis.Snapshot()
	if err := j.store.UpsertRiskSnapshot(ctx, snap); err != nil {
		return err
	}
	if err := j.store.ReplaceScenarios(ctx, snap.ID, analysis.ScenarioRows(snap.ID)); err != nil {
		return err
	}

	metrics.UsersTracked.WithLabelValues(chainID).Set(float64(len(analysis.Valid)))
	metrics.UsersAtRisk.WithLabelValues(chainID).Set(float64(len(analysis.AtRisk)))
	metrics.TotalDebtUSD.WithLabelValues(chainID).Set(analysis.TotalDebtUSD.InexactFloat64())

	if j.hub != nil {
		j.hub.BroadcastAnalysis(analysis)
	}

	slog.Info("ingest cycle complete",
		"chain", chainID,
		"records", len(records),
		"users", len(analysis.Valid),
		"excluded", analysis.UsersExcluded,
		"at_risk", len(analysis.AtRisk),
		"scenarios", len(analysis.Scenarios),
	)
	return nil
}

func toDecimals(percents []int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(percents))
	for i, p := range percents {
		out[i] = decimal.NewFromInt(int64(p))
	}
	return out
}
