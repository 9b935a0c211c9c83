package risk

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/config"
	"github.com/lendscan/risk-engine/internal/health"
	"github.com/lendscan/risk-engine/internal/liquidation"
	"github.com/lendscan/risk-engine/internal/model"
	"github.com/lendscan/risk-engine/internal/store"
	"github.com/lendscan/risk-engine/internal/subgraph"
)

// maxAffectedUsers caps the affected-user list in simulation responses.
// The simulator returns the full ranking; truncation is presentation only.
const maxAffectedUsers = 50

// Service serves risk analyses over HTTP. Live endpoints fetch and compute
// on demand; latest/history endpoints read persisted snapshots.
type Service struct {
	cfg      *config.Config
	store    store.Store
	fetchers map[string]subgraph.Fetcher // chainID → fetcher
	hub      *Hub                        // optional, may be nil
}

// NewService creates a risk service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(cfg *config.Config, st store.Store, fetchers map[string]subgraph.Fetcher, hub *Hub) *Service {
	return &Service{cfg: cfg, store: st, fetchers: fetchers, hub: hub}
}

// --- Response types (float64 only here, at the JSON boundary) ---

// PositionResponse is one position in a user detail record.
type PositionResponse struct {
	AssetSymbol          string  `json:"asset_symbol"`
	AssetAddress         string  `json:"asset_address"`
	CollateralUSD        float64 `json:"collateral_usd"`
	DebtUSD              float64 `json:"debt_usd"`
	LiquidationThreshold float64 `json:"liquidation_threshold"`
	IsCollateralEnabled  bool    `json:"is_collateral_enabled"`
}

// UserResponse is one user's risk detail record.
type UserResponse struct {
	UserAddress        string             `json:"user_address"`
	HealthFactor       *float64           `json:"health_factor"` // null = no debt
	TotalCollateralUSD float64            `json:"total_collateral_usd"`
	TotalDebtUSD       float64            `json:"total_debt_usd"`
	IsLiquidatable     bool               `json:"is_liquidatable"`
	Positions          []PositionResponse `json:"positions"`
}

// BucketResponse is one distribution band.
type BucketResponse struct {
	Bucket             string  `json:"bucket"`
	Count              int     `json:"count"`
	TotalCollateralUSD float64 `json:"total_collateral_usd"`
	TotalDebtUSD       float64 `json:"total_debt_usd"`
}

// ReserveResponse is one asset's configuration and population usage.
type ReserveResponse struct {
	Symbol               string  `json:"symbol"`
	Address              string  `json:"address"`
	LTV                  float64 `json:"ltv"`
	LiquidationThreshold float64 `json:"liquidation_threshold"`
	LiquidationBonus     float64 `json:"liquidation_bonus"`
	PriceUSD             float64 `json:"price_usd"`
	TotalCollateralUSD   float64 `json:"total_collateral_usd"`
	TotalDebtUSD         float64 `json:"total_debt_usd"`
}

// DataSourceInfo documents where the analyzed data came from.
type DataSourceInfo struct {
	PriceSource     string `json:"price_source"`
	OracleAddress   string `json:"oracle_address"`
	SnapshotTimeUTC string `json:"snapshot_time_utc"`
}

// SummaryResponse is the population-level risk summary.
type SummaryResponse struct {
	ChainID            string            `json:"chain_id"`
	DataSource         DataSourceInfo    `json:"data_source"`
	TotalUsers         int               `json:"total_users"`
	UsersWithDebt      int               `json:"users_with_debt"`
	UsersAtRisk        int               `json:"users_at_risk"`
	UsersExcluded      int               `json:"users_excluded"`
	UsersBelowFloor    int               `json:"users_below_floor"`
	TotalCollateralUSD float64           `json:"total_collateral_usd"`
	TotalDebtUSD       float64           `json:"total_debt_usd"`
	Distribution       []BucketResponse  `json:"distribution"`
	AtRiskUsers        []UserResponse    `json:"at_risk_users"`
	ReserveConfigs     []ReserveResponse `json:"reserve_configs"`
}

// AffectedUserResponse is one newly-liquidatable user in a scenario.
type AffectedUserResponse struct {
	UserAddress   string   `json:"user_address"`
	HFBefore      *float64 `json:"hf_before"`
	HFAfter       float64  `json:"hf_after"`
	CollateralUSD float64  `json:"collateral_usd"`
	DebtUSD       float64  `json:"debt_usd"`
}

// ScenarioResponse is one liquidation simulation result.
type ScenarioResponse struct {
	PriceDropPercent             float64                `json:"price_drop_percent"`
	AssetSymbol                  string                 `json:"asset_symbol"`
	AssetAddress                 string                 `json:"asset_address"`
	OriginalPriceUSD             float64                `json:"original_price_usd"`
	SimulatedPriceUSD            float64                `json:"simulated_price_usd"`
	UsersAtRisk                  int                    `json:"users_at_risk"`
	TotalCollateralAtRiskUSD     float64                `json:"total_collateral_at_risk_usd"`
	TotalDebtAtRiskUSD           float64                `json:"total_debt_at_risk_usd"`
	CloseFactor                  float64                `json:"close_factor"`
	LiquidationBonus             float64                `json:"liquidation_bonus"`
	EstimatedLiquidatableDebtUSD float64                `json:"estimated_liquidatable_debt_usd"`
	EstimatedLiquidatorProfitUSD float64                `json:"estimated_liquidator_profit_usd"`
	AffectedUsers                []AffectedUserResponse `json:"affected_users"`
}

// FullAnalysisResponse is the complete live-analysis payload.
type FullAnalysisResponse struct {
	Summary     SummaryResponse    `json:"summary"`
	Simulations []ScenarioResponse `json:"simulations"`
}

// --- HTTP handlers ---

// GetAnalysis handles GET /api/v1/risk/{chainID}
// Fetches the current population from the subgraph and computes a full
// analysis including the configured scenario batch.
func (s *Service) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	fetcher, ok := s.fetchers[chainID]
	if !ok {
		writeError(w, "unknown chain: "+chainID, http.StatusNotFound)
		return
	}

	analysis, status, errMsg := s.computeAnalysis(r, chainID, fetcher)
	if errMsg != "" {
		writeError(w, errMsg, status)
		return
	}

	resp := FullAnalysisResponse{
		Summary:     s.buildSummary(analysis),
		Simulations: buildScenarioResponses(analysis.Scenarios),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SimulateScenario handles GET /api/v1/risk/{chainID}/simulate?asset=0x..&drop=5
// Runs a single what-if scenario against the live population. drop must lie
// in [0,100); out-of-range values are rejected here so the unclamped core
// never sees them.
func (s *Service) SimulateScenario(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	fetcher, ok := s.fetchers[chainID]
	if !ok {
		writeError(w, "unknown chain: "+chainID, http.StatusNotFound)
		return
	}

	// Reserve rollups key addresses in lowercase; accept checksummed input.
	asset := strings.ToLower(r.URL.Query().Get("asset"))
	if asset == "" {
		writeError(w, "asset query parameter is required", http.StatusBadRequest)
		return
	}

	drop, err := decimal.NewFromString(r.URL.Query().Get("drop"))
	if err != nil {
		writeError(w, "drop must be a number", http.StatusBadRequest)
		return
	}
	if drop.IsNegative() || drop.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		writeError(w, "drop must be in [0,100)", http.StatusBadRequest)
		return
	}

	analysis, status, errMsg := s.computeAnalysis(r, chainID, fetcher)
	if errMsg != "" {
		writeError(w, errMsg, status)
		return
	}

	// The shocked asset's own bonus is authoritative; fall back to the
	// conventional 5% when the asset is unknown to the population.
	symbol := r.URL.Query().Get("symbol")
	bonus := defaultBonus
	for _, rr := range analysis.Reserves {
		if rr.Address == asset {
			if symbol == "" {
				symbol = rr.Symbol
			}
			if !rr.LiquidationBonus.IsZero() {
				bonus = rr.LiquidationBonus
			}
			break
		}
	}

	scenario := liquidation.Simulate(
		analysis.Valid, asset, symbol,
		drop, liquidation.DefaultCloseFactor, bonus,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buildScenarioResponse(scenario))
}

// ReserveConfigResponse is one reserve's protocol configuration, served
// straight from the subgraph without needing any user positions.
type ReserveConfigResponse struct {
	Symbol               string  `json:"symbol"`
	Address              string  `json:"address"`
	Decimals             int32   `json:"decimals"`
	LTV                  string  `json:"ltv"`
	LiquidationThreshold string  `json:"liquidation_threshold"`
	LiquidationBonus     string  `json:"liquidation_bonus"`
	CollateralEnabled    bool    `json:"collateral_enabled"`
	PriceUSD             *string `json:"price_usd"` // null when the oracle has no price
}

// GetReserves handles GET /api/v1/risk/{chainID}/reserves
// Returns every reserve's risk parameters and oracle price.
func (s *Service) GetReserves(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	fetcher, ok := s.fetchers[chainID]
	if !ok {
		writeError(w, "unknown chain: "+chainID, http.StatusNotFound)
		return
	}

	reserves, err := fetcher.FetchReservesConfig(r.Context())
	if err != nil {
		slog.Error("reserves fetch failed", "chain", chainID, "err", err)
		writeError(w, "failed to fetch from subgraph", http.StatusBadGateway)
		return
	}

	out := make([]ReserveConfigResponse, 0, len(reserves))
	for _, rr := range reserves {
		resp := ReserveConfigResponse{
			Symbol:               rr.Symbol,
			Address:              rr.UnderlyingAsset,
			Decimals:             rr.Decimals,
			LTV:                  rr.BaseLTVasCollateral,
			LiquidationThreshold: rr.ReserveLiquidationThreshold,
			LiquidationBonus:     rr.ReserveLiquidationBonus,
			CollateralEnabled:    rr.UsageAsCollateralEnabled,
		}
		if rr.HasUSDPrice() {
			p := rr.Price.PriceInUSD
			resp.PriceUSD = &p
		}
		out = append(out, resp)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// GetLatest handles GET /api/v1/risk/{chainID}/latest
// Returns the most recent persisted snapshot.
func (s *Service) GetLatest(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	snap, err := s.store.LatestRiskSnapshot(r.Context(), chainID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no snapshot available yet for "+chainID, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("latest snapshot load failed", "chain", chainID, "err", err)
		writeError(w, "failed to load latest snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// GetHistory handles GET /api/v1/risk/{chainID}/history?hours=24
// Returns the persisted snapshot time series.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed < 1 || parsed > 24*90 {
			writeError(w, "hours must be an integer between 1 and 2160", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	snaps, err := s.store.ListRiskSnapshots(r.Context(), chainID, from, to)
	if err != nil {
		writeError(w, "failed to load snapshot history", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.RiskSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snaps)
}

// computeAnalysis fetches, parses, and analyzes the live population.
func (s *Service) computeAnalysis(r *http.Request, chainID string, fetcher subgraph.Fetcher) (*Analysis, int, string) {
	maxUsers := s.cfg.Ingest.MaxUsers
	if q := r.URL.Query().Get("max_users"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed < 100 || parsed > 20000 {
			return nil, http.StatusBadRequest, "max_users must be an integer between 100 and 20000"
		}
		maxUsers = parsed
	}

	records, err := fetcher.FetchAllUserReserves(r.Context(), maxUsers)
	if err != nil {
		slog.Error("subgraph fetch failed", "chain", chainID, "err", err)
		return nil, http.StatusBadGateway, "failed to fetch from subgraph"
	}
	if len(records) == 0 {
		return nil, http.StatusNotFound, "no user positions found"
	}

	users, err := health.ParseUserReserves(records)
	if err != nil {
		slog.Error("population parse failed", "chain", chainID, "err", err)
		return nil, http.StatusBadGateway, "subgraph returned malformed position data"
	}

	analysis := Analyze(chainID, users, AnalyzeOptions{
		MinCollateralUSD:  decimal.NewFromFloat(s.cfg.Ingest.MinCollateralUSD),
		ShockAssetSymbol:  s.cfg.Ingest.ShockAssetSymbol,
		PriceDropPercents: dropPercents(s.cfg.Ingest.PriceDropPercents),
	})
	return analysis, 0, ""
}

func dropPercents(percents []int) []decimal.Decimal {
	out := make([]decimal.Decimal, len(percents))
	for i, p := range percents {
		out[i] = decimal.NewFromInt(int64(p))
	}
	return out
}

// --- Response builders ---

func (s *Service) buildSummary(a *Analysis) SummaryResponse {
	oracle := "unknown"
	if chain, err := s.cfg.GetChain(a.ChainID); err == nil {
		oracle = chain.OracleAddress
	}

	atRisk := make([]UserResponse, 0, len(a.AtRisk))
	for _, u := range a.AtRisk {
		atRisk = append(atRisk, buildUserResponse(u))
	}

	buckets := make([]BucketResponse, 0, len(a.Buckets))
	for _, b := range a.Buckets {
		buckets = append(buckets, BucketResponse{
			Bucket:             b.Label,
			Count:              b.Count,
			TotalCollateralUSD: b.TotalCollateralUSD.InexactFloat64(),
			TotalDebtUSD:       b.TotalDebtUSD.InexactFloat64(),
		})
	}

	reserves := make([]ReserveResponse, 0, len(a.Reserves))
	for _, r := range a.Reserves {
		reserves = append(reserves, ReserveResponse{
			Symbol:               r.Symbol,
			Address:              r.Address,
			LTV:                  r.LTV.InexactFloat64(),
			LiquidationThreshold: r.LiquidationThreshold.InexactFloat64(),
			LiquidationBonus:     r.LiquidationBonus.InexactFloat64(),
			PriceUSD:             r.PriceUSD.InexactFloat64(),
			TotalCollateralUSD:   r.TotalCollateralUSD.InexactFloat64(),
			TotalDebtUSD:         r.TotalDebtUSD.InexactFloat64(),
		})
	}

	return SummaryResponse{
		ChainID: a.ChainID,
		DataSource: DataSourceInfo{
			PriceSource:     "Aave V3 Oracle",
			OracleAddress:   oracle,
			SnapshotTimeUTC: a.SnapshotTime.Format("2006-01-02 15:04:05 UTC"),
		},
		TotalUsers:         len(a.Valid),
		UsersWithDebt:      a.UsersWithDebt,
		UsersAtRisk:        len(a.AtRisk),
		UsersExcluded:      a.UsersExcluded,
		UsersBelowFloor:    a.UsersBelowFloor,
		TotalCollateralUSD: a.TotalCollateralUSD.InexactFloat64(),
		TotalDebtUSD:       a.TotalDebtUSD.InexactFloat64(),
		Distribution:       buckets,
		AtRiskUsers:        atRisk,
		ReserveConfigs:     reserves,
	}
}

func buildUserResponse(u *health.UserAggregate) UserResponse {
	var hf *float64
	if v := u.HealthFactor(); v != nil {
		f := v.InexactFloat64()
		hf = &f
	}

	positions := make([]PositionResponse, 0, len(u.Positions))
	for _, p := range u.Positions {
		positions = append(positions, PositionResponse{
			AssetSymbol:          p.AssetSymbol,
			AssetAddress:         p.AssetAddress,
			CollateralUSD:        p.CollateralUSD().InexactFloat64(),
			DebtUSD:              p.DebtUSD().InexactFloat64(),
			LiquidationThreshold: p.LiquidationThresholdDecimal().InexactFloat64(),
			IsCollateralEnabled:  p.CollateralEnabled,
		})
	}

	return UserResponse{
		UserAddress:        u.UserAddress,
		HealthFactor:       hf,
		TotalCollateralUSD: u.TotalCollateralUSD().InexactFloat64(),
		TotalDebtUSD:       u.TotalDebtUSD().InexactFloat64(),
		IsLiquidatable:     u.IsLiquidatable(),
		Positions:          positions,
	}
}

func buildScenarioResponses(scenarios []liquidation.Scenario) []ScenarioResponse {
	out := make([]ScenarioResponse, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, buildScenarioResponse(s))
	}
	return out
}

func buildScenarioResponse(s liquidation.Scenario) ScenarioResponse {
	affected := s.AffectedUsers
	if len(affected) > maxAffectedUsers {
		affected = affected[:maxAffectedUsers]
	}

	users := make([]AffectedUserResponse, 0, len(affected))
	for _, u := range affected {
		var before *float64
		if u.HFBefore != nil {
			f := u.HFBefore.InexactFloat64()
			before = &f
		}
		users = append(users, AffectedUserResponse{
			UserAddress:   u.UserAddress,
			HFBefore:      before,
			HFAfter:       u.HFAfter.InexactFloat64(),
			CollateralUSD: u.CollateralUSD.InexactFloat64(),
			DebtUSD:       u.DebtUSD.InexactFloat64(),
		})
	}

	return ScenarioResponse{
		PriceDropPercent:             s.PriceDropPercent.InexactFloat64(),
		AssetSymbol:                  s.AssetSymbol,
		AssetAddress:                 s.AssetAddress,
		OriginalPriceUSD:             s.OriginalPriceUSD.InexactFloat64(),
		SimulatedPriceUSD:            s.SimulatedPriceUSD.InexactFloat64(),
		UsersAtRisk:                  s.UsersAtRisk,
		TotalCollateralAtRiskUSD:     s.TotalCollateralAtRiskUSD.InexactFloat64(),
		TotalDebtAtRiskUSD:           s.TotalDebtAtRiskUSD.InexactFloat64(),
		CloseFactor:                  s.CloseFactor.InexactFloat64(),
		LiquidationBonus:             s.LiquidationBonus.InexactFloat64(),
		EstimatedLiquidatableDebtUSD: s.EstimatedLiquidatableDebtUSD.InexactFloat64(),
		EstimatedLiquidatorProfitUSD: s.EstimatedLiquidatorProfitUSD.InexactFloat64(),
		AffectedUsers:                users,
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
