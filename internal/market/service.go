package market

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
	"github.com/lendscan/risk-engine/internal/model"
	"github.com/lendscan/risk-engine/internal/store"
)

// Service serves the persisted market-data series over HTTP: per-asset
// snapshot history, latest state, the cross-chain overview, and recent
// protocol events.
type Service struct {
	cfg   *config.Config
	store store.Store
}

// NewService creates a market service.
func NewService(cfg *config.Config, st store.Store) *Service {
	return &Service{cfg: cfg, store: st}
}

// --- Response types (exact decimal strings at the JSON boundary) ---

// RateModelResponse is a reserve's interest rate strategy.
type RateModelResponse struct {
	OptimalUtilizationRate string `json:"optimal_utilization_rate"`
	BaseVariableBorrowRate string `json:"base_variable_borrow_rate"`
	VariableRateSlope1     string `json:"variable_rate_slope1"`
	VariableRateSlope2     string `json:"variable_rate_slope2"`
}

// SnapshotResponse is one hourly reserve snapshot.
type SnapshotResponse struct {
	TimestampHour      time.Time          `json:"timestamp_hour"`
	ChainID            string             `json:"chain_id"`
	MarketID           string             `json:"market_id"`
	AssetSymbol        string             `json:"asset_symbol"`
	AssetAddress       string             `json:"asset_address"`
	BorrowCap          string             `json:"borrow_cap"`
	SupplyCap          string             `json:"supply_cap"`
	SuppliedAmount     string             `json:"supplied_amount"`
	SuppliedValueUSD   *string            `json:"supplied_value_usd"`
	BorrowedAmount     string             `json:"borrowed_amount"`
	BorrowedValueUSD   *string            `json:"borrowed_value_usd"`
	AvailableLiquidity string             `json:"available_liquidity"`
	PriceUSD           *string            `json:"price_usd"`
	Utilization        string             `json:"utilization"`
	RateModel          *RateModelResponse `json:"rate_model"`
}

// HistoryResponse is the hourly series for one asset on one market.
type HistoryResponse struct {
	ChainID      string             `json:"chain_id"`
	MarketID     string             `json:"market_id"`
	AssetSymbol  string             `json:"asset_symbol"`
	AssetAddress string             `json:"asset_address"`
	Snapshots    []SnapshotResponse `json:"snapshots"`
	RateModel    *RateModelResponse `json:"rate_model"`
}

// AssetOverview is one asset's latest state in the overview.
type AssetOverview struct {
	AssetSymbol      string    `json:"asset_symbol"`
	AssetAddress     string    `json:"asset_address"`
	Utilization      string    `json:"utilization"`
	SuppliedAmount   string    `json:"supplied_amount"`
	SuppliedValueUSD *string   `json:"supplied_value_usd"`
	BorrowedAmount   string    `json:"borrowed_amount"`
	BorrowedValueUSD *string   `json:"borrowed_value_usd"`
	PriceUSD         *string   `json:"price_usd"`
	TimestampHour    time.Time `json:"timestamp_hour"`
}

// MarketOverview groups asset overviews per market.
type MarketOverview struct {
	MarketID   string          `json:"market_id"`
	MarketName string          `json:"market_name"`
	Assets     []AssetOverview `json:"assets"`
}

// ChainOverview groups market overviews per chain.
type ChainOverview struct {
	ChainID   string           `json:"chain_id"`
	ChainName string           `json:"chain_name"`
	Markets   []MarketOverview `json:"markets"`
}

// OverviewResponse is the full cross-chain overview.
type OverviewResponse struct {
	Chains []ChainOverview `json:"chains"`
}

// EventResponse is one protocol event.
type EventResponse struct {
	ID                     string  `json:"id"`
	ChainID                string  `json:"chain_id"`
	EventType              string  `json:"event_type"`
	Timestamp              int64   `json:"timestamp"`
	TxHash                 string  `json:"tx_hash,omitempty"`
	UserAddress            string  `json:"user_address"`
	LiquidatorAddress      string  `json:"liquidator_address,omitempty"`
	AssetSymbol            string  `json:"asset_symbol"`
	AssetAddress           string  `json:"asset_address"`
	Amount                 string  `json:"amount"`
	AmountUSD              *string `json:"amount_usd"`
	CollateralAssetSymbol  string  `json:"collateral_asset_symbol,omitempty"`
	CollateralAssetAddress string  `json:"collateral_asset_address,omitempty"`
	CollateralAmount       *string `json:"collateral_amount,omitempty"`
}

// --- HTTP handlers ---

// GetHistory handles GET /api/v1/markets/{chainID}/{marketID}/{asset}/history?hours=24
// Returns the stored hourly snapshots for the last N hours (max one week).
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	marketID := chi.URLParam(r, "marketID")
	asset := normalizeAddress(chi.URLParam(r, "asset"))

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed < 1 || parsed > 168 {
			writeError(w, "hours must be an integer between 1 and 168", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)
	snaps, err := s.store.ListReserveSnapshots(r.Context(), chainID, marketID, asset, from, to)
	if err != nil {
		slog.Error("snapshot history load failed", "chain", chainID, "asset", asset, "err", err)
		writeError(w, "failed to load market history", http.StatusInternalServerError)
		return
	}
	if len(snaps) == 0 {
		writeError(w, "no data found for this market/asset", http.StatusNotFound)
		return
	}

	latest := snaps[len(snaps)-1]
	resp := HistoryResponse{
		ChainID:      chainID,
		MarketID:     marketID,
		AssetSymbol:  latest.AssetSymbol,
		AssetAddress: asset,
		Snapshots:    make([]SnapshotResponse, 0, len(snaps)),
		RateModel:    buildRateModel(latest.RateModel),
	}
	for _, snap := range snaps {
		resp.Snapshots = append(resp.Snapshots, buildSnapshot(snap))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetLatest handles GET /api/v1/markets/{chainID}/{marketID}/{asset}/latest
// Returns the newest stored snapshot for one asset.
func (s *Service) GetLatest(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	marketID := chi.URLParam(r, "marketID")
	asset := normalizeAddress(chi.URLParam(r, "asset"))

	snap, err := s.store.LatestReserveSnapshot(r.Context(), chainID, marketID, asset)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no data found for this market/asset", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("latest reserve snapshot load failed", "chain", chainID, "asset", asset, "err", err)
		writeError(w, "failed to load latest snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buildSnapshot(*snap))
}

// GetOverview handles GET /api/v1/overview
// Returns the latest values for every configured chain, market, and asset.
// Assets with no stored snapshot yet are omitted.
func (s *Service) GetOverview(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.LatestReserveSnapshots(r.Context())
	if err != nil {
		slog.Error("overview load failed", "err", err)
		writeError(w, "failed to load overview", http.StatusInternalServerError)
		return
	}

	type key struct{ chain, market, asset string }
	index := make(map[key]model.ReserveSnapshot, len(latest))
	for _, snap := range latest {
		index[key{snap.ChainID, snap.MarketID, snap.AssetAddress}] = snap
	}

	resp := OverviewResponse{Chains: []ChainOverview{}}
	for _, chain := range s.cfg.Chains {
		var markets []MarketOverview
		for _, mkt := range s.cfg.MarketsForChain(chain.ChainID) {
			var assets []AssetOverview
			for _, asset := range mkt.Assets {
				snap, ok := index[key{chain.ChainID, mkt.MarketID, asset.Address}]
				if !ok {
					continue
				}
				assets = append(assets, AssetOverview{
					AssetSymbol:      snap.AssetSymbol,
					AssetAddress:     snap.AssetAddress,
					Utilization:      snap.Utilization.String(),
					SuppliedAmount:   snap.SuppliedAmount.String(),
					SuppliedValueUSD: decimalString(snap.SuppliedValueUSD),
					BorrowedAmount:   snap.BorrowedAmount.String(),
					BorrowedValueUSD: decimalString(snap.BorrowedValueUSD),
					PriceUSD:         decimalString(snap.PriceUSD),
					TimestampHour:    snap.TimestampHour,
				})
			}
			if len(assets) > 0 {
				markets = append(markets, MarketOverview{
					MarketID:   mkt.MarketID,
					MarketName: mkt.Name,
					Assets:     assets,
				})
			}
		}
		if len(markets) > 0 {
			resp.Chains = append(resp.Chains, ChainOverview{
				ChainID:   chain.ChainID,
				ChainName: chain.Name,
				Markets:   markets,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetEvents handles GET /api/v1/events/{chainID}?type=liquidation&limit=50
// Returns the newest stored protocol events, newest first.
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	if _, err := s.cfg.GetChain(chainID); err != nil {
		writeError(w, "unknown chain: "+chainID, http.StatusNotFound)
		return
	}

	eventType := r.URL.Query().Get("type")
	if eventType != "" && !model.IsEventType(eventType) {
		writeError(w, "unknown event type: "+eventType, http.StatusBadRequest)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, "limit must be an integer between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := s.store.RecentEvents(r.Context(), chainID, eventType, limit)
	if err != nil {
		slog.Error("events load failed", "chain", chainID, "err", err)
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, EventResponse{
			ID:                     ev.ID,
			ChainID:                ev.ChainID,
			EventType:              ev.EventType,
			Timestamp:              ev.Timestamp,
			TxHash:                 ev.TxHash,
			UserAddress:            ev.UserAddress,
			LiquidatorAddress:      ev.LiquidatorAddress,
			AssetSymbol:            ev.AssetSymbol,
			AssetAddress:           ev.AssetAddress,
			Amount:                 ev.Amount.String(),
			AmountUSD:              decimalString(ev.AmountUSD),
			CollateralAssetSymbol:  ev.CollateralAssetSymbol,
			CollateralAssetAddress: ev.CollateralAssetAddress,
			CollateralAmount:       decimalString(ev.CollateralAmount),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// --- Response builders ---

func buildSnapshot(snap model.ReserveSnapshot) SnapshotResponse {
	return SnapshotResponse{
		TimestampHour:      snap.TimestampHour,
		ChainID:            snap.ChainID,
		MarketID:           snap.MarketID,
		AssetSymbol:        snap.AssetSymbol,
		AssetAddress:       snap.AssetAddress,
		BorrowCap:          snap.BorrowCap.String(),
		SupplyCap:          snap.SupplyCap.String(),
		SuppliedAmount:     snap.SuppliedAmount.String(),
		SuppliedValueUSD:   decimalString(snap.SuppliedValueUSD),
		BorrowedAmount:     snap.BorrowedAmount.String(),
		BorrowedValueUSD:   decimalString(snap.BorrowedValueUSD),
		AvailableLiquidity: snap.AvailableLiquidity.String(),
		PriceUSD:           decimalString(snap.PriceUSD),
		Utilization:        snap.Utilization.String(),
		RateModel:          buildRateModel(snap.RateModel),
	}
}

func buildRateModel(rm *model.RateModelParams) *RateModelResponse {
	if rm == nil {
		return nil
	}
	return &RateModelResponse{
		OptimalUtilizationRate: rm.OptimalUtilization.String(),
		BaseVariableBorrowRate: rm.BaseVariableBorrowRate.String(),
		VariableRateSlope1:     rm.VariableRateSlope1.String(),
		VariableRateSlope2:     rm.VariableRateSlope2.String(),
	}
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func normalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
