// Package config loads the risk engine configuration: which chains and
// markets to track, subgraph client tuning, and ingestion/analysis policy.
//
// Configuration is an explicit structure passed into the collaborator
// layers, never process-wide state. A YAML file can override the built-in
// defaults; secrets (the subgraph API key, database URLs) come from the
// environment and are injected by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lendscan/risk-engine/internal/model"
)

var (
	ErrUnknownChain = errors.New("config: unknown chain")

	// addressRegex matches a lowercase 0x-prefixed EVM address, the form
	// the subgraph expects in queries.
	addressRegex = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
)

// Config is the complete engine configuration.
type Config struct {
	Chains   []ChainConfig  `yaml:"chains"`
	Markets  []MarketConfig `yaml:"markets"`
	Subgraph SubgraphConfig `yaml:"subgraph"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

// ChainConfig describes one chain's subgraph endpoint and oracle.
type ChainConfig struct {
	ChainID       string `yaml:"chain_id"`
	Name          string `yaml:"name"`
	SubgraphURL   string `yaml:"subgraph_url"` // may contain {api_key}
	PoolAddress   string `yaml:"pool_address"` // PoolAddressesProvider
	OracleAddress string `yaml:"oracle_address"`
}

// URL returns the subgraph URL with the API key substituted.
func (c ChainConfig) URL(apiKey string) string {
	return strings.ReplaceAll(c.SubgraphURL, "{api_key}", apiKey)
}

// AssetConfig names one tracked asset. Addresses are lowercase 0x-prefixed.
type AssetConfig struct {
	Symbol  string `yaml:"symbol"`
	Address string `yaml:"address"`
}

// MarketConfig groups the assets tracked for one deployment of the protocol.
type MarketConfig struct {
	MarketID string        `yaml:"market_id"`
	Name     string        `yaml:"name"`
	ChainID  string        `yaml:"chain_id"`
	Assets   []AssetConfig `yaml:"assets"`
}

// SubgraphConfig tunes the subgraph HTTP client.
type SubgraphConfig struct {
	TimeoutSeconds         int     `yaml:"timeout_seconds"`
	RPS                    float64 `yaml:"rps"`
	Burst                  int     `yaml:"burst"`
	BreakerMaxFailures     uint32  `yaml:"breaker_max_failures"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
}

// IngestConfig tunes the scheduled analysis and market-data jobs.
type IngestConfig struct {
	IntervalMinutes   int     `yaml:"interval_minutes"`
	MaxUsers          int     `yaml:"max_users"`
	MinCollateralUSD  float64 `yaml:"min_collateral_usd"` // dust floor
	ShockAssetSymbol  string  `yaml:"shock_asset_symbol"`
	PriceDropPercents []int   `yaml:"price_drop_percents"`

	// Market-data ingestion: which protocol event kinds to track, where
	// cursors start when the store is empty, and the per-cycle fetch cap.
	EventTypes        []string `yaml:"event_types"`
	BackfillStartUnix int64    `yaml:"backfill_start_unix"`
	MaxEventsPerCycle int      `yaml:"max_events_per_cycle"`
}

// GetChain returns the configuration for chainID.
func (c *Config) GetChain(chainID string) (ChainConfig, error) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
}

// MarketsForChain returns the markets configured on chainID.
func (c *Config) MarketsForChain(chainID string) []MarketConfig {
	var markets []MarketConfig
	for _, m := range c.Markets {
		if m.ChainID == chainID {
			markets = append(markets, m)
		}
	}
	return markets
}

// Validate checks structural invariants: non-empty chains, known chain
// references, and well-formed asset addresses.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: at least one chain is required")
	}
	known := make(map[string]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ChainID == "" || chain.SubgraphURL == "" {
			return fmt.Errorf("config: chain %q missing chain_id or subgraph_url", chain.Name)
		}
		known[chain.ChainID] = true
	}
	for _, m := range c.Markets {
		if !known[m.ChainID] {
			return fmt.Errorf("%w: market %s references %s", ErrUnknownChain, m.MarketID, m.ChainID)
		}
		for _, a := range m.Assets {
			if !addressRegex.MatchString(a.Address) {
				return fmt.Errorf("config: market %s asset %s: invalid address %q (want lowercase 0x-prefixed)",
					m.MarketID, a.Symbol, a.Address)
			}
		}
	}
	for _, t := range c.Ingest.EventTypes {
		if !model.IsEventType(t) {
			return fmt.Errorf("config: unknown event type %q", t)
		}
	}
	return nil
}

// Load reads a YAML config file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration: Aave V3 on Ethereum mainnet
// and Base, tracking WETH and USDC, hourly ingestion, WETH shock scenarios
// at 1/3/5/10% drops.
func Default() *Config {
	return &Config{
		Chains: []ChainConfig{
			{
				ChainID:       "ethereum",
				Name:          "Ethereum Mainnet",
				SubgraphURL:   "https://gateway.thegraph.com/api/{api_key}/subgraphs/id/Cd2gEDVeqnjBn1hSeqFMitw8Q1iiyV9FYUZkLNRcL87g",
				PoolAddress:   "0x2f39d218133afab8f2b819b1066c7e434ad94e9e",
				OracleAddress: "0x54586be62e3c3580375ae3723c145253060ca0c2",
			},
			{
				ChainID:       "base",
				Name:          "Base",
				SubgraphURL:   "https://gateway.thegraph.com/api/{api_key}/subgraphs/id/GQFbb95cE6d8mV989mL5figjaGaKCQB3xqYrr1bRyXqF",
				PoolAddress:   "0xe20fcbdbffc4dd138ce8b2e6fbb6cb49777ad64d",
				OracleAddress: "0x2cc0fc26ed4563a5ce5e8bdcfe1a2878676ae156",
			},
		},
		Markets: []MarketConfig{
			{
				MarketID: "aave-v3-ethereum",
				Name:     "Aave V3 Ethereum",
				ChainID:  "ethereum",
				Assets: []AssetConfig{
					{Symbol: "WETH", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
					{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
				},
			},
			{
				MarketID: "aave-v3-base",
				Name:     "Aave V3 Base",
				ChainID:  "base",
				Assets: []AssetConfig{
					{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006"},
					{Symbol: "USDC", Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"},
				},
			},
		},
		Subgraph: SubgraphConfig{
			TimeoutSeconds:         60,
			RPS:                    5,
			Burst:                  10,
			BreakerMaxFailures:     5,
			BreakerCooldownSeconds: 60,
		},
		Ingest: IngestConfig{
			IntervalMinutes:   60,
			MaxUsers:          5000,
			MinCollateralUSD:  100,
			ShockAssetSymbol:  "WETH",
			PriceDropPercents: []int{1, 3, 5, 10},
			EventTypes:        model.EventTypes,
			BackfillStartUnix: 1735689600, // 2025-01-01 00:00:00 UTC
			MaxEventsPerCycle: 5000,
		},
	}
}
