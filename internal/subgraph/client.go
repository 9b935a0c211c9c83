// Package subgraph fetches Aave V3 position data from a Graph Protocol
// subgraph over GraphQL.
//
// The gateway is a metered third-party API, so every request passes through
// a token-bucket rate limiter and a circuit breaker; a failing endpoint
// trips the breaker instead of hammering the gateway while it is down.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lendscan/risk-engine/internal/metrics"
	"github.com/lendscan/risk-engine/internal/model"
)

// pageSize is the subgraph's maximum page for userReserves queries.
const pageSize = 1000

// userReservesQuery fetches user reserves with any non-zero balance,
// paginated by skip.
const userReservesQuery = `
query GetUserReserves($first: Int!, $skip: Int!) {
  userReserves(
    first: $first
    skip: $skip
    where: {
      or: [
        { currentATokenBalance_gt: "0" }
        { currentVariableDebt_gt: "0" }
        { currentStableDebt_gt: "0" }
      ]
    }
  ) {
    id
    user {
      id
    }
    reserve {
      symbol
      underlyingAsset
      decimals
      baseLTVasCollateral
      reserveLiquidationThreshold
      reserveLiquidationBonus
      usageAsCollateralEnabled
      price {
        priceInUsd
      }
    }
    currentATokenBalance
    currentVariableDebt
    currentStableDebt
    usageAsCollateralEnabledOnUser
    lastUpdateTimestamp
  }
}`

// reservesConfigQuery fetches per-reserve liquidation parameters.
const reservesConfigQuery = `
query GetReservesConfig {
  reserves {
    symbol
    underlyingAsset
    decimals
    baseLTVasCollateral
    reserveLiquidationThreshold
    reserveLiquidationBonus
    usageAsCollateralEnabled
    optimalUtilisationRate
    baseVariableBorrowRate
    variableRateSlope1
    variableRateSlope2
    price {
      priceInUsd
    }
  }
}`

var (
	// ErrGraphQL is returned when the endpoint answers with GraphQL-level
	// errors rather than data.
	ErrGraphQL = errors.New("subgraph: graphql errors")

	// ErrHTTPStatus is returned on a non-2xx HTTP response.
	ErrHTTPStatus = errors.New("subgraph: unexpected http status")
)

// Fetcher is the read interface the analysis layer consumes. *Client is the
// production implementation; tests substitute stubs.
type Fetcher interface {
	// FetchAllUserReserves pages through userReserves until the subgraph
	// returns a short page or maxRecords is reached.
	FetchAllUserReserves(ctx context.Context, maxRecords int) ([]model.UserReserveRecord, error)

	// FetchReservesConfig returns the liquidation configuration of every
	// reserve.
	FetchReservesConfig(ctx context.Context) ([]model.ReserveRecord, error)

	// FetchReserveHistory returns a reserve's parameter history from a
	// unix-timestamp cursor (inclusive), oldest first.
	FetchReserveHistory(ctx context.Context, reserveID string, from int64) ([]model.ReserveHistoryItem, error)

	// FetchEvents returns protocol events of one type newer than the
	// cursor (exclusive), oldest first, capped at maxRecords.
	FetchEvents(ctx context.Context, eventType string, from int64, maxRecords int) ([]model.EventRecord, error)
}

// Options tunes the client. Zero values fall back to sane defaults.
type Options struct {
	Timeout         time.Duration
	RPS             float64
	Burst           int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client is a GraphQL subgraph client for one endpoint.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a subgraph client for the given endpoint URL.
func NewClient(url string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "subgraph",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
	})

	return &Client{
		url:     url,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		breaker: breaker,
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// query posts one GraphQL request and unmarshals the data payload into out.
func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.SubgraphRequestsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		defer resp.Body.Close()
		metrics.SubgraphRequestDuration.Observe(time.Since(start).Seconds())

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.SubgraphRequestsTotal.WithLabelValues("error").Inc()
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
		}

		var envelope gqlEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			metrics.SubgraphRequestsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("subgraph: decode response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			metrics.SubgraphRequestsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %s", ErrGraphQL, envelope.Errors[0].Message)
		}

		metrics.SubgraphRequestsTotal.WithLabelValues("ok").Inc()
		return nil, json.Unmarshal(envelope.Data, out)
	})
	return err
}

// FetchAllUserReserves implements Fetcher.
func (c *Client) FetchAllUserReserves(ctx context.Context, maxRecords int) ([]model.UserReserveRecord, error) {
	var all []model.UserReserveRecord
	skip := 0

	for len(all) < maxRecords {
		var page struct {
			UserReserves []model.UserReserveRecord `json:"userReserves"`
		}
		err := c.query(ctx, userReservesQuery, map[string]any{
			"first": pageSize,
			"skip":  skip,
		}, &page)
		if err != nil {
			return nil, err
		}
		if len(page.UserReserves) == 0 {
			break
		}

		all = append(all, page.UserReserves...)
		skip += pageSize

		// A short page means the subgraph has no more rows.
		if len(page.UserReserves) < pageSize {
			break
		}
	}

	if len(all) > maxRecords {
		all = all[:maxRecords]
	}
	return all, nil
}

// FetchReservesConfig implements Fetcher.
func (c *Client) FetchReservesConfig(ctx context.Context) ([]model.ReserveRecord, error) {
	var data struct {
		Reserves []model.ReserveRecord `json:"reserves"`
	}
	if err := c.query(ctx, reservesConfigQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Reserves, nil
}
