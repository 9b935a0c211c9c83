package subgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lendscan/risk-engine/internal/model"
)

// historyPageSize is the subgraph's page for reserveParamsHistoryItems.
const historyPageSize = 100

// reserveHistoryQuery fetches a reserve's parameter history from a cursor,
// oldest first, paginated by skip.
const reserveHistoryQuery = `
query GetReserveHistory($reserveId: String!, $from: Int!, $first: Int!, $skip: Int!) {
  reserveParamsHistoryItems(
    where: { reserve: $reserveId, timestamp_gte: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    reserve {
      underlyingAsset
      symbol
      decimals
    }
    totalLiquidity
    availableLiquidity
    totalCurrentVariableDebt
    totalPrincipalStableDebt
    borrowCap
    supplyCap
    priceInEth
    priceInUsd
    timestamp
  }
}`

// eventQueries maps event type to its GraphQL query. All use timestamp_gt
// so a cursor at the last stored event never re-fetches it, and order by
// timestamp ascending for predictable pagination.
var eventQueries = map[string]string{
	"supply": `
query GetSupplies($from: Int!, $first: Int!, $skip: Int!) {
  supplies(
    where: { timestamp_gt: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    txHash
    timestamp
    amount
    assetPriceUSD
    user { id }
    caller { id }
    reserve { symbol underlyingAsset decimals }
  }
}`,
	"withdraw": `
query GetWithdraws($from: Int!, $first: Int!, $skip: Int!) {
  redeemUnderlyings(
    where: { timestamp_gt: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    txHash
    timestamp
    amount
    assetPriceUSD
    user { id }
    to { id }
    reserve { symbol underlyingAsset decimals }
  }
}`,
	"borrow": `
query GetBorrows($from: Int!, $first: Int!, $skip: Int!) {
  borrows(
    where: { timestamp_gt: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    txHash
    timestamp
    amount
    assetPriceUSD
    borrowRate
    user { id }
    caller { id }
    reserve { symbol underlyingAsset decimals }
  }
}`,
	"repay": `
query GetRepays($from: Int!, $first: Int!, $skip: Int!) {
  repays(
    where: { timestamp_gt: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    txHash
    timestamp
    amount
    assetPriceUSD
    user { id }
    repayer { id }
    reserve { symbol underlyingAsset decimals }
  }
}`,
	"liquidation": `
query GetLiquidations($from: Int!, $first: Int!, $skip: Int!) {
  liquidationCalls(
    where: { timestamp_gt: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    txHash
    timestamp
    user { id }
    liquidator { id }
    collateralAmount
    collateralReserve { symbol underlyingAsset decimals }
    principalAmount
    principalReserve { symbol underlyingAsset decimals }
    collateralAssetPriceUSD
    borrowAssetPriceUSD
  }
}`,
	"flashloan": `
query GetFlashLoans($from: Int!, $first: Int!, $skip: Int!) {
  flashLoans(
    where: { timestamp_gt: $from }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    timestamp
    amount
    assetPriceUSD
    initiator { id }
    reserve { symbol underlyingAsset decimals }
  }
}`,
}

// eventResponseFields maps event type to the root field holding its rows.
var eventResponseFields = map[string]string{
	"supply":      "supplies",
	"withdraw":    "redeemUnderlyings",
	"borrow":      "borrows",
	"repay":       "repays",
	"liquidation": "liquidationCalls",
	"flashloan":   "flashLoans",
}

// FetchReserveHistory implements Fetcher. Pages through a reserve's
// parameter history starting at from (inclusive), oldest first.
func (c *Client) FetchReserveHistory(ctx context.Context, reserveID string, from int64) ([]model.ReserveHistoryItem, error) {
	var all []model.ReserveHistoryItem
	skip := 0

	for {
		var page struct {
			Items []model.ReserveHistoryItem `json:"reserveParamsHistoryItems"`
		}
		err := c.query(ctx, reserveHistoryQuery, map[string]any{
			"reserveId": reserveID,
			"from":      from,
			"first":     historyPageSize,
			"skip":      skip,
		}, &page)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			break
		}

		all = append(all, page.Items...)
		skip += historyPageSize

		if len(page.Items) < historyPageSize {
			break
		}
	}
	return all, nil
}

// FetchEvents implements Fetcher. Pages through events of one type newer
// than from (exclusive), oldest first, until a short page or maxRecords.
func (c *Client) FetchEvents(ctx context.Context, eventType string, from int64, maxRecords int) ([]model.EventRecord, error) {
	query, ok := eventQueries[eventType]
	if !ok {
		return nil, fmt.Errorf("subgraph: unknown event type %q", eventType)
	}
	field := eventResponseFields[eventType]

	var all []model.EventRecord
	skip := 0

	for len(all) < maxRecords {
		var data map[string]json.RawMessage
		err := c.query(ctx, query, map[string]any{
			"from":  from,
			"first": pageSize,
			"skip":  skip,
		}, &data)
		if err != nil {
			return nil, err
		}

		var page []model.EventRecord
		if raw, ok := data[field]; ok {
			if err := json.Unmarshal(raw, &page); err != nil {
				return nil, fmt.Errorf("subgraph: decode %s page: %w", field, err)
			}
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		skip += pageSize

		if len(page) < pageSize {
			break
		}
	}

	if len(all) > maxRecords {
		all = all[:maxRecords]
	}
	return all, nil
}
