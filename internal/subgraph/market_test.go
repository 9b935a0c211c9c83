package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// historyPage writes a reserveParamsHistoryItems response with n rows.
func historyPage(w http.ResponseWriter, skip, n int) {
	items := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		items[i] = map[string]any{
			"id": fmt.Sprintf("hist-%d", skip+i),
			"reserve": map[string]any{
				"symbol":          "WETH",
				"underlyingAsset": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
				"decimals":        18,
			},
			"totalLiquidity":           "2000000000000000000000",
			"availableLiquidity":       "1500000000000000000000",
			"totalCurrentVariableDebt": "400000000000000000000",
			"totalPrincipalStableDebt": "100000000000000000000",
			"borrowCap":                "0",
			"supplyCap":                "0",
			"priceInUsd":               "3000000000000000000000",
			"timestamp":                1754002800 + skip + i,
		}
	}
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"reserveParamsHistoryItems": items},
	})
}

// --- Reserve history tests ---

func TestFetchReserveHistory_SinglePage(t *testing.T) {
	var gotVars map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, vars := decodeRequest(t, r)
		gotVars = vars
		historyPage(w, int(vars["skip"].(float64)), 2)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testOptions())
	items, err := c.FetchReserveHistory(context.Background(), "0xweth0xpool", 1754000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Reserve.Symbol != "WETH" || items[0].TotalLiquidity != "2000000000000000000000" {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if gotVars["reserveId"] != "0xweth0xpool" {
		t.Errorf("reserveId variable = %v", gotVars["reserveId"])
	}
	if int64(gotVars["from"].(float64)) != 1754000000 {
		t.Errorf("from variable = %v", gotVars["from"])
	}
}

func TestFetchReserveHistory_PagesUntilShortPage(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, vars := decodeRequest(t, r)
		skip := int(vars["skip"].(float64))
		if skip >= historyPageSize {
			historyPage(w, skip, 10) // short second page ends pagination
			return
		}
		historyPage(w, skip, historyPageSize)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testOptions())
	items, err := c.FetchReserveHistory(context.Background(), "0xweth0xpool", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != historyPageSize+10 {
		t.Errorf("expected %d items, got %d", historyPageSize+10, len(items))
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
}

// --- Event fetch tests ---

func TestFetchEvents_DecodesRootField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"supplies": []map[string]any{{
					"id":            "0xabc-1",
					"txHash":        "0xabc",
					"timestamp":     1754002800,
					"amount":        "500000000000000000",
					"assetPriceUSD": "3000",
					"user":          map[string]any{"id": "0xfringe"},
					"reserve": map[string]any{
						"symbol":          "WETH",
						"underlyingAsset": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
						"decimals":        18,
					},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testOptions())
	records, err := c.FetchEvents(context.Background(), "supply", 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].User.ID != "0xfringe" || records[0].Amount != "500000000000000000" {
		t.Errorf("unexpected record %+v", records[0])
	}
}

func TestFetchEvents_LiquidationCarriesBothReserves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"liquidationCalls": []map[string]any{{
					"id":        "0xdef-2",
					"timestamp": 1754002800,
					"user":      map[string]any{"id": "0xfringe"},
					// Some deployments send a bare address here.
					"liquidator":      "0xkeeper",
					"principalAmount": "1000000000",
					"principalReserve": map[string]any{
						"symbol":          "USDC",
						"underlyingAsset": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
						"decimals":        6,
					},
					"collateralAmount": "400000000000000000",
					"collateralReserve": map[string]any{
						"symbol":          "WETH",
						"underlyingAsset": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
						"decimals":        18,
					},
					"borrowAssetPriceUSD": "1",
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testOptions())
	records, err := c.FetchEvents(context.Background(), "liquidation", 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Liquidator.ID != "0xkeeper" {
		t.Errorf("bare-string liquidator not decoded: %+v", rec.Liquidator)
	}
	if rec.PrincipalReserve.Symbol != "USDC" || rec.CollateralReserve.Symbol != "WETH" {
		t.Errorf("reserves = %s / %s", rec.PrincipalReserve.Symbol, rec.CollateralReserve.Symbol)
	}
}

func TestFetchEvents_StopsAtMaxRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, vars := decodeRequest(t, r)
		skip := int(vars["skip"].(float64))
		rows := make([]map[string]any, pageSize) // endless full pages
		for i := range rows {
			rows[i] = map[string]any{
				"id":        fmt.Sprintf("ev-%d", skip+i),
				"timestamp": 1754002800 + skip + i,
				"amount":    "1",
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"borrows": rows},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testOptions())
	records, err := c.FetchEvents(context.Background(), "borrow", 0, 1500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1500 {
		t.Errorf("expected cap at 1500 records, got %d", len(records))
	}
}

func TestFetchEvents_UnknownType(t *testing.T) {
	c := NewClient("http://unused", testOptions())
	if _, err := c.FetchEvents(context.Background(), "stake", 0, 100); err == nil {
		t.Error("expected an error for an unknown event type")
	}
}
