package market

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func historyItem() model.ReserveHistoryItem {
	return model.ReserveHistoryItem{
		ID:                       "0xweth0xpool-1754002800",
		Reserve:                  model.ReserveRef{Symbol: "WETH", UnderlyingAsset: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		TotalLiquidity:           "2000000000000000000000",
		AvailableLiquidity:       "1500000000000000000000",
		TotalCurrentVariableDebt: "400000000000000000000",
		TotalPrincipalStableDebt: "100000000000000000000",
		BorrowCap:                "1400000",
		SupplyCap:                "2800000",
		PriceInUSD:               "3000000000000000000000",
		Timestamp:                1754002800, // 2025-07-31 23:00:00 UTC
	}
}

// --- snapshot transform tests ---

func TestSnapshotFromHistoryItem_ScalesAmounts(t *testing.T) {
	snap, err := SnapshotFromHistoryItem(historyItem(), "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := snap.SuppliedAmount.String(); got != "2000" {
		t.Errorf("supplied = %s, want 2000", got)
	}
	if got := snap.AvailableLiquidity.String(); got != "1500" {
		t.Errorf("available = %s, want 1500", got)
	}
	// borrowed = variable + stable debt
	if got := snap.BorrowedAmount.String(); got != "500" {
		t.Errorf("borrowed = %s, want 500", got)
	}
	if got := snap.Utilization.String(); got != "0.25" {
		t.Errorf("utilization = %s, want 0.25", got)
	}
	if snap.AssetAddress != "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2" {
		t.Errorf("asset address should be lowercased: %s", snap.AssetAddress)
	}
	if got := snap.BorrowCap.String(); got != "1400000" {
		t.Errorf("borrow cap = %s, want 1400000", got)
	}
}

func TestSnapshotFromHistoryItem_USDValuesFromWADPrice(t *testing.T) {
	snap, err := SnapshotFromHistoryItem(historyItem(), "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}

	if snap.PriceUSD == nil || snap.PriceUSD.String() != "3000" {
		t.Fatalf("price = %v, want 3000", snap.PriceUSD)
	}
	if snap.SuppliedValueUSD.String() != "6000000" {
		t.Errorf("supplied USD = %s, want 6000000", snap.SuppliedValueUSD)
	}
	if snap.BorrowedValueUSD.String() != "1500000" {
		t.Errorf("borrowed USD = %s, want 1500000", snap.BorrowedValueUSD)
	}
}

func TestSnapshotFromHistoryItem_UnpricedReserveStaysUnvalued(t *testing.T) {
	for _, price := range []string{"", "0"} {
		item := historyItem()
		item.PriceInUSD = price
		snap, err := SnapshotFromHistoryItem(item, "ethereum", "aave-v3-ethereum", nil)
		if err != nil {
			t.Fatal(err)
		}
		if snap.PriceUSD != nil || snap.SuppliedValueUSD != nil || snap.BorrowedValueUSD != nil {
			t.Errorf("price %q: USD values should stay nil, got %+v", price, snap)
		}
	}
}

func TestSnapshotFromHistoryItem_CapsDefaultToZero(t *testing.T) {
	item := historyItem()
	item.BorrowCap = ""
	item.SupplyCap = ""
	snap, err := SnapshotFromHistoryItem(item, "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.BorrowCap.IsZero() || !snap.SupplyCap.IsZero() {
		t.Errorf("missing caps should default to 0: borrow=%s supply=%s", snap.BorrowCap, snap.SupplyCap)
	}
}

func TestSnapshotFromHistoryItem_TruncatesTimestamps(t *testing.T) {
	snap, err := SnapshotFromHistoryItem(historyItem(), "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		got  time.Time
		want string
	}{
		{"hour", snap.TimestampHour, "2025-07-31T23:00:00Z"},
		{"day", snap.TimestampDay, "2025-07-31T00:00:00Z"},
		{"week", snap.TimestampWeek, "2025-07-28T00:00:00Z"}, // Monday
		{"month", snap.TimestampMonth, "2025-07-01T00:00:00Z"},
	}
	for _, c := range cases {
		want, _ := time.Parse(time.RFC3339, c.want)
		if !c.got.Equal(want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, want)
		}
	}
}

func TestSnapshotFromHistoryItem_MissingFields(t *testing.T) {
	noAsset := historyItem()
	noAsset.Reserve.UnderlyingAsset = ""
	if _, err := SnapshotFromHistoryItem(noAsset, "ethereum", "m", nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing asset: got %v, want ErrMissingField", err)
	}

	noTS := historyItem()
	noTS.Timestamp = 0
	if _, err := SnapshotFromHistoryItem(noTS, "ethereum", "m", nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing timestamp: got %v, want ErrMissingField", err)
	}

	noLiquidity := historyItem()
	noLiquidity.TotalLiquidity = ""
	if _, err := SnapshotFromHistoryItem(noLiquidity, "ethereum", "m", nil); !errors.Is(err, ErrMissingField) {
		t.Errorf("missing liquidity: got %v, want ErrMissingField", err)
	}

	badDebt := historyItem()
	badDebt.TotalCurrentVariableDebt = "not-a-number"
	if _, err := SnapshotFromHistoryItem(badDebt, "ethereum", "m", nil); !errors.Is(err, ErrMalformedNumeric) {
		t.Errorf("malformed debt: got %v, want ErrMalformedNumeric", err)
	}
}

func TestComputeUtilization_EmptyReserve(t *testing.T) {
	if got := ComputeUtilization(decimal.Zero, d("100")); !got.IsZero() {
		t.Errorf("empty reserve utilization = %s, want 0", got)
	}
}

func TestDedupeSnapshots_KeepsFirstPerHour(t *testing.T) {
	first, err := SnapshotFromHistoryItem(historyItem(), "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}
	later := historyItem()
	later.Timestamp += 1800 // same hour
	later.TotalLiquidity = "9000000000000000000000"
	second, err := SnapshotFromHistoryItem(later, "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}
	nextHour := historyItem()
	nextHour.Timestamp += 3600
	third, err := SnapshotFromHistoryItem(nextHour, "ethereum", "aave-v3-ethereum", nil)
	if err != nil {
		t.Fatal(err)
	}

	out := DedupeSnapshots([]*model.ReserveSnapshot{first, second, third})
	if len(out) != 2 {
		t.Fatalf("expected 2 snapshots after dedupe, got %d", len(out))
	}
	if out[0].SuppliedAmount.String() != "2000" {
		t.Errorf("dedupe should keep the first item in the hour, got supplied=%s", out[0].SuppliedAmount)
	}
}

// --- rate model tests ---

func TestRateModelFromReserve_DescalesRAY(t *testing.T) {
	rm, err := RateModelFromReserve(model.ReserveRecord{
		UnderlyingAsset:        "0xweth",
		OptimalUtilisationRate: "800000000000000000000000000",
		BaseVariableBorrowRate: "10000000000000000000000000",
		VariableRateSlope1:     "40000000000000000000000000",
		VariableRateSlope2:     "800000000000000000000000000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rm.OptimalUtilization.String() != "0.8" {
		t.Errorf("optimal = %s, want 0.8", rm.OptimalUtilization)
	}
	if rm.BaseVariableBorrowRate.String() != "0.01" {
		t.Errorf("base = %s, want 0.01", rm.BaseVariableBorrowRate)
	}
}

func TestRateModelFromReserve_NoStrategyIsNil(t *testing.T) {
	rm, err := RateModelFromReserve(model.ReserveRecord{UnderlyingAsset: "0xweth"})
	if err != nil {
		t.Fatal(err)
	}
	if rm != nil {
		t.Errorf("reserve without strategy fields should yield nil, got %+v", rm)
	}
}

func TestRateModelFromReserve_PartialStrategyErrors(t *testing.T) {
	_, err := RateModelFromReserve(model.ReserveRecord{
		UnderlyingAsset:        "0xweth",
		OptimalUtilisationRate: "800000000000000000000000000",
	})
	if !errors.Is(err, ErrMissingField) {
		t.Errorf("got %v, want ErrMissingField", err)
	}
}

func TestVariableBorrowRate_TwoSlopeCurve(t *testing.T) {
	rm := model.RateModelParams{
		OptimalUtilization:     d("0.8"),
		BaseVariableBorrowRate: d("0.01"),
		VariableRateSlope1:     d("0.04"),
		VariableRateSlope2:     d("0.8"),
	}

	// Below the kink: base + util * slope1 / optimal.
	if got := rm.VariableBorrowRate(d("0.4")).String(); got != "0.03" {
		t.Errorf("rate at 40%% = %s, want 0.03", got)
	}
	// At the kink.
	if got := rm.VariableBorrowRate(d("0.8")).String(); got != "0.05" {
		t.Errorf("rate at 80%% = %s, want 0.05", got)
	}
	// Above the kink: base + slope1 + excess * slope2 / (1 - optimal).
	if got := rm.VariableBorrowRate(d("0.9")).String(); got != "0.45" {
		t.Errorf("rate at 90%% = %s, want 0.45", got)
	}
}
