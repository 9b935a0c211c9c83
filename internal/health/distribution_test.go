package health

import (
	"testing"

	"github.com/shopspring/decimal"
)

// userWithHF builds a user whose health factor is exactly hf: collateral worth
// hf*1000 USD at a 100% threshold against $1000 of debt.
func userWithHF(addr string, hf float64) *UserAggregate {
	collateral := Position{
		UserAddress:          addr,
		AssetSymbol:          "USDC",
		AssetAddress:         usdcAddr,
		Decimals:             6,
		CollateralBalance:    d(hf).Mul(d(1000)).Mul(decimal.New(1, 6)),
		LiquidationThreshold: d(10000),
		LiquidationBonus:     d(10450),
		PriceUSD:             d(100000000),
		CollateralEnabled:    true,
	}
	debt := usdcDebt(1000)
	debt.UserAddress = addr
	return &UserAggregate{UserAddress: addr, Positions: []Position{collateral, debt}}
}

func findBucket(t *testing.T, buckets []Bucket, label string) Bucket {
	t.Helper()
	for _, b := range buckets {
		if b.Label == label {
			return b
		}
	}
	t.Fatalf("bucket %q not found", label)
	return Bucket{}
}

// --- Distribution tests ---

func TestBuildDistribution_FixedBands(t *testing.T) {
	buckets := BuildDistribution(nil)
	want := []string{"1.0-1.1", "1.1-1.25", "1.25-1.5", "1.5-2.0", "2.0-3.0", "3.0-5.0", "> 5.0"}
	if len(buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(buckets))
	}
	for i, label := range want {
		if buckets[i].Label != label {
			t.Errorf("bucket %d: expected label %q, got %q", i, label, buckets[i].Label)
		}
		if buckets[i].Count != 0 {
			t.Errorf("empty population should give zero counts, bucket %q has %d",
				buckets[i].Label, buckets[i].Count)
		}
	}
}

func TestBuildDistribution_BoundariesClosedOpen(t *testing.T) {
	tests := []struct {
		hf     float64
		bucket string
	}{
		{1.0, "1.0-1.1"},
		{1.05, "1.0-1.1"},
		{1.1, "1.1-1.25"}, // boundary belongs to the upper band
		{1.25, "1.25-1.5"},
		{1.49, "1.25-1.5"},
		{1.5, "1.5-2.0"},
		{2.0, "2.0-3.0"},
		{3.0, "3.0-5.0"},
		{5.0, "> 5.0"},
		{100, "> 5.0"},
	}
	for _, tt := range tests {
		users := map[string]*UserAggregate{
			"0xabc": userWithHF("0xabc", tt.hf),
		}
		buckets := BuildDistribution(users)
		got := findBucket(t, buckets, tt.bucket)
		if got.Count != 1 {
			t.Errorf("HF %v: expected bucket %q to hold the user, count=%d",
				tt.hf, tt.bucket, got.Count)
		}
		total := 0
		for _, b := range buckets {
			total += b.Count
		}
		if total != 1 {
			t.Errorf("HF %v: user counted in %d buckets, want exactly 1", tt.hf, total)
		}
	}
}

func TestBuildDistribution_NoDebtUsersExcluded(t *testing.T) {
	users := map[string]*UserAggregate{
		"0xsafe": {UserAddress: "0xsafe", Positions: []Position{wethCollateral()}},
	}
	buckets := BuildDistribution(users)
	for _, b := range buckets {
		if b.Count != 0 {
			t.Errorf("zero-debt user should appear in no bucket, %q has %d", b.Label, b.Count)
		}
	}
}

func TestBuildDistribution_BelowOneSkipped(t *testing.T) {
	users := map[string]*UserAggregate{
		"0xbad": userWithHF("0xbad", 0.9),
	}
	buckets := BuildDistribution(users)
	for _, b := range buckets {
		if b.Count != 0 {
			t.Errorf("HF below 1.0 should appear in no bucket, %q has %d", b.Label, b.Count)
		}
	}
}

func TestBuildDistribution_AccumulatesTotals(t *testing.T) {
	users := map[string]*UserAggregate{
		"0xone": userWithHF("0xone", 1.6),
		"0xtwo": userWithHF("0xtwo", 1.7),
	}
	buckets := BuildDistribution(users)
	b := findBucket(t, buckets, "1.5-2.0")
	if b.Count != 2 {
		t.Fatalf("expected both users in 1.5-2.0, got %d", b.Count)
	}
	// 1600 + 1700 collateral, 1000 + 1000 debt.
	if !b.TotalCollateralUSD.Equal(d(3300)) {
		t.Errorf("expected $3300 bucket collateral, got %s", b.TotalCollateralUSD)
	}
	if !b.TotalDebtUSD.Equal(d(2000)) {
		t.Errorf("expected $2000 bucket debt, got %s", b.TotalDebtUSD)
	}
}

func TestBuildDistribution_Idempotent(t *testing.T) {
	users := map[string]*UserAggregate{
		"0xone": userWithHF("0xone", 1.2),
		"0xtwo": userWithHF("0xtwo", 4.5),
	}
	first := BuildDistribution(users)
	second := BuildDistribution(users)
	for i := range first {
		if first[i].Count != second[i].Count {
			t.Errorf("bucket %q count changed between runs: %d vs %d",
				first[i].Label, first[i].Count, second[i].Count)
		}
	}
}
