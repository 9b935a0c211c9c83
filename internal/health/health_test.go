package health

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const (
	wethAddr = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdcAddr = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

// wethCollateral is 1 WETH at $2000 with an 82.5% liquidation threshold.
func wethCollateral() Position {
	return Position{
		UserAddress:          "0xabc",
		AssetSymbol:          "WETH",
		AssetAddress:         wethAddr,
		Decimals:             18,
		CollateralBalance:    decimal.New(1, 18), // 1e18 = 1 WETH
		LTV:                  d(8000),
		LiquidationThreshold: d(8250),
		LiquidationBonus:     d(10500),
		PriceUSD:             d(200000000000), // $2000 at 1e8 scale
		CollateralEnabled:    true,
	}
}

// usdcDebt is amount USDC of variable debt at $1.
func usdcDebt(amount int64) Position {
	return Position{
		UserAddress:          "0xabc",
		AssetSymbol:          "USDC",
		AssetAddress:         usdcAddr,
		Decimals:             6,
		VariableDebt:         decimal.New(amount, 6),
		LTV:                  d(7700),
		LiquidationThreshold: d(7800),
		LiquidationBonus:     d(10450),
		PriceUSD:             d(100000000), // $1 at 1e8 scale
		CollateralEnabled:    false,
	}
}

// --- Position valuation tests ---

func TestCollateralUSD_ScalesBalanceAndPrice(t *testing.T) {
	p := wethCollateral()
	got := p.CollateralUSD()
	if !got.Equal(d(2000)) {
		t.Errorf("expected $2000 collateral, got %s", got)
	}
}

func TestCollateralUSD_DisabledContributesZero(t *testing.T) {
	p := wethCollateral()
	p.CollateralEnabled = false
	if !p.CollateralUSD().IsZero() {
		t.Errorf("disabled collateral should value to zero, got %s", p.CollateralUSD())
	}
}

func TestDebtUSD_SumsVariableAndStable(t *testing.T) {
	p := usdcDebt(1000)
	p.StableDebt = decimal.New(500, 6)
	got := p.DebtUSD()
	if !got.Equal(d(1500)) {
		t.Errorf("expected $1500 debt, got %s", got)
	}
}

func TestDebtUSD_CountsEvenWhenCollateralDisabled(t *testing.T) {
	p := usdcDebt(1000)
	p.CollateralEnabled = false
	if !p.DebtUSD().Equal(d(1000)) {
		t.Errorf("debt should count regardless of collateral flag, got %s", p.DebtUSD())
	}
}

func TestLiquidationThresholdDecimal(t *testing.T) {
	p := wethCollateral()
	if !p.LiquidationThresholdDecimal().Equal(d(0.825)) {
		t.Errorf("8250 bps should be 0.825, got %s", p.LiquidationThresholdDecimal())
	}
}

func TestLiquidationBonusDecimal(t *testing.T) {
	p := wethCollateral()
	if !p.LiquidationBonusDecimal().Equal(d(1.05)) {
		t.Errorf("10500 bps should be 1.05, got %s", p.LiquidationBonusDecimal())
	}
}

// --- Health factor tests ---

func TestHealthFactor_KnownValue(t *testing.T) {
	// 1 WETH @ $2000, threshold 82.5%, $1000 USDC debt:
	// HF = 2000 * 0.825 / 1000 = 1.65 exactly.
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1000)},
	}
	hf := u.HealthFactor()
	if hf == nil {
		t.Fatal("expected a health factor, got nil")
	}
	if !hf.Equal(d(1.65)) {
		t.Errorf("expected HF 1.65, got %s", hf)
	}
	if u.IsLiquidatable() {
		t.Error("HF 1.65 should not be liquidatable")
	}
}

func TestHealthFactor_BelowOneIsLiquidatable(t *testing.T) {
	// $2000 debt against the same collateral: HF = 1650/2000 = 0.825.
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(2000)},
	}
	hf := u.HealthFactor()
	if hf == nil {
		t.Fatal("expected a health factor, got nil")
	}
	if !hf.Equal(d(0.825)) {
		t.Errorf("expected HF 0.825, got %s", hf)
	}
	if !u.IsLiquidatable() {
		t.Error("HF 0.825 should be liquidatable")
	}
}

func TestHealthFactor_NoDebtIsNil(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral()},
	}
	if hf := u.HealthFactor(); hf != nil {
		t.Errorf("zero-debt user should have nil health factor, got %s", hf)
	}
	if u.IsLiquidatable() {
		t.Error("zero-debt user is never liquidatable")
	}
}

func TestHealthFactor_DisabledCollateralExcludedFromNumerator(t *testing.T) {
	weth := wethCollateral()
	weth.CollateralEnabled = false
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{weth, usdcDebt(1000)},
	}
	hf := u.HealthFactor()
	if hf == nil {
		t.Fatal("expected a health factor, got nil")
	}
	if !hf.IsZero() {
		t.Errorf("disabled collateral should give HF 0, got %s", hf)
	}
	if !u.IsLiquidatable() {
		t.Error("HF 0 should be liquidatable")
	}
}

func TestHealthFactor_MonotoneInCollateralPrice(t *testing.T) {
	base := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1000)},
	}
	prev := *base.HealthFactor()
	for _, price := range []float64{250000000000, 300000000000, 500000000000} {
		weth := wethCollateral()
		weth.PriceUSD = d(price)
		u := &UserAggregate{UserAddress: "0xabc", Positions: []Position{weth, usdcDebt(1000)}}
		hf := *u.HealthFactor()
		if !hf.GreaterThan(prev) {
			t.Errorf("HF should rise with collateral price: prev=%s at price %v got %s",
				prev, price, hf)
		}
		prev = hf
	}
}

// --- Aggregate totals tests ---

func TestTotals_MultiplePositions(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), wethCollateral(), usdcDebt(1000)},
	}
	if !u.TotalCollateralUSD().Equal(d(4000)) {
		t.Errorf("expected $4000 total collateral, got %s", u.TotalCollateralUSD())
	}
	if !u.TotalDebtUSD().Equal(d(1000)) {
		t.Errorf("expected $1000 total debt, got %s", u.TotalDebtUSD())
	}
	if !u.TotalCollateralThresholdUSD().Equal(d(3300)) {
		t.Errorf("expected $3300 threshold-weighted collateral, got %s",
			u.TotalCollateralThresholdUSD())
	}
}

// --- Price-drop projection tests ---

func TestSimulatePriceDrop_KnownValue(t *testing.T) {
	// $1500 debt: HF = 1650/1500 = 1.1. After a 10% WETH drop the collateral
	// is worth $1800: HF = 1800 * 0.825 / 1500 = 0.99.
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1500)},
	}
	projected := u.SimulatePriceDrop(wethAddr, d(10))

	hf := projected.HealthFactor()
	if hf == nil {
		t.Fatal("expected a health factor, got nil")
	}
	if !hf.Equal(d(0.99)) {
		t.Errorf("expected projected HF 0.99, got %s", hf)
	}
	if !projected.IsLiquidatable() {
		t.Error("projected HF 0.99 should be liquidatable")
	}
}

func TestSimulatePriceDrop_DoesNotMutateOriginal(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1500)},
	}
	_ = u.SimulatePriceDrop(wethAddr, d(10))

	hf := u.HealthFactor()
	if !hf.Equal(d(1.1)) {
		t.Errorf("original aggregate mutated: expected HF 1.1, got %s", hf)
	}
	if !u.Positions[0].PriceUSD.Equal(d(200000000000)) {
		t.Errorf("original price mutated: got %s", u.Positions[0].PriceUSD)
	}
}

func TestSimulatePriceDrop_ZeroDropIsIdentity(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1000)},
	}
	projected := u.SimulatePriceDrop(wethAddr, decimal.Zero)
	if !projected.HealthFactor().Equal(*u.HealthFactor()) {
		t.Errorf("0%% drop should not change HF: %s vs %s",
			projected.HealthFactor(), u.HealthFactor())
	}
}

func TestSimulatePriceDrop_CaseInsensitiveAddressMatch(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1500)},
	}
	upper := "0xC02AAA39B223FE8D0A0E5C4F27EAD9083C756CC2"
	projected := u.SimulatePriceDrop(upper, d(10))
	if !projected.HealthFactor().Equal(d(0.99)) {
		t.Errorf("mixed-case address should still match, got HF %s",
			projected.HealthFactor())
	}
}

func TestSimulatePriceDrop_OnlyMatchingAssetAffected(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1000)},
	}
	projected := u.SimulatePriceDrop(usdcAddr, d(50))

	// USDC price halves, so the $1000 debt is now worth $500.
	if !projected.TotalDebtUSD().Equal(d(500)) {
		t.Errorf("expected $500 debt after USDC drop, got %s", projected.TotalDebtUSD())
	}
	// WETH collateral is untouched.
	if !projected.TotalCollateralUSD().Equal(d(2000)) {
		t.Errorf("WETH collateral should be unchanged, got %s", projected.TotalCollateralUSD())
	}
}

func TestSimulatePriceDrop_UnknownAssetIsNoOp(t *testing.T) {
	u := &UserAggregate{
		UserAddress: "0xabc",
		Positions:   []Position{wethCollateral(), usdcDebt(1000)},
	}
	projected := u.SimulatePriceDrop("0x0000000000000000000000000000000000000000", d(50))
	if !projected.HealthFactor().Equal(*u.HealthFactor()) {
		t.Errorf("unknown asset should leave HF unchanged: %s vs %s",
			projected.HealthFactor(), u.HealthFactor())
	}
}
