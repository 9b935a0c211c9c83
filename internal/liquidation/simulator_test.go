package liquidation

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lendscan/risk-engine/internal/health"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const (
	wethAddr = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdcAddr = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

// borrower holds 1 WETH at $2000 (threshold 82.5%) against debtUSD of USDC
// debt, so HF = 1650 / debtUSD.
func borrower(addr string, debtUSD int64) *health.UserAggregate {
	return &health.UserAggregate{
		UserAddress: addr,
		Positions: []health.Position{
			{
				UserAddress:          addr,
				AssetSymbol:          "WETH",
				AssetAddress:         wethAddr,
				Decimals:             18,
				CollateralBalance:    decimal.New(1, 18),
				LiquidationThreshold: d(8250),
				LiquidationBonus:     d(10500),
				PriceUSD:             d(200000000000),
				CollateralEnabled:    true,
			},
			{
				UserAddress:  addr,
				AssetSymbol:  "USDC",
				AssetAddress: usdcAddr,
				Decimals:     6,
				VariableDebt: decimal.New(debtUSD, 6),
				PriceUSD:     d(100000000),
			},
		},
	}
}

// --- Scenario tests ---

func TestSimulate_SmallDropTipsNobody(t *testing.T) {
	users := map[string]*health.UserAggregate{
		"0xsafe":   borrower("0xsafe", 1000),   // HF 1.65
		"0xfringe": borrower("0xfringe", 1500), // HF 1.1
	}
	s := Simulate(users, wethAddr, "WETH", d(5), DefaultCloseFactor, d(0.05))

	if s.UsersAtRisk != 0 {
		t.Errorf("5%% drop should tip nobody, got %d at risk", s.UsersAtRisk)
	}
	if len(s.AffectedUsers) != 0 {
		t.Errorf("expected no affected users, got %d", len(s.AffectedUsers))
	}
	if !s.TotalDebtAtRiskUSD.IsZero() || !s.EstimatedLiquidatableDebtUSD.IsZero() {
		t.Errorf("no users at risk should mean zero debt at risk, got debt=%s liq=%s",
			s.TotalDebtAtRiskUSD, s.EstimatedLiquidatableDebtUSD)
	}
}

func TestSimulate_LargerDropTipsFringeUser(t *testing.T) {
	users := map[string]*health.UserAggregate{
		"0xsafe":   borrower("0xsafe", 1000),   // HF 1.65 → 1.485
		"0xfringe": borrower("0xfringe", 1500), // HF 1.1 → 0.99
	}
	s := Simulate(users, wethAddr, "WETH", d(10), DefaultCloseFactor, d(0.05))

	if s.UsersAtRisk != 1 {
		t.Fatalf("10%% drop should tip exactly one user, got %d", s.UsersAtRisk)
	}
	a := s.AffectedUsers[0]
	if a.UserAddress != "0xfringe" {
		t.Errorf("expected 0xfringe to be tipped, got %s", a.UserAddress)
	}
	if a.HFBefore == nil || !a.HFBefore.Equal(d(1.1)) {
		t.Errorf("expected HF before 1.1, got %v", a.HFBefore)
	}
	if !a.HFAfter.Equal(d(0.99)) {
		t.Errorf("expected HF after 0.99, got %s", a.HFAfter)
	}
	// Post-shock values: collateral $1800, debt $1500.
	if !a.CollateralUSD.Equal(d(1800)) {
		t.Errorf("expected $1800 post-shock collateral, got %s", a.CollateralUSD)
	}
	if !a.DebtUSD.Equal(d(1500)) {
		t.Errorf("expected $1500 post-shock debt, got %s", a.DebtUSD)
	}
}

func TestSimulate_CloseFactorAndBonusMath(t *testing.T) {
	users := map[string]*health.UserAggregate{
		"0xfringe": borrower("0xfringe", 1500),
	}
	s := Simulate(users, wethAddr, "WETH", d(10), DefaultCloseFactor, d(0.05))

	// Close factor 0.5 on $1500 debt at risk, 5% bonus on the repaid half.
	if !s.EstimatedLiquidatableDebtUSD.Equal(d(750)) {
		t.Errorf("expected $750 liquidatable debt, got %s", s.EstimatedLiquidatableDebtUSD)
	}
	if !s.EstimatedLiquidatorProfitUSD.Equal(d(37.5)) {
		t.Errorf("expected $37.50 liquidator profit, got %s", s.EstimatedLiquidatorProfitUSD)
	}
	if !s.CloseFactor.Equal(d(0.5)) || !s.LiquidationBonus.Equal(d(0.05)) {
		t.Errorf("scenario should echo its parameters: cf=%s bonus=%s",
			s.CloseFactor, s.LiquidationBonus)
	}
}

func TestSimulate_AffectedSortedByHFAscending(t *testing.T) {
	users := map[string]*health.UserAggregate{
		"0xfringe": borrower("0xfringe", 1500), // → 0.99
		"0xworse":  borrower("0xworse", 1600),  // → 0.928125
	}
	s := Simulate(users, wethAddr, "WETH", d(10), DefaultCloseFactor, d(0.05))

	if s.UsersAtRisk != 2 {
		t.Fatalf("expected 2 users at risk, got %d", s.UsersAtRisk)
	}
	if s.AffectedUsers[0].UserAddress != "0xworse" {
		t.Errorf("most at-risk user should come first, got %s", s.AffectedUsers[0].UserAddress)
	}
	if s.AffectedUsers[0].HFAfter.GreaterThan(s.AffectedUsers[1].HFAfter) {
		t.Errorf("affected users not sorted ascending: %s then %s",
			s.AffectedUsers[0].HFAfter, s.AffectedUsers[1].HFAfter)
	}
}

func TestSimulate_PricesRecorded(t *testing.T) {
	users := map[string]*health.UserAggregate{
		"0xsafe": borrower("0xsafe", 1000),
	}
	s := Simulate(users, wethAddr, "WETH", d(10), DefaultCloseFactor, d(0.05))

	if !s.OriginalPriceUSD.Equal(d(2000)) {
		t.Errorf("expected original price $2000, got %s", s.OriginalPriceUSD)
	}
	if !s.SimulatedPriceUSD.Equal(d(1800)) {
		t.Errorf("expected simulated price $1800, got %s", s.SimulatedPriceUSD)
	}
	if !s.PriceDropPercent.Equal(d(10)) {
		t.Errorf("expected drop percent 10, got %s", s.PriceDropPercent)
	}
}

func TestSimulate_UnknownAssetYieldsZeroScenario(t *testing.T) {
	users := map[string]*health.UserAggregate{
		"0xfringe": borrower("0xfringe", 1500),
	}
	unknown := "0x0000000000000000000000000000000000000001"
	s := Simulate(users, unknown, "UNKNOWN", d(50), DefaultCloseFactor, d(0.05))

	if s.UsersAtRisk != 0 {
		t.Errorf("unknown asset should tip nobody, got %d", s.UsersAtRisk)
	}
	if !s.OriginalPriceUSD.IsZero() || !s.SimulatedPriceUSD.IsZero() {
		t.Errorf("unknown asset should record zero prices, got %s / %s",
			s.OriginalPriceUSD, s.SimulatedPriceUSD)
	}
}

func TestSimulate_EmptyPopulation(t *testing.T) {
	s := Simulate(nil, wethAddr, "WETH", d(10), DefaultCloseFactor, d(0.05))
	if s.UsersAtRisk != 0 || len(s.AffectedUsers) != 0 {
		t.Errorf("empty population should yield a zero scenario, got %d at risk", s.UsersAtRisk)
	}
}

func TestSimulate_ZeroDebtUsersIgnored(t *testing.T) {
	noDebt := borrower("0xclean", 1500)
	noDebt.Positions = noDebt.Positions[:1] // drop the debt leg
	users := map[string]*health.UserAggregate{
		"0xclean": noDebt,
	}
	s := Simulate(users, wethAddr, "WETH", d(99), DefaultCloseFactor, d(0.05))
	if s.UsersAtRisk != 0 {
		t.Errorf("debt-free user should never be at risk, got %d", s.UsersAtRisk)
	}
}

func TestSimulate_DoesNotMutatePopulation(t *testing.T) {
	u := borrower("0xfringe", 1500)
	users := map[string]*health.UserAggregate{"0xfringe": u}
	_ = Simulate(users, wethAddr, "WETH", d(10), DefaultCloseFactor, d(0.05))

	if !u.HealthFactor().Equal(d(1.1)) {
		t.Errorf("population mutated: expected HF 1.1, got %s", u.HealthFactor())
	}
}
