package health

import (
	"errors"
	"testing"

	"github.com/lendscan/risk-engine/internal/model"
)

func wethRecord(userID string) model.UserReserveRecord {
	return model.UserReserveRecord{
		ID:   userID + "-weth",
		User: model.UserRef{ID: userID},
		Reserve: model.ReserveRecord{
			Symbol:                      "WETH",
			UnderlyingAsset:             wethAddr,
			Decimals:                    18,
			BaseLTVasCollateral:         "8000",
			ReserveLiquidationThreshold: "8250",
			ReserveLiquidationBonus:     "10500",
			UsageAsCollateralEnabled:    true,
			Price:                       &model.PriceRecord{PriceInUSD: "200000000000"},
		},
		CurrentATokenBalance:           "1000000000000000000",
		CurrentVariableDebt:            "0",
		CurrentStableDebt:              "0",
		UsageAsCollateralEnabledOnUser: true,
	}
}

func usdcDebtRecord(userID, debt string) model.UserReserveRecord {
	return model.UserReserveRecord{
		ID:   userID + "-usdc",
		User: model.UserRef{ID: userID},
		Reserve: model.ReserveRecord{
			Symbol:                      "USDC",
			UnderlyingAsset:             usdcAddr,
			Decimals:                    6,
			BaseLTVasCollateral:         "7700",
			ReserveLiquidationThreshold: "7800",
			ReserveLiquidationBonus:     "10450",
			UsageAsCollateralEnabled:    true,
			Price:                       &model.PriceRecord{PriceInUSD: "100000000"},
		},
		CurrentATokenBalance:           "0",
		CurrentVariableDebt:            debt,
		CurrentStableDebt:              "0",
		UsageAsCollateralEnabledOnUser: false,
	}
}

// --- Parsing tests ---

func TestParseUserReserves_GroupsByUser(t *testing.T) {
	records := []model.UserReserveRecord{
		wethRecord("0xAAA1"),
		usdcDebtRecord("0xAAA1", "1000000000"), // $1000
		wethRecord("0xBBB2"),
	}
	users, err := ParseUserReserves(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	u := users["0xaaa1"]
	if u == nil {
		t.Fatal("user addresses should be lowercased")
	}
	if len(u.Positions) != 2 {
		t.Errorf("expected 2 positions for 0xaaa1, got %d", len(u.Positions))
	}
	hf := u.HealthFactor()
	if hf == nil || !hf.Equal(d(1.65)) {
		t.Errorf("expected HF 1.65 for 0xaaa1, got %v", hf)
	}
}

func TestParseUserReserves_DropsRecordsWithoutPrice(t *testing.T) {
	missing := wethRecord("0xccc3")
	missing.Reserve.Price = nil
	empty := wethRecord("0xccc3")
	empty.Reserve.Price = &model.PriceRecord{PriceInUSD: ""}

	users, err := ParseUserReserves([]model.UserReserveRecord{missing, empty})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("unpriced records should be dropped, got %d users", len(users))
	}
}

func TestParseUserReserves_CollateralNeedsBothFlags(t *testing.T) {
	tests := []struct {
		name        string
		reserveFlag bool
		userFlag    bool
		enabled     bool
	}{
		{"both set", true, true, true},
		{"reserve only", true, false, false},
		{"user only", false, true, false},
		{"neither", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := wethRecord("0xddd4")
			rec.Reserve.UsageAsCollateralEnabled = tt.reserveFlag
			rec.UsageAsCollateralEnabledOnUser = tt.userFlag

			users, err := ParseUserReserves([]model.UserReserveRecord{rec})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			pos := users["0xddd4"].Positions[0]
			if pos.CollateralEnabled != tt.enabled {
				t.Errorf("expected CollateralEnabled=%v, got %v", tt.enabled, pos.CollateralEnabled)
			}
		})
	}
}

func TestParseUserReserves_AssetAddressLowercased(t *testing.T) {
	rec := wethRecord("0xeee5")
	rec.Reserve.UnderlyingAsset = "0xC02AAA39B223FE8D0A0E5C4F27EAD9083C756CC2"

	users, err := ParseUserReserves([]model.UserReserveRecord{rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := users["0xeee5"].Positions[0].AssetAddress; got != wethAddr {
		t.Errorf("expected lowercased asset address %s, got %s", wethAddr, got)
	}
}

func TestParseUserReserves_MalformedNumeric(t *testing.T) {
	rec := wethRecord("0xfff6")
	rec.CurrentVariableDebt = "not-a-number"

	_, err := ParseUserReserves([]model.UserReserveRecord{rec})
	if !errors.Is(err, ErrMalformedNumeric) {
		t.Errorf("expected ErrMalformedNumeric, got %v", err)
	}
}

func TestParseUserReserves_Empty(t *testing.T) {
	users, err := ParseUserReserves(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected empty population, got %d users", len(users))
	}
}
