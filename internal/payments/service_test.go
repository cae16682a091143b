package payments

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestCalculateUSDAmount_ScenarioS1 asserts the spec's literal scenario:
// stars=100, k1=0.35, k2=0.15, k3=0.10, rate=0.013 -> nominal=1.3000, credited=0.5200.
func TestCalculateUSDAmount_ScenarioS1(t *testing.T) {
	s := &Service{
		starsToUSD: decimal.NewFromFloat(0.013),
		k1:         decimal.NewFromFloat(0.35),
		k2:         decimal.NewFromFloat(0.15),
	}

	nominal, credited, c, err := s.CalculateUSDAmount(100, 0.10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !nominal.Equal(decimal.RequireFromString("1.3000")) {
		t.Errorf("nominal = %s, want 1.3000", nominal)
	}
	if !credited.Equal(decimal.RequireFromString("0.5200")) {
		t.Errorf("credited = %s, want 0.5200", credited)
	}
	if !c.K3.Equal(decimal.NewFromFloat(0.10)) {
		t.Errorf("k3 = %s, want 0.10", c.K3)
	}
}

func TestCalculateUSDAmount_RejectsExcessiveCommission(t *testing.T) {
	s := &Service{
		starsToUSD: decimal.NewFromFloat(0.013),
		k1:         decimal.NewFromFloat(0.5),
		k2:         decimal.NewFromFloat(0.5),
	}

	if _, _, _, err := s.CalculateUSDAmount(100, 0.5); err == nil {
		t.Fatal("expected error for k1+k2+k3 > 1.0")
	}
}

func TestInvoicePayloadFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	got := InvoicePayload(42, 100, now)
	want := "topup_42_1700000000_100"
	if got != want {
		t.Errorf("InvoicePayload = %q, want %q", got, want)
	}
}
