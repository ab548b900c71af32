package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"swap-router/internal/config"
	"swap-router/internal/order"
)

func fastVenueConfig(name string) config.VenueConfig {
	return config.VenueConfig{
		Name:        name,
		BasePrice:   0.0001,
		VarianceMin: 0.98,
		VarianceMax: 1.03,
		FeeRate:     0.003,
		Liquidity:   1000000,
	}
}

func TestSimulatedQuoteStaysInVarianceBand(t *testing.T) {
	v := NewSimulated(fastVenueConfig("RAYDIUM"), nil)

	for i := 0; i < 100; i++ {
		q, err := v.Quote(context.Background(), "SOL", "USDC", 1.0)
		if err != nil {
			t.Fatalf("Quote returned error: %v", err)
		}
		if q.Venue != "RAYDIUM" {
			t.Fatalf("unexpected venue name %q", q.Venue)
		}
		lo, hi := 0.0001*0.98, 0.0001*1.03
		if q.Price < lo || q.Price > hi {
			t.Errorf("price %g outside [%g, %g]", q.Price, lo, hi)
		}
		if q.FeeRate != 0.003 {
			t.Errorf("expected fee 0.003, got %g", q.FeeRate)
		}
	}
}

func TestSimulatedQuoteAlwaysFailsAtFullFailureRate(t *testing.T) {
	cfg := fastVenueConfig("RAYDIUM")
	cfg.FailureRate = 1
	v := NewSimulated(cfg, nil)

	if _, err := v.Quote(context.Background(), "SOL", "USDC", 1.0); !errors.Is(err, ErrVenueUnavailable) {
		t.Fatalf("expected ErrVenueUnavailable, got %v", err)
	}
}

func TestSimulatedExecuteUsesRoutedQuote(t *testing.T) {
	v := NewSimulated(fastVenueConfig("RAYDIUM"), nil)
	snap := order.Snapshot{
		OrderID:     "ord-1",
		ChosenVenue: "RAYDIUM",
		Quotes:      map[string]float64{"RAYDIUM": 0.000098},
	}

	exec, err := v.Execute(context.Background(), snap)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if exec.ExecutedPrice != 0.000098 {
		t.Errorf("expected execution at routed quote, got %g", exec.ExecutedPrice)
	}
	if len(exec.SettlementReference) != 64 {
		t.Fatalf("expected 64-char settlement reference, got %d chars", len(exec.SettlementReference))
	}
	for _, c := range exec.SettlementReference {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("settlement reference not hex: %q", exec.SettlementReference)
		}
	}
}

func TestSimulatedQuoteHonorsDeadline(t *testing.T) {
	cfg := fastVenueConfig("RAYDIUM")
	cfg.QuoteLatencyMin = 200 * time.Millisecond
	cfg.QuoteLatencyMax = 300 * time.Millisecond
	v := NewSimulated(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := v.Quote(ctx, "SOL", "USDC", 1.0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrVenueUnavailable, true},
		{ErrTimeout, true},
		{ErrExecutionFailed, true},
		{ErrRejected, true},
		{fmt.Errorf("wrapped: %w", ErrTimeout), true},
		{context.DeadlineExceeded, true},
		{errors.New("unrelated"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
