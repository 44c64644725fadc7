package blackscholes

import (
	"errors"
	"testing"
)

func TestSummarize(t *testing.T) {
	s, err := Summarize(atm())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if s.Call.Contract.Type != Call || s.Put.Contract.Type != Put {
		t.Fatalf("legs have wrong types: %v / %v", s.Call.Contract.Type, s.Put.Contract.Type)
	}
	if s.ParityError > 1e-10 {
		t.Errorf("parity error too large: %v", s.ParityError)
	}
	if d := s.Call.Greeks.Delta - s.Put.Greeks.Delta; !approxEqual(d, 1, 1e-12) {
		t.Errorf("call delta - put delta = %v", d)
	}
}

func TestValidateGrid(t *testing.T) {
	if err := ValidateGrid(atm(), []float64{0, 100}, []float64{0, 1}); err != nil {
		t.Fatalf("valid grid rejected: %v", err)
	}
	tests := []struct {
		name  string
		spots  []float64
		times  []float64
	}{
		{"no spots", nil, []float64{0}},
		{"negative spot", []float64{-1}, []float64{0}},
		{"time past expiry", []float64{100}, []float64{1.5}},
		{"negative time", []float64{100}, []float64{-0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateGrid(atm(), tt.spots, tt.times); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestSurface(t *testing.T) {
	spots := []float64{50, 100, 150}
	times := []float64{0, 0.5, 1}
	surface, err := Surface(atm(), spots, times)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(surface) != len(times) || len(surface[0]) != len(spots) {
		t.Fatalf("bad shape %dx%d", len(surface), len(surface[0]))
	}
	// last row is the payoff
	for j, s := range spots {
		if surface[2][j] != atm().Payoff(s) {
			t.Errorf("payoff row mismatch at S=%v: %v", s, surface[2][j])
		}
	}
	// call value decays toward payoff as time passes
	if surface[0][1] <= surface[1][1] {
		t.Errorf("ATM value should decrease with calendar time: %v <= %v", surface[0][1], surface[1][1])
	}
}

func TestProfile(t *testing.T) {
	profile, err := Profile(atm(), []float64{60, 100, 140})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !(profile[0].Delta < profile[1].Delta && profile[1].Delta < profile[2].Delta) {
		t.Errorf("call delta should increase with spot: %+v", profile)
	}
	if _, err := Profile(atm(), nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("empty profile: expected ErrInvalidParameter, got %v", err)
	}
}
