package blackscholes

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidParameter is returned for non-positive S/K/T/σ, unknown option
// types and malformed ranges. Callers can re-prompt and retry.
var ErrInvalidParameter = errors.New("invalid parameter")

// OptionType is the exercise right of a European option.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ParseOptionType accepts "call", "c", "put" and "p" in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return "", fmt.Errorf("%w: option type %q (want call or put)", ErrInvalidParameter, s)
}

// Valid reports whether t is one of Call or Put.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// Contract holds the Black-Scholes inputs for one European option.
type Contract struct {
	Spot       float64    `json:"spot" yaml:"spot"`             // S
	Strike     float64    `json:"strike" yaml:"strike"`         // K
	Expiry     float64    `json:"expiry" yaml:"expiry"`         // T in years
	Rate       float64    `json:"rate" yaml:"rate"`             // r, continuously compounded
	Volatility float64    `json:"volatility" yaml:"volatility"` // σ, annualized
	Type       OptionType `json:"type" yaml:"type"`
}

// Validate checks S, K, T, σ > 0 and the option type.
func (c Contract) Validate() error {
	if err := c.validateTerms(); err != nil {
		return err
	}
	if !(c.Spot > 0) || math.IsInf(c.Spot, 0) {
		return fmt.Errorf("%w: spot price must be positive, got %v", ErrInvalidParameter, c.Spot)
	}
	return nil
}

// validateTerms checks everything except the spot, which training does not use.
func (c Contract) validateTerms() error {
	switch {
	case !(c.Strike > 0) || math.IsInf(c.Strike, 0):
		return fmt.Errorf("%w: strike must be positive, got %v", ErrInvalidParameter, c.Strike)
	case !(c.Expiry > 0) || math.IsInf(c.Expiry, 0):
		return fmt.Errorf("%w: time to maturity must be positive, got %v", ErrInvalidParameter, c.Expiry)
	case !(c.Volatility > 0) || math.IsInf(c.Volatility, 0):
		return fmt.Errorf("%w: volatility must be positive, got %v", ErrInvalidParameter, c.Volatility)
	case math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0):
		return fmt.Errorf("%w: risk-free rate must be finite, got %v", ErrInvalidParameter, c.Rate)
	case !c.Type.Valid():
		return fmt.Errorf("%w: option type %q (want call or put)", ErrInvalidParameter, c.Type)
	}
	return nil
}

// ValidateTerms validates the contract terms without requiring a spot price.
// Training a PINN covers a whole spot domain, so S is not part of its input.
func (c Contract) ValidateTerms() error {
	return c.validateTerms()
}

// WithSpot returns a copy of c priced at spot s.
func (c Contract) WithSpot(s float64) Contract {
	c.Spot = s
	return c
}

// WithType returns a copy of c with the given option type.
func (c Contract) WithType(t OptionType) Contract {
	c.Type = t
	return c
}

// Payoff is the value at expiry for spot s.
func (c Contract) Payoff(s float64) float64 {
	if c.Type == Put {
		return math.Max(c.Strike-s, 0)
	}
	return math.Max(s-c.Strike, 0)
}

// DiscountFactor is e^(-r·tau).
func (c Contract) DiscountFactor(tau float64) float64 {
	return math.Exp(-c.Rate * tau)
}
