// Package blackscholes implements the closed-form Black-Scholes price and
// Greeks for European calls and puts on a non-dividend-paying underlying.
package blackscholes

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Greeks are the raw partial derivatives of the option value: Delta=∂V/∂S,
// Gamma=∂²V/∂S², Vega=∂V/∂σ, Theta=∂V/∂t (per year of calendar time),
// Rho=∂V/∂r.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`
}

// Display rescales the Greeks the way trading screens show them: Vega and Rho
// per 1% move, Theta per calendar day.
func (g Greeks) Display() Greeks {
	return Greeks{
		Delta: g.Delta,
		Gamma: g.Gamma,
		Vega:  g.Vega / 100,
		Theta: g.Theta / 365,
		Rho:   g.Rho / 100,
	}
}

// Quote is the analytic price of a contract together with its Greeks.
type Quote struct {
	Contract Contract `json:"contract"`
	Price    float64  `json:"price"`
	Greeks   Greeks   `json:"greeks"`
}

// Price returns the Black-Scholes value of c.
func Price(c Contract) (float64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	return price(c.Type, c.Spot, c.Strike, c.Expiry, c.Rate, c.Volatility), nil
}

// ComputeGreeks returns the analytic Greeks of c.
func ComputeGreeks(c Contract) (Greeks, error) {
	if err := c.Validate(); err != nil {
		return Greeks{}, err
	}
	return greeks(c.Type, c.Spot, c.Strike, c.Expiry, c.Rate, c.Volatility), nil
}

// Evaluate prices c and computes its Greeks in one pass.
func Evaluate(c Contract) (Quote, error) {
	if err := c.Validate(); err != nil {
		return Quote{}, err
	}
	return Quote{
		Contract: c,
		Price:    price(c.Type, c.Spot, c.Strike, c.Expiry, c.Rate, c.Volatility),
		Greeks:   greeks(c.Type, c.Spot, c.Strike, c.Expiry, c.Rate, c.Volatility),
	}, nil
}

// ValueAt is the option value at spot s and calendar time t, i.e. with T-t
// years left. At or past expiry it is the payoff; at s=0 it is the boundary
// value. The contract terms are assumed valid.
func ValueAt(c Contract, s, t float64) float64 {
	tau := c.Expiry - t
	switch {
	case tau <= 0:
		return c.Payoff(s)
	case s <= 0:
		if c.Type == Put {
			return c.Strike * c.DiscountFactor(tau)
		}
		return 0
	}
	return price(c.Type, s, c.Strike, tau, c.Rate, c.Volatility)
}

// GreeksAt is the Greeks analogue of ValueAt. It returns zero Greeks where
// the closed form is undefined (s<=0 or t>=T).
func GreeksAt(c Contract, s, t float64) Greeks {
	tau := c.Expiry - t
	if tau <= 0 || s <= 0 {
		return Greeks{}
	}
	return greeks(c.Type, s, c.Strike, tau, c.Rate, c.Volatility)
}

func d1d2(s, k, tau, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(tau)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*tau) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

func price(typ OptionType, s, k, tau, r, sigma float64) float64 {
	d1, d2 := d1d2(s, k, tau, r, sigma)
	disc := k * math.Exp(-r*tau)
	call := s*distuv.UnitNormal.CDF(d1) - disc*distuv.UnitNormal.CDF(d2)
	if typ == Put {
		// put-call parity: P = C - S + K·e^(-rT)
		return math.Max(call-s+disc, 0)
	}
	return math.Max(call, 0)
}

func greeks(typ OptionType, s, k, tau, r, sigma float64) Greeks {
	d1, d2 := d1d2(s, k, tau, r, sigma)
	sqrtT := math.Sqrt(tau)
	pdf := distuv.UnitNormal.Prob(d1)
	disc := k * math.Exp(-r*tau)

	g := Greeks{
		Gamma: pdf / (s * sigma * sqrtT),
		Vega:  s * pdf * sqrtT,
	}
	decay := -s * pdf * sigma / (2 * sqrtT)
	if typ == Put {
		g.Delta = distuv.UnitNormal.CDF(d1) - 1
		g.Theta = decay + r*disc*distuv.UnitNormal.CDF(-d2)
		g.Rho = -tau * disc * distuv.UnitNormal.CDF(-d2)
	} else {
		g.Delta = distuv.UnitNormal.CDF(d1)
		g.Theta = decay - r*disc*distuv.UnitNormal.CDF(d2)
		g.Rho = tau * disc * distuv.UnitNormal.CDF(d2)
	}
	return g
}
