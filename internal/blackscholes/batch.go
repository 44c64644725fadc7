package blackscholes

import (
	"fmt"
	"math"
)

// Summary prices both legs of the same parameters and reports how far they
// are from put-call parity.
type Summary struct {
	Contract    Contract `json:"contract"`
	Call        Quote    `json:"call"`
	Put         Quote    `json:"put"`
	ParityError float64  `json:"parity_error"`
}

// Summarize evaluates the call and the put of c. c.Type is ignored.
func Summarize(c Contract) (Summary, error) {
	call, err := Evaluate(c.WithType(Call))
	if err != nil {
		return Summary{}, err
	}
	put, err := Evaluate(c.WithType(Put))
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Contract:    c,
		Call:        call,
		Put:         put,
		ParityError: ParityError(call.Price, put.Price, c),
	}, nil
}

// ParityError is |C - P - (S - K·e^(-rT))|.
func ParityError(call, put float64, c Contract) float64 {
	return math.Abs(call - put - (c.Spot - c.Strike*c.DiscountFactor(c.Expiry)))
}

// ValidateGrid checks c's terms and that every spot is in [0, inf) and every
// calendar time in [0, T].
func ValidateGrid(c Contract, spots, times []float64) error {
	if err := c.ValidateTerms(); err != nil {
		return err
	}
	if len(spots) == 0 || len(times) == 0 {
		return fmt.Errorf("%w: grid needs at least one spot and one time", ErrInvalidParameter)
	}
	for _, s := range spots {
		if !(s >= 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: spot %v outside [0, inf)", ErrInvalidParameter, s)
		}
	}
	for _, t := range times {
		if !(t >= 0 && t <= c.Expiry) {
			return fmt.Errorf("%w: time %v outside [0, %v]", ErrInvalidParameter, t, c.Expiry)
		}
	}
	return nil
}

// Surface returns prices[i][j] for times[i] (calendar time, 0..T) and
// spots[j]. c.Spot is ignored.
func Surface(c Contract, spots, times []float64) ([][]float64, error) {
	if err := ValidateGrid(c, spots, times); err != nil {
		return nil, err
	}
	surface := make([][]float64, len(times))
	for i, t := range times {
		row := make([]float64, len(spots))
		for j, s := range spots {
			row[j] = ValueAt(c, s, t)
		}
		surface[i] = row
	}
	return surface, nil
}

// Profile returns the Greeks at t=0 for each spot. c.Spot is ignored.
func Profile(c Contract, spots []float64) ([]Greeks, error) {
	if err := ValidateGrid(c, spots, []float64{0}); err != nil {
		return nil, err
	}
	profile := make([]Greeks, len(spots))
	for i, s := range spots {
		profile[i] = GreeksAt(c, s, 0)
	}
	return profile, nil
}
