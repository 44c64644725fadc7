package pinn

import (
	"math"
	"math/rand"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
)

// Point is an (S, t) location with the known option value there. Interior
// points carry no target.
type Point struct {
	S float64 `json:"s"`
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// Batch is one set of collocation points. Interior points are drawn
// uniformly from [0,S_max]×[0,T]; boundary points uniformly in t on S=0 and
// S=S_max; terminal points uniformly in S on t=T.
type Batch struct {
	Interior []Point
	Lower    []Point
	Upper    []Point
	Terminal []Point
}

// Sampler draws collocation batches for one contract.
type Sampler struct {
	contract blackscholes.Contract
	sMax     float64
	rng      *rand.Rand

	nInterior, nBoundary, nTerminal int
}

// NewSampler builds a sampler for cfg seeded with seed.
func NewSampler(cfg TrainConfig, seed int64) *Sampler {
	return &Sampler{
		contract:  cfg.Contract,
		sMax:      cfg.SMax(),
		rng:       rand.New(rand.NewSource(seed)),
		nInterior: cfg.CollocationPoints,
		nBoundary: cfg.BoundaryPoints,
		nTerminal: cfg.TerminalPoints,
	}
}

// Sample draws a fresh batch.
func (s *Sampler) Sample() Batch {
	c := s.contract
	b := Batch{
		Interior: make([]Point, s.nInterior),
		Lower:    make([]Point, s.nBoundary),
		Upper:    make([]Point, s.nBoundary),
		Terminal: make([]Point, s.nTerminal),
	}
	for i := range b.Interior {
		b.Interior[i] = Point{S: s.rng.Float64() * s.sMax, T: s.rng.Float64() * c.Expiry}
	}
	for i := range b.Lower {
		t := s.rng.Float64() * c.Expiry
		b.Lower[i] = Point{S: 0, T: t, V: LowerBoundary(c, t)}
	}
	for i := range b.Upper {
		t := s.rng.Float64() * c.Expiry
		b.Upper[i] = Point{S: s.sMax, T: t, V: UpperBoundary(c, s.sMax, t)}
	}
	for i := range b.Terminal {
		sp := s.rng.Float64() * s.sMax
		b.Terminal[i] = Point{S: sp, T: c.Expiry, V: c.Payoff(sp)}
	}
	return b
}

// LowerBoundary is V(0, t): worthless for a call, discounted strike for a put.
func LowerBoundary(c blackscholes.Contract, t float64) float64 {
	if c.Type == blackscholes.Put {
		return c.Strike * c.DiscountFactor(c.Expiry-t)
	}
	return 0
}

// UpperBoundary is the far-field V(S_max, t): S - K·e^(-r(T-t)) for a call,
// zero for a put.
func UpperBoundary(c blackscholes.Contract, sMax, t float64) float64 {
	if c.Type == blackscholes.Put {
		return 0
	}
	return math.Max(sMax-c.Strike*c.DiscountFactor(c.Expiry-t), 0)
}
