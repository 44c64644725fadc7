package pinn

import (
	"fmt"
	"math"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
)

// LossWeights scale the three residual terms in the total loss.
type LossWeights struct {
	PDE      float64 `json:"pde" yaml:"pde"`
	Terminal float64 `json:"terminal" yaml:"terminal"`
	Boundary float64 `json:"boundary" yaml:"boundary"`
}

// TrainConfig describes one training run.
type TrainConfig struct {
	Contract blackscholes.Contract `json:"contract"`

	Epochs       int     `json:"epochs"`
	LearningRate float64 `json:"learning_rate"`
	Hidden       []int   `json:"hidden"`

	CollocationPoints int `json:"collocation_points"`
	BoundaryPoints    int `json:"boundary_points"` // per boundary (S=0 and S=S_max)
	TerminalPoints    int `json:"terminal_points"`

	Weights LossWeights `json:"weights"`

	// Threshold stops the run as Converged once the total loss drops below
	// it. Zero disables early stopping.
	Threshold float64 `json:"threshold"`

	Seed          int64   `json:"seed"`
	SMaxMultiple  float64 `json:"s_max_multiple"` // S_max = SMaxMultiple·K
	ResampleEvery int     `json:"resample_every"`
	EmitEvery     int     `json:"emit_every"`
	SnapshotEvery int     `json:"snapshot_every"`
}

// DefaultTrainConfig returns the defaults used when a field is left zero.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:            1000,
		LearningRate:      1e-3,
		Hidden:            []int{50, 50, 50},
		CollocationPoints: 2000,
		BoundaryPoints:    200,
		TerminalPoints:    400,
		Weights:           LossWeights{PDE: 1, Terminal: 1, Boundary: 1},
		Seed:              42,
		SMaxMultiple:      4,
		ResampleEvery:     1,
		EmitEvery:         1,
		SnapshotEvery:     50,
	}
}

// WithDefaults fills every zero field from DefaultTrainConfig. Weights are
// replaced only when all three are zero; a single zero weight is kept.
func (c TrainConfig) WithDefaults() TrainConfig {
	d := DefaultTrainConfig()
	if c.Epochs == 0 {
		c.Epochs = d.Epochs
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if len(c.Hidden) == 0 {
		c.Hidden = d.Hidden
	}
	if c.CollocationPoints == 0 {
		c.CollocationPoints = d.CollocationPoints
	}
	if c.BoundaryPoints == 0 {
		c.BoundaryPoints = d.BoundaryPoints
	}
	if c.TerminalPoints == 0 {
		c.TerminalPoints = d.TerminalPoints
	}
	if c.Weights == (LossWeights{}) {
		c.Weights = d.Weights
	}
	if c.SMaxMultiple == 0 {
		c.SMaxMultiple = d.SMaxMultiple
	}
	if c.ResampleEvery == 0 {
		c.ResampleEvery = d.ResampleEvery
	}
	if c.EmitEvery == 0 {
		c.EmitEvery = d.EmitEvery
	}
	if c.SnapshotEvery == 0 {
		c.SnapshotEvery = d.SnapshotEvery
	}
	return c
}

// Validate rejects configurations the trainer cannot run.
func (c TrainConfig) Validate() error {
	if err := c.Contract.ValidateTerms(); err != nil {
		return err
	}
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", blackscholes.ErrInvalidParameter, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Epochs <= 0:
		return invalid("epochs must be positive, got %d", c.Epochs)
	case !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0):
		return invalid("learning rate must be positive, got %v", c.LearningRate)
	case c.CollocationPoints <= 0 || c.BoundaryPoints <= 0 || c.TerminalPoints <= 0:
		return invalid("batch sizes must be positive, got %d/%d/%d",
			c.CollocationPoints, c.BoundaryPoints, c.TerminalPoints)
	case c.Weights.PDE < 0 || c.Weights.Terminal < 0 || c.Weights.Boundary < 0:
		return invalid("loss weights must be non-negative, got %+v", c.Weights)
	case c.Threshold < 0:
		return invalid("threshold must be non-negative, got %v", c.Threshold)
	case !(c.SMaxMultiple > 1):
		return invalid("s_max_multiple must exceed 1, got %v", c.SMaxMultiple)
	case c.ResampleEvery <= 0 || c.EmitEvery <= 0 || c.SnapshotEvery <= 0:
		return invalid("resample/emit/snapshot intervals must be positive")
	}
	if len(c.Hidden) == 0 {
		return invalid("at least one hidden layer is required")
	}
	for i, w := range c.Hidden {
		if w <= 0 {
			return invalid("hidden layer %d has width %d", i, w)
		}
	}
	return nil
}

// SMax is the upper spot boundary of the training domain.
func (c TrainConfig) SMax() float64 {
	return c.SMaxMultiple * c.Contract.Strike
}
