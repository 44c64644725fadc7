package dto

// ContractRequest carries option terms. Spot is only needed for pricing.
type ContractRequest struct {
	Spot       float64 `json:"spot"`
	Strike     float64 `json:"strike"`
	Expiry     float64 `json:"expiry"` // years
	Rate       float64 `json:"rate"`
	Volatility float64 `json:"volatility"`
	Type       string  `json:"type"` // "call" or "put"
}

// Empty reports whether no terms were given.
func (c ContractRequest) Empty() bool {
	return c == ContractRequest{}
}

// LossWeightsRequest overrides individual loss weights.
type LossWeightsRequest struct {
	PDE      *float64 `json:"pde"`
	Terminal *float64 `json:"terminal"`
	Boundary *float64 `json:"boundary"`
}

// TrainRequest starts a training run. Zero fields use the configured
// training defaults.
type TrainRequest struct {
	ContractRequest

	Epochs            int                 `json:"epochs"`
	LearningRate      float64             `json:"learning_rate"`
	Hidden            []int               `json:"hidden"`
	CollocationPoints int                 `json:"collocation_points"`
	BoundaryPoints    int                 `json:"boundary_points"`
	TerminalPoints    int                 `json:"terminal_points"`
	Weights           *LossWeightsRequest `json:"weights"`
	Threshold         *float64            `json:"threshold"`
	Seed              *int64              `json:"seed"`
}

// GridRequest describes a spot by calendar-time grid. Spot bounds are
// prices; explicit Spots/Times win over the generated ranges.
type GridRequest struct {
	SpotLow    float64   `json:"spot_low"`
	SpotHigh   float64   `json:"spot_high"`
	SpotPoints int       `json:"spot_points"`
	TimePoints int       `json:"time_points"`
	Spots      []float64 `json:"spots"`
	Times      []float64 `json:"times"`
}

// CompareRequest compares the trained model with the closed form. A missing
// contract means the one the model was trained on.
type CompareRequest struct {
	ContractRequest
	GridRequest

	// GreeksAt adds a Delta/Gamma/Theta slice at this calendar time.
	GreeksAt *float64 `json:"greeks_at"`
}

// SurfaceRequest prices a closed form surface and the t=0 Greeks profile.
type SurfaceRequest struct {
	ContractRequest
	GridRequest
}
