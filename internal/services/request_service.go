package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/dto"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// maxBodyBytes bounds request bodies; grids with explicit points are the
// largest legitimate payloads.
const maxBodyBytes = 1 << 20

// Per-request limits on grid and training sizes.
const (
	maxGridPoints   = 500
	maxEpochs       = 1_000_000
	maxSamplePoints = 100_000
	maxHiddenWidth  = 1024
	maxLayers       = 8
)

// RequestService handles HTTP request parsing. Every error it returns wraps
// blackscholes.ErrInvalidParameter.
type RequestService struct {
	training config.TrainingConfig
	compare  config.CompareConfig
}

// NewRequestService creates a request service filling omitted fields from
// the configured defaults.
func NewRequestService(training config.TrainingConfig, cmp config.CompareConfig) *RequestService {
	return &RequestService{training: training, compare: cmp}
}

// GridQuery is a contract with the spot and calendar-time axes to price it on.
type GridQuery struct {
	Contract blackscholes.Contract
	Spots    []float64
	Times    []float64
}

// CompareQuery is a parsed comparison request.
type CompareQuery struct {
	GridQuery
	GreeksAt *float64
}

// ParsePriceRequest parses an HTTP request into a contract with a spot.
func (s *RequestService) ParsePriceRequest(r *http.Request) (blackscholes.Contract, error) {
	var req dto.ContractRequest
	if err := decode(r, &req); err != nil {
		return blackscholes.Contract{}, err
	}
	c, err := s.ToContract(req)
	if err != nil {
		return blackscholes.Contract{}, err
	}
	if err := c.Validate(); err != nil {
		return blackscholes.Contract{}, err
	}
	return c, nil
}

// ParseTrainRequest parses a training request over the configured defaults.
func (s *RequestService) ParseTrainRequest(r *http.Request) (pinn.TrainConfig, error) {
	var req dto.TrainRequest
	if err := decode(r, &req); err != nil {
		return pinn.TrainConfig{}, err
	}
	c, err := s.ToContract(req.ContractRequest)
	if err != nil {
		return pinn.TrainConfig{}, err
	}

	cfg := s.training.TrainConfig(c)
	if req.Epochs != 0 {
		cfg.Epochs = req.Epochs
	}
	if req.LearningRate != 0 {
		cfg.LearningRate = req.LearningRate
	}
	if len(req.Hidden) > 0 {
		cfg.Hidden = req.Hidden
	}
	if req.CollocationPoints != 0 {
		cfg.CollocationPoints = req.CollocationPoints
	}
	if req.BoundaryPoints != 0 {
		cfg.BoundaryPoints = req.BoundaryPoints
	}
	if req.TerminalPoints != 0 {
		cfg.TerminalPoints = req.TerminalPoints
	}
	if w := req.Weights; w != nil {
		if w.PDE != nil {
			cfg.Weights.PDE = *w.PDE
		}
		if w.Terminal != nil {
			cfg.Weights.Terminal = *w.Terminal
		}
		if w.Boundary != nil {
			cfg.Weights.Boundary = *w.Boundary
		}
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if err := checkTrainLimits(cfg); err != nil {
		return pinn.TrainConfig{}, err
	}
	// WithDefaults reads all-zero weights as unset
	if req.Weights != nil && cfg.Weights == (pinn.LossWeights{}) {
		return pinn.TrainConfig{}, invalid("at least one loss weight must be positive")
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return pinn.TrainConfig{}, err
	}
	return cfg, nil
}

// ParseCompareRequest parses a comparison request. A request without
// contract terms compares against fallback.
func (s *RequestService) ParseCompareRequest(r *http.Request, fallback blackscholes.Contract) (CompareQuery, error) {
	var req dto.CompareRequest
	if err := decode(r, &req); err != nil {
		return CompareQuery{}, err
	}

	c := fallback
	if !req.ContractRequest.Empty() {
		var err error
		if c, err = s.ToContract(req.ContractRequest); err != nil {
			return CompareQuery{}, err
		}
	}
	g, err := s.gridQuery(c, req.GridRequest)
	if err != nil {
		return CompareQuery{}, err
	}
	return CompareQuery{GridQuery: g, GreeksAt: req.GreeksAt}, nil
}

// ParseSurfaceRequest parses a closed form surface request. Contract terms
// are required; the spot is not.
func (s *RequestService) ParseSurfaceRequest(r *http.Request) (GridQuery, error) {
	var req dto.SurfaceRequest
	if err := decode(r, &req); err != nil {
		return GridQuery{}, err
	}
	c, err := s.ToContract(req.ContractRequest)
	if err != nil {
		return GridQuery{}, err
	}
	return s.gridQuery(c, req.GridRequest)
}

// gridQuery builds the axes from the configured grid and the request
// overrides. Sizes are checked before anything is allocated.
func (s *RequestService) gridQuery(c blackscholes.Contract, req dto.GridRequest) (GridQuery, error) {
	if err := c.ValidateTerms(); err != nil {
		return GridQuery{}, err
	}

	grid := s.compare
	if req.SpotLow > 0 {
		grid.SpotLow = req.SpotLow / c.Strike
	}
	if req.SpotHigh > 0 {
		grid.SpotHigh = req.SpotHigh / c.Strike
	}
	if req.SpotPoints > 0 {
		grid.SpotPoints = req.SpotPoints
	}
	if req.TimePoints > 0 {
		grid.TimePoints = req.TimePoints
	}
	if grid.SpotHigh < grid.SpotLow {
		return GridQuery{}, invalid("spot_high %v is below spot_low %v", grid.SpotHigh*c.Strike, grid.SpotLow*c.Strike)
	}
	if grid.SpotPoints > maxGridPoints || grid.TimePoints > maxGridPoints ||
		len(req.Spots) > maxGridPoints || len(req.Times) > maxGridPoints {
		return GridQuery{}, invalid("grid is limited to %d points per axis", maxGridPoints)
	}

	q := GridQuery{Contract: c}
	q.Spots, q.Times = grid.Grid(c)
	if len(req.Spots) > 0 {
		q.Spots = req.Spots
	}
	if len(req.Times) > 0 {
		q.Times = req.Times
	}
	return q, nil
}

func checkTrainLimits(cfg pinn.TrainConfig) error {
	if cfg.Epochs > maxEpochs {
		return invalid("epochs is limited to %d, got %d", maxEpochs, cfg.Epochs)
	}
	for _, p := range []struct {
		name string
		n    int
	}{
		{"collocation_points", cfg.CollocationPoints},
		{"boundary_points", cfg.BoundaryPoints},
		{"terminal_points", cfg.TerminalPoints},
	} {
		if p.n > maxSamplePoints {
			return invalid("%s is limited to %d, got %d", p.name, maxSamplePoints, p.n)
		}
	}
	if len(cfg.Hidden) > maxLayers {
		return invalid("at most %d hidden layers, got %d", maxLayers, len(cfg.Hidden))
	}
	for i, w := range cfg.Hidden {
		if w > maxHiddenWidth {
			return invalid("hidden layer %d is limited to width %d, got %d", i, maxHiddenWidth, w)
		}
	}
	return nil
}

// ToContract converts request terms, parsing the option type. Values are
// not range checked here.
func (s *RequestService) ToContract(req dto.ContractRequest) (blackscholes.Contract, error) {
	typ := blackscholes.Call
	if req.Type != "" {
		var err error
		if typ, err = blackscholes.ParseOptionType(req.Type); err != nil {
			return blackscholes.Contract{}, err
		}
	}
	return blackscholes.Contract{
		Spot:       req.Spot,
		Strike:     req.Strike,
		Expiry:     req.Expiry,
		Rate:       req.Rate,
		Volatility: req.Volatility,
		Type:       typ,
	}, nil
}

func decode(r *http.Request, v interface{}) error {
	if r.Method != http.MethodPost {
		return invalid("method not allowed: %s", r.Method)
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return invalid("failed to decode request: %v", err)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", blackscholes.ErrInvalidParameter, fmt.Sprintf(format, args...))
}
