package services

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

func newService() *RequestService {
	d := pinn.DefaultTrainConfig()
	return NewRequestService(
		config.TrainingConfig{
			Epochs:            d.Epochs,
			LearningRate:      d.LearningRate,
			Hidden:            d.Hidden,
			CollocationPoints: d.CollocationPoints,
			BoundaryPoints:    d.BoundaryPoints,
			TerminalPoints:    d.TerminalPoints,
			WeightPDE:         1,
			WeightTerminal:    1,
			WeightBoundary:    1,
			Seed:              42,
		},
		config.CompareConfig{SpotLow: 0.5, SpotHigh: 1.5, SpotPoints: 11, TimePoints: 6},
	)
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestParsePriceRequest(t *testing.T) {
	c, err := newService().ParsePriceRequest(post(`{"spot":100,"strike":100,"expiry":1,"rate":0.05,"volatility":0.2,"type":"P"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Type != blackscholes.Put || c.Spot != 100 || c.Volatility != 0.2 {
		t.Errorf("unexpected contract %+v", c)
	}
}

func TestParsePriceRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"spot":`},
		{"unknown field", `{"spot":100,"strike":100,"expiry":1,"volatility":0.2,"colour":"red"}`},
		{"zero volatility", `{"spot":100,"strike":100,"expiry":1,"volatility":0}`},
		{"bad type", `{"spot":100,"strike":100,"expiry":1,"volatility":0.2,"type":"straddle"}`},
		{"empty", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newService().ParsePriceRequest(post(tt.body))
			if !errors.Is(err, blackscholes.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestParseTrainRequestDefaults(t *testing.T) {
	cfg, err := newService().ParseTrainRequest(post(`{"strike":100,"expiry":1,"rate":0.05,"volatility":0.2,
		"epochs":300,"weights":{"terminal":10},"threshold":1e-5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Epochs != 300 || cfg.Threshold != 1e-5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Weights != (pinn.LossWeights{PDE: 1, Terminal: 10, Boundary: 1}) {
		t.Errorf("weights = %+v", cfg.Weights)
	}
	if len(cfg.Hidden) != 3 || cfg.Contract.Type != blackscholes.Call || cfg.Seed != 42 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestParseTrainRequestRejectsBadConfig(t *testing.T) {
	_, err := newService().ParseTrainRequest(post(`{"strike":100,"expiry":1,"volatility":0.2,"epochs":-5}`))
	if !errors.Is(err, blackscholes.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestParseTrainRequestLimits(t *testing.T) {
	const terms = `"strike":100,"expiry":1,"volatility":0.2`
	tests := []struct {
		name string
		body string
	}{
		{"epochs", `{` + terms + `,"epochs":1000001}`},
		{"collocation points", `{` + terms + `,"collocation_points":500000000}`},
		{"boundary points", `{` + terms + `,"boundary_points":100001}`},
		{"terminal points", `{` + terms + `,"terminal_points":100001}`},
		{"hidden width", `{` + terms + `,"hidden":[100000,100000]}`},
		{"layers", `{` + terms + `,"hidden":[8,8,8,8,8,8,8,8,8]}`},
		{"all zero weights", `{` + terms + `,"weights":{"pde":0,"terminal":0,"boundary":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newService().ParseTrainRequest(post(tt.body))
			if !errors.Is(err, blackscholes.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}

	cfg, err := newService().ParseTrainRequest(post(`{` + terms + `,"epochs":1000000,"hidden":[1024,1024,1024,1024,1024,1024,1024,1024]}`))
	if err != nil {
		t.Fatalf("limits should be inclusive: %v", err)
	}
	if cfg.Epochs != 1000000 || len(cfg.Hidden) != 8 {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestParseTrainRequestExplicitZeroWeight(t *testing.T) {
	cfg, err := newService().ParseTrainRequest(post(`{"strike":100,"expiry":1,"volatility":0.2,"weights":{"boundary":0}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Weights != (pinn.LossWeights{PDE: 1, Terminal: 1, Boundary: 0}) {
		t.Errorf("weights = %+v", cfg.Weights)
	}
}

func TestParseSurfaceRequest(t *testing.T) {
	q, err := newService().ParseSurfaceRequest(post(`{"strike":100,"expiry":2,"volatility":0.2,"type":"put","spot_low":80,"spot_high":120,"spot_points":5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Contract.Type != blackscholes.Put || q.Contract.Strike != 100 {
		t.Errorf("unexpected contract %+v", q.Contract)
	}
	if len(q.Spots) != 5 || math.Abs(q.Spots[0]-80) > 1e-9 || math.Abs(q.Spots[4]-120) > 1e-9 {
		t.Errorf("spots = %v", q.Spots)
	}
	if len(q.Times) != 6 || q.Times[5] != 2 {
		t.Errorf("times = %v", q.Times)
	}

	for _, body := range []string{
		``,
		`{"strike":100,"expiry":1,"volatility":0.2,"time_points":501}`,
		`{"strike":100,"expiry":1,"volatility":0.2,"spot_low":120,"spot_high":80}`,
	} {
		if _, err := newService().ParseSurfaceRequest(post(body)); !errors.Is(err, blackscholes.ErrInvalidParameter) {
			t.Errorf("%q: expected ErrInvalidParameter, got %v", body, err)
		}
	}
}

func TestParseCompareRequest(t *testing.T) {
	fallback := blackscholes.Contract{Strike: 200, Expiry: 2, Rate: 0.01, Volatility: 0.3, Type: blackscholes.Put}

	q, err := newService().ParseCompareRequest(post(``), fallback)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Contract != fallback {
		t.Errorf("expected the fallback contract, got %+v", q.Contract)
	}
	if len(q.Spots) != 11 || q.Spots[0] != 100 || q.Spots[10] != 300 {
		t.Errorf("spots = %v", q.Spots)
	}
	if len(q.Times) != 6 || q.Times[5] != 2 {
		t.Errorf("times = %v", q.Times)
	}

	q, err = newService().ParseCompareRequest(post(`{"strike":100,"expiry":1,"volatility":0.2,"spots":[90,100,110],"greeks_at":0.5}`), fallback)
	if err != nil {
		t.Fatalf("parse explicit: %v", err)
	}
	if q.Contract.Strike != 100 || len(q.Spots) != 3 || q.GreeksAt == nil || *q.GreeksAt != 0.5 {
		t.Errorf("unexpected query %+v", q)
	}
}

func TestParseCompareRequestErrors(t *testing.T) {
	fallback := blackscholes.Contract{Strike: 100, Expiry: 1, Volatility: 0.2, Type: blackscholes.Call}
	for _, body := range []string{
		`{"spot_low":150,"spot_high":50}`,
		`{"spot_points":100000}`,
		`{"spot_points":20000000,"time_points":20000000}`,
		`{"strike":100,"expiry":0,"volatility":0.2}`,
	} {
		if _, err := newService().ParseCompareRequest(post(body), fallback); !errors.Is(err, blackscholes.ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", body, err)
		}
	}
}
