package models

import (
	"github.com/jwaldner/pinnbs/internal/audit"
	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/compare"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// FieldValue represents a field with both raw data and formatted display
type FieldValue struct {
	Raw     interface{} `json:"raw"`     // For sorting: 10.450583
	Display string      `json:"display"` // For UI: "$10.45"
	Type    string      `json:"type"`    // For CSS: "currency"
}

// FormattedFields maps field keys to their dual representation.
type FormattedFields map[string]FieldValue

type ResponseMetadata struct {
	Timestamp      string  `json:"timestamp"`
	ProcessingTime float64 `json:"processing_time"` // seconds
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"kind"` // "invalid_parameter", "model_not_trained", "training_in_progress", "internal"
}

// PriceResponse represents the analytic pricing response
type PriceResponse struct {
	Success bool             `json:"success"`
	Data    PriceData        `json:"data"`
	Meta    ResponseMetadata `json:"meta"`
}

type PriceData struct {
	Quote   blackscholes.Quote   `json:"quote"`
	Summary blackscholes.Summary `json:"summary"`
	Display FormattedFields      `json:"display"`
}

// TrainResponse reports the session after a training request.
type TrainResponse struct {
	Success bool            `json:"success"`
	Status  pinn.Status     `json:"status"`
	Display FormattedFields `json:"display,omitempty"`
}

// HistoryResponse carries the loss trace of the current or last run.
type HistoryResponse struct {
	Success bool       `json:"success"`
	RunID   int        `json:"run_id"`
	State   pinn.State `json:"state"`
	Trace   pinn.Trace `json:"trace"`
}

// CompareResponse represents the PINN versus closed form comparison
type CompareResponse struct {
	Success bool                 `json:"success"`
	Grid    compare.Grid         `json:"grid"`
	Greeks  []compare.GreekPoint `json:"greeks,omitempty"`
	Display FormattedFields      `json:"display"`
	Meta    ResponseMetadata     `json:"meta"`
}

// RunsResponse lists journaled training runs.
type RunsResponse struct {
	Success bool              `json:"success"`
	Runs    []audit.RunHeader `json:"runs"`
}

// SurfaceResponse is the closed form price surface with the t=0 Greeks
// profile. Prices[i][j] is the value at Times[i] and Spots[j].
type SurfaceResponse struct {
	Success  bool                  `json:"success"`
	Contract blackscholes.Contract `json:"contract"`
	Spots    []float64             `json:"spots"`
	Times    []float64             `json:"times"`
	Prices   [][]float64           `json:"prices"`
	Profile  []blackscholes.Greeks `json:"profile"`
	Display  FormattedFields       `json:"display"`
	Meta     ResponseMetadata      `json:"meta"`
}
