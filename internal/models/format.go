package models

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// Formatter methods for dual format responses. Display strings are rounded
// with decimal arithmetic so half-way values round the same way everywhere.

func FormatCurrency(value float64) FieldValue {
	if !finite(value) {
		return FormatText("n/a")
	}
	return FieldValue{
		Raw:     value,
		Display: "$" + decimal.NewFromFloat(value).StringFixed(2),
		Type:    "currency",
	}
}

func FormatNumber(value float64, places int32) FieldValue {
	if !finite(value) {
		return FormatText("n/a")
	}
	return FieldValue{
		Raw:     value,
		Display: decimal.NewFromFloat(value).StringFixed(places),
		Type:    "number",
	}
}

func FormatPercentage(value float64) FieldValue {
	if !finite(value) {
		return FormatText("n/a")
	}
	return FieldValue{
		Raw:     value,
		Display: decimal.NewFromFloat(value).Shift(2).StringFixed(2) + "%",
		Type:    "percentage",
	}
}

// FormatLoss uses scientific notation; losses span many orders of magnitude.
func FormatLoss(value float64) FieldValue {
	return FieldValue{
		Raw:     value,
		Display: fmt.Sprintf("%.4e", value),
		Type:    "loss",
	}
}

func FormatInteger(value int) FieldValue {
	return FieldValue{
		Raw:     value,
		Display: fmt.Sprintf("%d", value),
		Type:    "integer",
	}
}

func FormatText(value string) FieldValue {
	return FieldValue{
		Raw:     value,
		Display: value,
		Type:    "text",
	}
}

// FormatQuote renders a quote with display-scaled Greeks (Vega and Rho per
// 1%, Theta per calendar day).
func FormatQuote(q blackscholes.Quote, parityError float64) FormattedFields {
	g := q.Greeks.Display()
	return FormattedFields{
		"type":         FormatText(string(q.Contract.Type)),
		"price":        FormatCurrency(q.Price),
		"delta":        FormatNumber(g.Delta, 4),
		"gamma":        FormatNumber(g.Gamma, 6),
		"vega":         FormatNumber(g.Vega, 4),
		"theta":        FormatNumber(g.Theta, 4),
		"rho":          FormatNumber(g.Rho, 4),
		"parity_error": FormatNumber(parityError, 10),
	}
}

// FormatStatus renders the headline numbers of a session status.
func FormatStatus(st pinn.Status) FormattedFields {
	progress := 0.0
	if st.Epochs > 0 {
		progress = float64(st.Iteration) / float64(st.Epochs)
	}
	return FormattedFields{
		"state":         FormatText(string(st.State)),
		"iteration":     FormatInteger(st.Iteration),
		"progress":      FormatPercentage(progress),
		"loss":          FormatLoss(st.Losses.Total),
		"loss_pde":      FormatLoss(st.Losses.PDE),
		"loss_terminal": FormatLoss(st.Losses.Terminal),
		"loss_boundary": FormatLoss(st.Losses.Boundary),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
