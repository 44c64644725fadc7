package handlers

import (
	"net/http"
	"time"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/models"
)

// PriceHandler prices one contract in closed form with its Greeks and the
// put-call parity check of both legs.
func (a *API) PriceHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	c, err := a.request.ParsePriceRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := blackscholes.Evaluate(c)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := blackscholes.Summarize(c)
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Debug.Printf("💰 Priced %s S=%.2f K=%.2f T=%.4f: %.6f", c.Type, c.Spot, c.Strike, c.Expiry, q.Price)

	writeJSON(w, http.StatusOK, models.PriceResponse{
		Success: true,
		Data: models.PriceData{
			Quote:   q,
			Summary: summary,
			Display: models.FormatQuote(q, summary.ParityError),
		},
		Meta: meta(start),
	})
}
