package handlers

import (
	"net/http"
	"time"

	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/models"
)

// SurfaceHandler prices the closed form over a spot by time grid and adds
// the Greeks at t=0 for every spot. No trained model is needed.
func (a *API) SurfaceHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q, err := a.request.ParseSurfaceRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	prices, err := blackscholes.Surface(q.Contract, q.Spots, q.Times)
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := blackscholes.Profile(q.Contract, q.Spots)
	if err != nil {
		writeError(w, err)
		return
	}

	logger.Debug.Printf("🗺️ Surface %s K=%.2f T=%.4f: %dx%d points", q.Contract.Type, q.Contract.Strike, q.Contract.Expiry, len(q.Times), len(q.Spots))
	display := models.FormattedFields{
		"points":      models.FormatInteger(len(q.Spots) * len(q.Times)),
		"spot_points": models.FormatInteger(len(q.Spots)),
		"time_points": models.FormatInteger(len(q.Times)),
	}
	writeJSON(w, http.StatusOK, models.SurfaceResponse{
		Success:  true,
		Contract: q.Contract,
		Spots:    q.Spots,
		Times:    q.Times,
		Prices:   prices,
		Profile:  profile,
		Display:  display,
		Meta:     meta(start),
	})
}
