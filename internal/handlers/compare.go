package handlers

import (
	"net/http"
	"time"

	"github.com/jwaldner/pinnbs/internal/compare"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/models"
)

// CompareHandler prices a grid with the trained model and the closed form.
// Without contract terms in the body the trained contract is used.
func (a *API) CompareHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	sn, err := a.session.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := a.request.ParseCompareRequest(r, sn.Contract)
	if err != nil {
		writeError(w, err)
		return
	}

	src := compare.Static{S: sn}
	grid, err := compare.CompareGrid(r.Context(), src, q.Contract, q.Spots, q.Times)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := models.CompareResponse{
		Success: true,
		Grid:    grid,
		Display: models.FormattedFields{
			"max_error":  models.FormatCurrency(grid.MaxError),
			"mean_error": models.FormatCurrency(grid.MeanError),
			"iteration":  models.FormatInteger(grid.Iteration),
			"points":     models.FormatInteger(len(grid.Spots) * len(grid.Times)),
		},
	}
	if q.GreeksAt != nil {
		if resp.Greeks, err = compare.CompareGreeks(src, q.Contract, q.Spots, *q.GreeksAt); err != nil {
			writeError(w, err)
			return
		}
	}
	resp.Meta = meta(start)

	logger.Debug.Printf("📊 Compared %dx%d grid: max error %.6f, mean %.6f",
		len(grid.Spots), len(grid.Times), grid.MaxError, grid.MeanError)
	writeJSON(w, http.StatusOK, resp)
}
