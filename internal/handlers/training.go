package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/models"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// TrainHandler starts a run in the background and answers 202 with the new
// status. Progress is read from /train/status or streamed on /stream.
func (a *API) TrainHandler(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.request.ParseTrainRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.session.Start(a.ctx, cfg); err != nil {
		writeError(w, err)
		return
	}

	st := a.session.Status()
	logger.Debug.Printf("🚀 Training run %d accepted over HTTP: %d epochs, lr %g, hidden %v",
		st.RunID, cfg.Epochs, cfg.LearningRate, cfg.Hidden)
	writeJSON(w, http.StatusAccepted, models.TrainResponse{
		Success: true,
		Status:  st,
		Display: models.FormatStatus(st),
	})
}

// StopHandler asks the active run to stop after its current iteration.
func (a *API) StopHandler(w http.ResponseWriter, r *http.Request) {
	stopped := a.session.Stop()
	if stopped {
		logger.Info.Printf("🛑 Stop requested for run %d", a.session.Status().RunID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"requested": stopped,
	})
}

// StatusHandler reports the session state.
func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	st := a.session.Status()
	writeJSON(w, http.StatusOK, models.TrainResponse{
		Success: true,
		Status:  st,
		Display: models.FormatStatus(st),
	})
}

// HistoryHandler returns the loss trace of the current or last run. The
// optional limit query keeps only the most recent entries.
func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	st := a.session.Status()
	trace := a.session.History()
	// a malformed or non-positive limit returns the whole trace
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		trace = tail(trace, limit)
	}
	writeJSON(w, http.StatusOK, models.HistoryResponse{
		Success: true,
		RunID:   st.RunID,
		State:   st.State,
		Trace:   trace,
	})
}

// RunsHandler lists journaled runs.
func (a *API) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeJSON(w, http.StatusOK, models.RunsResponse{Success: true})
		return
	}
	runs, err := a.journal.Runs()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.RunsResponse{Success: true, Runs: runs})
}

// RunHandler returns one journal file.
func (a *API) RunHandler(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		http.NotFound(w, r)
		return
	}
	rf, err := a.journal.Read(mux.Vars(r)["name"])
	if err != nil {
		logger.Debug.Printf("⚠️ Journal read failed: %v", err)
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rf)
}

func tail(t pinn.Trace, n int) pinn.Trace {
	if t.Len() <= n {
		return t
	}
	from := t.Len() - n
	return pinn.Trace{
		Total:    t.Total[from:],
		PDE:      t.PDE[from:],
		Terminal: t.Terminal[from:],
		Boundary: t.Boundary[from:],
	}
}
