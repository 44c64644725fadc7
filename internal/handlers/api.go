package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jwaldner/pinnbs/internal/audit"
	"github.com/jwaldner/pinnbs/internal/blackscholes"
	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/models"
	"github.com/jwaldner/pinnbs/internal/pinn"
	"github.com/jwaldner/pinnbs/internal/services"
	"github.com/jwaldner/pinnbs/internal/stream"
)

// API serves pricing, training and comparison over HTTP - parsing lives in
// services, the work in blackscholes, pinn and compare.
type API struct {
	ctx     context.Context
	config  *config.Config
	session *pinn.Session
	hub     *stream.Hub
	journal *audit.Journal
	request *services.RequestService
}

// NewAPI creates the HTTP layer over a session. Training runs started over
// HTTP live until ctx is cancelled, not until the request ends. hub and
// journal may be nil.
func NewAPI(ctx context.Context, cfg *config.Config, session *pinn.Session, hub *stream.Hub, journal *audit.Journal) *API {
	return &API{
		ctx:     ctx,
		config:  cfg,
		session: session,
		hub:     hub,
		journal: journal,
		request: services.NewRequestService(cfg.Training, cfg.Compare),
	}
}

// Router registers every endpoint.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	// routes sit on the root router so a wrong method answers 405
	r.HandleFunc("/api/price", a.PriceHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/surface", a.SurfaceHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/train", a.TrainHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/train/stop", a.StopHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/train/status", a.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/train/history", a.HistoryHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/train/runs", a.RunsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/train/runs/{name}", a.RunHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/compare", a.CompareHandler).Methods(http.MethodPost)
	if a.hub != nil {
		r.Handle("/api/stream", a.hub).Methods(http.MethodGet)
	}
	r.HandleFunc("/api/health", a.HealthHandler).Methods(http.MethodGet)

	r.Use(loggingMiddleware)
	return r
}

// HealthHandler reports liveness and the session state.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	st := a.session.Status()
	resp := map[string]interface{}{
		"status":    "ok",
		"session":   st.State,
		"trained":   st.Trained,
		"timestamp": time.Now().Unix(),
	}
	if a.hub != nil {
		resp["stream_clients"] = a.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Verbose.Printf("🌐 %s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}

func meta(start time.Time) models.ResponseMetadata {
	return models.ResponseMetadata{
		Timestamp:      time.Now().Format(time.RFC3339),
		ProcessingTime: time.Since(start).Seconds(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("❌ Failed to encode response: %v", err)
	}
}

// writeError maps domain errors to status codes: bad input is 400, a
// session in the wrong state is 409, anything else is 500.
func writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, blackscholes.ErrInvalidParameter):
		status, kind = http.StatusBadRequest, "invalid_parameter"
	case errors.Is(err, pinn.ErrModelNotTrained):
		status, kind = http.StatusConflict, "model_not_trained"
	case errors.Is(err, pinn.ErrTrainingInProgress):
		status, kind = http.StatusConflict, "training_in_progress"
	case errors.Is(err, pinn.ErrTrainingDivergence):
		kind = "training_divergence"
	}
	if status == http.StatusInternalServerError {
		logger.Error.Printf("❌ Request failed: %v", err)
	} else {
		logger.Debug.Printf("⚠️ Request rejected: %v", err)
	}
	writeJSON(w, status, models.ErrorResponse{Success: false, Error: err.Error(), Kind: kind})
}
