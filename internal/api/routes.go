package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/classify"
	"github.com/heimdex/heimdex-tagger/internal/config"
	"github.com/heimdex/heimdex-tagger/internal/enrich"
)

const maxClassifyBody = 1 << 20

// Trigger outcomes reported by GET /videos.
const (
	batchStarted     = "started"
	batchRunning     = "running"
	batchCoolingDown = "cooling_down"
	batchPaused      = "paused"
	batchStopped     = "stopped"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Post("/enrich", enrichHandler(cfg))
		r.Post("/videos/{id}/retry", retryVideoHandler(cfg))
		r.Get("/videos/{id}/attempts", listAttemptsHandler(cfg))
		r.Post("/classify", classifyHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:     "ok",
			Version:    config.Version,
			UptimeS:    uptime,
			InstanceID: cfg.InstanceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduler := cfg.Runner.Scheduler()
		tracker := scheduler.Tracker()

		counts := make(map[string]int, len(enrich.States))
		for state, n := range tracker.Snapshot() {
			counts[string(state)] = n
		}

		failed, err := cfg.Repository.CountAttempts(r.Context(), catalog.OutcomeFailed)
		if err != nil {
			cfg.Logger.Warn("failed to count failed attempts", "error", err)
		}

		schedulerState := scheduler.State().String()
		state := schedulerState
		if cfg.Runner.IsPaused() {
			state = "paused"
		}

		dictionary := make(map[string]int, len(classify.Priority))
		for _, c := range classify.Priority {
			dictionary[c.String()] = cfg.Classifier.Dictionary().Size(c)
		}

		opts := scheduler.Options()
		WriteJSON(w, http.StatusOK, StatusResponse{
			State:          state,
			Scheduler:      schedulerState,
			Paused:         cfg.Runner.IsPaused(),
			Polling:        cfg.Runner.IsRunning(),
			CurrentPage:    cfg.Runner.CurrentPage(),
			CollectionSize: cfg.Runner.Collection().Len(),
			Tracker:        counts,
			FailedAttempts: failed,
			LastBatch:      scheduler.LastSummary(),
			Dictionary:     dictionary,
			Options: &EnrichmentOptions{
				Concurrency:  opts.Concurrency,
				CooldownMS:   opts.Cooldown.Milliseconds(),
				Fields:       opts.Eligibility.Fields,
				RequireReady: opts.Eligibility.RequireReady,
			},
		})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "page must be a positive integer", "INVALID_REQUEST")
				return
			}
			page = n
		}

		view, err := cfg.Runner.LoadPage(r.Context(), page)
		if err != nil {
			cfg.Logger.Error("failed to load page", "page", page, "error", err)
			WriteError(w, http.StatusBadGateway, "failed to list videos", "UPSTREAM_ERROR")
			return
		}

		batch := triggerOutcome(cfg.Runner.Trigger())

		tracker := cfg.Runner.Scheduler().Tracker()
		items := make([]VideoResponse, 0, len(view.Items))
		for _, item := range view.Items {
			items = append(items, VideoToResponse(item, tracker))
		}

		WriteJSON(w, http.StatusOK, VideosResponse{
			Page:         view.Page,
			TotalPages:   view.TotalPages,
			TotalResults: view.TotalResults,
			Items:        items,
			Batch:        batch,
		})
	}
}

func enrichHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := cfg.Runner.Trigger()
		switch {
		case err == nil:
			WriteJSON(w, http.StatusAccepted, EnrichResponse{Status: batchStarted})
		case errors.Is(err, enrich.ErrPaused):
			WriteError(w, http.StatusConflict, "enrichment is paused", "PAUSED")
		case errors.Is(err, enrich.ErrBatchRunning):
			WriteError(w, http.StatusConflict, "a batch is already running", "BATCH_RUNNING")
		case errors.Is(err, enrich.ErrCoolingDown):
			WriteError(w, http.StatusConflict, "enrichment is cooling down", "COOLING_DOWN")
		case errors.Is(err, enrich.ErrStopped):
			WriteError(w, http.StatusServiceUnavailable, "enrichment runner is shutting down", "STOPPED")
		default:
			cfg.Logger.Error("failed to trigger enrichment", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to trigger enrichment", "INTERNAL_ERROR")
		}
	}
}

func retryVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !cfg.Runner.Retry(id) {
			WriteError(w, http.StatusConflict, "video is queued or in flight", "IN_FLIGHT")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAttemptsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		limit := 0
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_REQUEST")
				return
			}
			limit = n
		}

		attempts, err := cfg.Repository.ListAttempts(r.Context(), catalog.AttemptFilter{VideoID: id, Limit: limit})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list attempts", "INTERNAL_ERROR")
			return
		}

		stored, err := cfg.Repository.GetMetadata(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load metadata", "INTERNAL_ERROR")
			return
		}

		resp := AttemptsResponse{
			VideoID:  id,
			State:    string(cfg.Runner.Scheduler().Tracker().State(id)),
			Attempts: make([]AttemptResponse, 0, len(attempts)),
			Metadata: stored,
		}
		for _, a := range attempts {
			resp.Attempts = append(resp.Attempts, AttemptToResponse(a))
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// classifyHandler accepts either {"text": "..."} or a plain text body.
func classifyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxClassifyBody))
		if err != nil {
			WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "INVALID_REQUEST")
			return
		}

		text := string(body)
		if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
			var req ClassifyRequest
			if err := json.Unmarshal(body, &req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
				return
			}
			text = req.Text
		}

		md := cfg.Classifier.Classify(text)
		tags := md.Tags()
		if tags == nil {
			tags = []string{}
		}
		WriteJSON(w, http.StatusOK, ClassifyResponse{Metadata: md, Tags: tags})
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Runner.Pause()
		w.WriteHeader(http.StatusNoContent)
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Runner.Resume()
		w.WriteHeader(http.StatusNoContent)
	}
}

func triggerOutcome(err error) string {
	switch {
	case err == nil:
		return batchStarted
	case errors.Is(err, enrich.ErrPaused):
		return batchPaused
	case errors.Is(err, enrich.ErrCoolingDown):
		return batchCoolingDown
	case errors.Is(err, enrich.ErrStopped):
		return batchStopped
	default:
		return batchRunning
	}
}
