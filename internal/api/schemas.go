package api

import (
	"time"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/enrich"
)

type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeS    int64  `json:"uptime_s"`
	InstanceID string `json:"instance_id"`
}

type StatusResponse struct {
	State          string             `json:"state"`
	Scheduler      string             `json:"scheduler"`
	Paused         bool               `json:"paused"`
	Polling        bool               `json:"polling"`
	CurrentPage    int                `json:"current_page"`
	CollectionSize int                `json:"collection_size"`
	Tracker        map[string]int     `json:"tracker"`
	FailedAttempts int                `json:"failed_attempts"`
	LastBatch      *enrich.Summary    `json:"last_batch,omitempty"`
	Dictionary     map[string]int     `json:"dictionary"`
	Options        *EnrichmentOptions `json:"options,omitempty"`
}

// EnrichmentOptions echoes the effective scheduler settings.
type EnrichmentOptions struct {
	Concurrency  int      `json:"concurrency"`
	CooldownMS   int64    `json:"cooldown_ms"`
	Fields       []string `json:"completeness_fields"`
	RequireReady bool     `json:"require_ready"`
}

type VideoResponse struct {
	catalog.DisplayItem
	Enrichment string `json:"enrichment"`
	Attempts   int    `json:"attempts"`
}

type VideosResponse struct {
	Page         int             `json:"page"`
	TotalPages   int             `json:"total_pages"`
	TotalResults int             `json:"total_results"`
	Items        []VideoResponse `json:"items"`
	// Batch reports what happened to the enrichment trigger for this load.
	Batch string `json:"batch"`
}

type EnrichResponse struct {
	Status string `json:"status"`
}

type AttemptResponse struct {
	ID        int64  `json:"id"`
	BatchID   string `json:"batch_id,omitempty"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

type AttemptsResponse struct {
	VideoID  string                  `json:"video_id"`
	State    string                  `json:"state"`
	Attempts []AttemptResponse       `json:"attempts"`
	Metadata *catalog.StoredMetadata `json:"stored_metadata,omitempty"`
}

type ClassifyRequest struct {
	Text string `json:"text"`
}

type ClassifyResponse struct {
	Metadata catalog.Metadata `json:"metadata"`
	Tags     []string         `json:"tags"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func AttemptToResponse(a *catalog.Attempt) AttemptResponse {
	return AttemptResponse{
		ID:        a.ID,
		BatchID:   a.BatchID,
		Outcome:   a.Outcome,
		Error:     a.Error,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

func VideoToResponse(item catalog.DisplayItem, tracker *enrich.Tracker) VideoResponse {
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return VideoResponse{
		DisplayItem: item,
		Enrichment:  string(tracker.State(item.ID)),
		Attempts:    tracker.Attempts(item.ID),
	}
}
