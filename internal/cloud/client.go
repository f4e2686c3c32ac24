package cloud

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
)

// TagGenerator asks the vendor to generate hashtag text for a video.
// An empty string means the vendor produced no tags.
type TagGenerator interface {
	Generate(ctx context.Context, videoID string) (string, error)
}

// MetadataStore persists categorized metadata for a video.
type MetadataStore interface {
	UpdateMetadata(ctx context.Context, videoID, indexID string, md catalog.Metadata) error
}

// VideoLister returns one page of the videos in an index. Pages start at 1.
type VideoLister interface {
	ListVideos(ctx context.Context, indexID string, page, pageSize int) (*Page, error)
}

// StatusSource reports the ingestion status of a video, e.g. "ready".
type StatusSource interface {
	VideoStatus(ctx context.Context, indexID, videoID string) (string, error)
}

// Client bundles every vendor capability the service uses.
type Client interface {
	TagGenerator
	MetadataStore
	VideoLister
	StatusSource
}

// Page is one listing page.
type Page struct {
	Videos       []catalog.VideoRecord `json:"videos"`
	Page         int                   `json:"page"`
	TotalPages   int                   `json:"total_pages"`
	TotalResults int                   `json:"total_results"`
}

// ErrEmptyTags means the vendor answered with empty text.
var ErrEmptyTags = errors.New("no tags generated")

// StubClient is used when no vendor API key is configured. It serves an
// in-memory catalog seeded with Seed or SeedCatalog. Generation returns the
// canned hashtag text of a video, or "" when it has none.
type StubClient struct {
	logger *slog.Logger

	mu     sync.Mutex
	videos []catalog.VideoRecord
	tags   map[string]string
}

var _ Client = (*StubClient)(nil)

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

// Seed appends videos to the offline catalog.
func (c *StubClient) Seed(videos ...catalog.VideoRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videos = append(c.videos, videos...)
}

// SeedCatalog appends offline catalog entries and their canned tag text.
func (c *StubClient) SeedCatalog(videos []OfflineVideo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tags == nil {
		c.tags = make(map[string]string, len(videos))
	}
	for _, v := range videos {
		c.videos = append(c.videos, v.record())
		if v.Tags != "" {
			c.tags[v.ID] = v.Tags
		}
	}
}

func (c *StubClient) Generate(ctx context.Context, videoID string) (string, error) {
	c.logger.Info("cloud stub: tag generation requested", "video_id", videoID)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tags[videoID], nil
}

func (c *StubClient) UpdateMetadata(ctx context.Context, videoID, indexID string, md catalog.Metadata) error {
	c.logger.Info("cloud stub: metadata update requested", "video_id", videoID, "index_id", indexID)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.videos {
		if c.videos[i].ID != videoID {
			continue
		}
		bag := make(map[string]any, len(catalog.CategoryFields))
		for k, v := range md.Map() {
			bag[k] = v
		}
		c.videos[i].Metadata = bag
	}
	return nil
}

func (c *StubClient) ListVideos(ctx context.Context, indexID string, page, pageSize int) (*Page, error) {
	c.logger.Debug("cloud stub: video listing requested", "index_id", indexID, "page", page)

	c.mu.Lock()
	defer c.mu.Unlock()

	if page < 1 {
		page = 1
	}
	total := len(c.videos)
	if pageSize <= 0 {
		pageSize = total
	}
	out := &Page{Page: page, TotalResults: total}
	if pageSize == 0 {
		return out, nil
	}
	out.TotalPages = (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start >= total {
		return out, nil
	}
	end := min(start+pageSize, total)
	out.Videos = append([]catalog.VideoRecord(nil), c.videos[start:end]...)
	return out, nil
}

// VideoStatus reports the status a seeded video carries, defaulting to ready.
func (c *StubClient) VideoStatus(ctx context.Context, indexID, videoID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.videos {
		if v.ID == videoID && v.Status != "" {
			return v.Status, nil
		}
	}
	return catalog.StatusReady, nil
}
