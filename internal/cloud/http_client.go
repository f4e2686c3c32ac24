package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
)

// DefaultPrompt asks the vendor for hashtags only.
const DefaultPrompt = "Generate hashtags describing this video's target demographics, " +
	"sector, emotions, locations and brands. Respond with hashtags only, separated by spaces."

const maxErrorBody = 4096

// APIError represents a non-2xx response from the vendor API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting.
// Other client errors (4xx) are considered permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPClient talks to the video understanding vendor over its REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	prompt     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, apiKey string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		prompt:  DefaultPrompt,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

// SetPrompt overrides the generation prompt. Empty prompts are ignored.
func (c *HTTPClient) SetPrompt(prompt string) {
	if strings.TrimSpace(prompt) != "" {
		c.prompt = prompt
	}
}

// SetTimeout overrides the per-request HTTP timeout.
func (c *HTTPClient) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

type generateRequest struct {
	VideoID string `json:"video_id"`
	Prompt  string `json:"prompt"`
}

type generateResponse struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

func (c *HTTPClient) Generate(ctx context.Context, videoID string) (string, error) {
	var resp generateResponse
	err := c.do(ctx, "generate", http.MethodPost, "/generate", nil,
		generateRequest{VideoID: videoID, Prompt: c.prompt}, &resp)
	if err != nil {
		return "", err
	}

	c.logger.Debug("tags generated", "video_id", videoID, "generation_id", resp.ID, "chars", len(resp.Data))
	return strings.TrimSpace(resp.Data), nil
}

type updateVideoRequest struct {
	UserMetadata catalog.Metadata `json:"user_metadata"`
}

func (c *HTTPClient) UpdateMetadata(ctx context.Context, videoID, indexID string, md catalog.Metadata) error {
	path := fmt.Sprintf("/indexes/%s/videos/%s", url.PathEscape(indexID), url.PathEscape(videoID))
	if err := c.do(ctx, "update metadata", http.MethodPut, path, nil, updateVideoRequest{UserMetadata: md}, nil); err != nil {
		return err
	}

	c.logger.Info("video metadata updated", "video_id", videoID, "index_id", indexID)
	return nil
}

type videoListResponse struct {
	Data     []videoItem `json:"data"`
	PageInfo struct {
		Page         int `json:"page"`
		TotalPage    int `json:"total_page"`
		TotalResults int `json:"total_results"`
	} `json:"page_info"`
}

type videoItem struct {
	ID             string         `json:"_id"`
	UserMetadata   map[string]any `json:"user_metadata"`
	SystemMetadata struct {
		Filename   string `json:"filename"`
		VideoTitle string `json:"video_title"`
	} `json:"system_metadata"`
	HLS *struct {
		VideoURL      string   `json:"video_url"`
		ThumbnailURLs []string `json:"thumbnail_urls"`
	} `json:"hls"`
}

func (v videoItem) record() catalog.VideoRecord {
	rec := catalog.VideoRecord{
		ID:       v.ID,
		Title:    v.SystemMetadata.VideoTitle,
		Metadata: v.UserMetadata,
	}
	if rec.Title == "" {
		rec.Title = v.SystemMetadata.Filename
	}
	if v.HLS != nil {
		rec.MediaURL = v.HLS.VideoURL
		if len(v.HLS.ThumbnailURLs) > 0 {
			rec.ThumbnailURL = v.HLS.ThumbnailURLs[0]
		}
	}
	return rec
}

func (c *HTTPClient) ListVideos(ctx context.Context, indexID string, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	if pageSize > 0 {
		query.Set("page_limit", strconv.Itoa(pageSize))
	}

	var resp videoListResponse
	path := fmt.Sprintf("/indexes/%s/videos", url.PathEscape(indexID))
	if err := c.do(ctx, "list videos", http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	out := &Page{
		Videos:       make([]catalog.VideoRecord, 0, len(resp.Data)),
		Page:         resp.PageInfo.Page,
		TotalPages:   resp.PageInfo.TotalPage,
		TotalResults: resp.PageInfo.TotalResults,
	}
	if out.Page == 0 {
		out.Page = page
	}
	for _, v := range resp.Data {
		if v.ID == "" {
			continue
		}
		out.Videos = append(out.Videos, v.record())
	}
	return out, nil
}

type taskListResponse struct {
	Data []struct {
		ID      string `json:"_id"`
		VideoID string `json:"video_id"`
		Status  string `json:"status"`
	} `json:"data"`
}

// VideoStatus returns the status of the video's indexing task, or "" when
// the vendor has no task for it.
func (c *HTTPClient) VideoStatus(ctx context.Context, indexID, videoID string) (string, error) {
	query := url.Values{}
	query.Set("index_id", indexID)
	query.Set("video_id", videoID)

	var resp taskListResponse
	if err := c.do(ctx, "video status", http.MethodGet, "/tasks", query, nil, &resp); err != nil {
		return "", err
	}
	for _, task := range resp.Data {
		if task.VideoID == "" || task.VideoID == videoID {
			return task.Status, nil
		}
	}
	return "", nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
