package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClient_Generate_Success(t *testing.T) {
	var received generateRequest
	var receivedKey, receivedRequestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		receivedKey = r.Header.Get("x-api-key")
		receivedRequestID = r.Header.Get("X-Request-Id")

		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)

		json.NewEncoder(w).Encode(generateResponse{ID: "gen-1", Data: "  #male #tech  \n"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "key-123", testLogger())
	client.SetPrompt("tags please")

	text, err := client.Generate(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "#male #tech" {
		t.Errorf("text = %q, want trimmed tags", text)
	}
	if receivedKey != "key-123" {
		t.Errorf("x-api-key = %q, want key-123", receivedKey)
	}
	if receivedRequestID == "" {
		t.Error("X-Request-Id header not set")
	}
	if received.VideoID != "vid-1" || received.Prompt != "tags please" {
		t.Errorf("request = %+v", received)
	}
}

func TestHTTPClient_SetPrompt_IgnoresBlank(t *testing.T) {
	client := NewHTTPClient("http://example.invalid", "k", testLogger())
	client.SetPrompt("   ")
	if client.prompt != DefaultPrompt {
		t.Errorf("prompt = %q, want default", client.prompt)
	}
}

func TestHTTPClient_Generate_ReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"slow down"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", testLogger())
	_, err := client.Generate(context.Background(), "vid-1")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "slow down") {
		t.Errorf("body = %q", apiErr.Body)
	}
	if !apiErr.IsRetryable() {
		t.Error("429 should be retryable")
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	if !(&APIError{StatusCode: http.StatusBadGateway}).IsRetryable() {
		t.Fatal("expected 5xx error to be retryable")
	}
	if (&APIError{StatusCode: http.StatusNotFound}).IsRetryable() {
		t.Fatal("expected 404 to be permanent")
	}
}

func TestHTTPClient_UpdateMetadata(t *testing.T) {
	var body map[string]map[string]string
	var path, method string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		method = r.Method
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", testLogger())
	md := catalog.Metadata{Sector: "tech", Brands: "nike, adidas"}
	if err := client.UpdateMetadata(context.Background(), "vid-1", "idx-1", md); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if method != http.MethodPut || path != "/indexes/idx-1/videos/vid-1" {
		t.Errorf("request = %s %s", method, path)
	}
	um := body["user_metadata"]
	if um["sector"] != "tech" || um["brands"] != "nike, adidas" {
		t.Errorf("user_metadata = %+v", um)
	}
	if _, ok := um["source"]; !ok {
		t.Error("user_metadata should carry every category key")
	}
}

func TestHTTPClient_ListVideos(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/indexes/idx-1/videos" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		query = r.URL.RawQuery
		w.Write([]byte(`{
			"data": [
				{"_id": "v1", "system_metadata": {"filename": "one.mp4"},
				 "hls": {"video_url": "https://cdn/v1.m3u8", "thumbnail_urls": ["https://cdn/v1.jpg"]},
				 "user_metadata": {"sector": "tech"}},
				{"_id": "v2", "system_metadata": {"filename": "two.mp4", "video_title": "Two"}},
				{"_id": ""}
			],
			"page_info": {"page": 2, "total_page": 3, "total_results": 42}
		}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", testLogger())
	page, err := client.ListVideos(context.Background(), "idx-1", 2, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(query, "page=2") || !strings.Contains(query, "page_limit=20") {
		t.Errorf("query = %q", query)
	}
	if page.Page != 2 || page.TotalPages != 3 || page.TotalResults != 42 {
		t.Errorf("page info = %+v", page)
	}
	if len(page.Videos) != 2 {
		t.Fatalf("videos = %d, want 2", len(page.Videos))
	}

	v1 := page.Videos[0]
	if v1.Title != "one.mp4" || v1.MediaURL != "https://cdn/v1.m3u8" || v1.ThumbnailURL != "https://cdn/v1.jpg" {
		t.Errorf("v1 = %+v", v1)
	}
	if catalog.BagString(v1.Metadata, catalog.FieldSector) != "tech" {
		t.Errorf("v1 metadata = %+v", v1.Metadata)
	}
	if page.Videos[1].Title != "Two" {
		t.Errorf("v2 title = %q, want video_title preferred", page.Videos[1].Title)
	}
}

func TestHTTPClient_VideoStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("video_id") == "missing" {
			w.Write([]byte(`{"data": []}`))
			return
		}
		w.Write([]byte(`{"data": [{"_id": "t1", "video_id": "vid-1", "status": "ready"}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", testLogger())

	status, err := client.VideoStatus(context.Background(), "idx-1", "vid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "ready" {
		t.Errorf("status = %q, want ready", status)
	}

	status, err = client.VideoStatus(context.Background(), "idx-1", "missing")
	if err != nil || status != "" {
		t.Errorf("missing status = (%q, %v), want empty", status, err)
	}
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "k", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Generate(ctx, "vid-1"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestStubClient_NoOp(t *testing.T) {
	stub := NewStubClient(testLogger())
	ctx := context.Background()

	text, err := stub.Generate(ctx, "vid-1")
	if err != nil || text != "" {
		t.Errorf("Generate() = (%q, %v)", text, err)
	}
	if err := stub.UpdateMetadata(ctx, "vid-1", "idx", catalog.Metadata{}); err != nil {
		t.Errorf("UpdateMetadata() error = %v", err)
	}
	page, err := stub.ListVideos(ctx, "idx", 1, 10)
	if err != nil || len(page.Videos) != 0 {
		t.Errorf("ListVideos() = (%+v, %v)", page, err)
	}
}

func TestStubClient_OfflineCatalog(t *testing.T) {
	stub := NewStubClient(testLogger())
	ctx := context.Background()
	stub.Seed(
		catalog.VideoRecord{ID: "a"},
		catalog.VideoRecord{ID: "b"},
		catalog.VideoRecord{ID: "c"},
	)

	page, err := stub.ListVideos(ctx, "idx", 2, 2)
	if err != nil {
		t.Fatalf("ListVideos() error = %v", err)
	}
	if len(page.Videos) != 1 || page.Videos[0].ID != "c" {
		t.Errorf("page 2 = %+v, want [c]", page.Videos)
	}
	if page.TotalPages != 2 || page.TotalResults != 3 {
		t.Errorf("page info = %+v", page)
	}

	if err := stub.UpdateMetadata(ctx, "a", "idx", catalog.Metadata{Sector: "tech"}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	page, _ = stub.ListVideos(ctx, "idx", 1, 2)
	if catalog.BagString(page.Videos[0].Metadata, catalog.FieldSector) != "tech" {
		t.Errorf("metadata not stored: %+v", page.Videos[0].Metadata)
	}

	empty, _ := stub.ListVideos(ctx, "idx", 5, 2)
	if len(empty.Videos) != 0 {
		t.Errorf("page 5 = %+v, want empty", empty.Videos)
	}
}

type countingStatus struct {
	calls  atomic.Int32
	status string
	err    error
}

func (c *countingStatus) VideoStatus(ctx context.Context, indexID, videoID string) (string, error) {
	c.calls.Add(1)
	return c.status, c.err
}

func TestCachedStatus_CachesWithinTTL(t *testing.T) {
	source := &countingStatus{status: "ready"}
	cache := NewCachedStatus(source, time.Minute, testLogger())
	now := time.Now()
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		status, err := cache.VideoStatus(context.Background(), "idx", "vid-1")
		if err != nil || status != "ready" {
			t.Fatalf("VideoStatus() = (%q, %v)", status, err)
		}
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("source calls = %d, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	cache.VideoStatus(context.Background(), "idx", "vid-1")
	if got := source.calls.Load(); got != 2 {
		t.Errorf("source calls after expiry = %d, want 2", got)
	}

	cache.Invalidate("idx", "vid-1")
	cache.VideoStatus(context.Background(), "idx", "vid-1")
	if got := source.calls.Load(); got != 3 {
		t.Errorf("source calls after invalidate = %d, want 3", got)
	}
}

func TestCachedStatus_StaleOnError(t *testing.T) {
	source := &countingStatus{status: "indexing"}
	cache := NewCachedStatus(source, time.Second, testLogger())
	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.VideoStatus(context.Background(), "idx", "vid-1"); err != nil {
		t.Fatalf("first lookup error = %v", err)
	}

	source.err = errors.New("vendor down")
	now = now.Add(time.Hour)

	status, err := cache.VideoStatus(context.Background(), "idx", "vid-1")
	if err != nil {
		t.Fatalf("expected stale value, got error %v", err)
	}
	if status != "indexing" {
		t.Errorf("status = %q, want stale indexing", status)
	}

	if _, err := cache.VideoStatus(context.Background(), "idx", "vid-2"); err == nil {
		t.Error("expected error when nothing is cached")
	}
}
