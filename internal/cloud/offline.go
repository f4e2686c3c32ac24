package cloud

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
)

// OfflineVideo is one entry of an offline catalog file. Tags is the raw
// hashtag text the stub returns from Generate.
type OfflineVideo struct {
	ID           string         `yaml:"id"`
	Title        string         `yaml:"title"`
	ThumbnailURL string         `yaml:"thumbnail_url"`
	MediaURL     string         `yaml:"media_url"`
	Status       string         `yaml:"status"`
	Metadata     map[string]any `yaml:"metadata"`
	Tags         string         `yaml:"tags"`
}

func (v OfflineVideo) record() catalog.VideoRecord {
	return catalog.VideoRecord{
		ID:           v.ID,
		Title:        v.Title,
		ThumbnailURL: v.ThumbnailURL,
		MediaURL:     v.MediaURL,
		Metadata:     v.Metadata,
		Status:       v.Status,
	}
}

type offlineCatalogFile struct {
	Videos []OfflineVideo `yaml:"videos"`
}

// ParseOfflineCatalog decodes a YAML document of the form
//
//	videos:
//	  - id: demo-1
//	    title: Morning run
//	    tags: "#fitness #happy #seoul"
func ParseOfflineCatalog(data []byte) ([]OfflineVideo, error) {
	var f offlineCatalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse offline catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Videos))
	for i, v := range f.Videos {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return nil, fmt.Errorf("offline catalog entry %d: missing id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("offline catalog entry %d: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		f.Videos[i].ID = id
	}
	return f.Videos, nil
}

// LoadOfflineCatalog reads an offline catalog file.
func LoadOfflineCatalog(path string) ([]OfflineVideo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read offline catalog: %w", err)
	}
	return ParseOfflineCatalog(data)
}
