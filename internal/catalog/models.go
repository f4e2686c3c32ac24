package catalog

import (
	"fmt"
	"strings"
	"time"
)

// StatusReady is the only ingestion status that allows enrichment.
const StatusReady = "ready"

// Category field names, as stored in the vendor metadata bag.
const (
	FieldSource       = "source"
	FieldSector       = "sector"
	FieldEmotions     = "emotions"
	FieldBrands       = "brands"
	FieldLocations    = "locations"
	FieldDemographics = "demographics"
)

// CategoryFields lists every category in display order.
var CategoryFields = []string{
	FieldSource,
	FieldSector,
	FieldEmotions,
	FieldBrands,
	FieldLocations,
	FieldDemographics,
}

// TagSeparator joins several tokens of one category.
const TagSeparator = ", "

// Metadata is the categorized metadata record attached to a video.
// Absent categories are empty strings and are always serialized.
type Metadata struct {
	Source       string `json:"source"`
	Sector       string `json:"sector"`
	Emotions     string `json:"emotions"`
	Brands       string `json:"brands"`
	Locations    string `json:"locations"`
	Demographics string `json:"demographics"`
}

// Get returns the value of a category by field name.
func (m Metadata) Get(field string) string {
	switch field {
	case FieldSource:
		return m.Source
	case FieldSector:
		return m.Sector
	case FieldEmotions:
		return m.Emotions
	case FieldBrands:
		return m.Brands
	case FieldLocations:
		return m.Locations
	case FieldDemographics:
		return m.Demographics
	}
	return ""
}

// IsEmpty reports whether every category is blank.
func (m Metadata) IsEmpty() bool {
	for _, f := range CategoryFields {
		if strings.TrimSpace(m.Get(f)) != "" {
			return false
		}
	}
	return true
}

// Map returns the record keyed by field name.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(CategoryFields))
	for _, f := range CategoryFields {
		out[f] = m.Get(f)
	}
	return out
}

// Tags flattens the non-empty categories into display tags, in category order.
func (m Metadata) Tags() []string {
	var tags []string
	for _, f := range CategoryFields {
		for _, tok := range strings.Split(m.Get(f), TagSeparator) {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tags = append(tags, tok)
			}
		}
	}
	return tags
}

// MetadataFromBag projects the categories present in a raw vendor bag.
func MetadataFromBag(bag map[string]any) Metadata {
	return Metadata{
		Source:       BagString(bag, FieldSource),
		Sector:       BagString(bag, FieldSector),
		Emotions:     BagString(bag, FieldEmotions),
		Brands:       BagString(bag, FieldBrands),
		Locations:    BagString(bag, FieldLocations),
		Demographics: BagString(bag, FieldDemographics),
	}
}

// BagString renders one bag value as text. Missing keys, nil values and
// blank strings yield "". Lists are joined with TagSeparator.
func BagString(bag map[string]any, key string) string {
	if bag == nil {
		return ""
	}
	v, ok := bag[key]
	if !ok || v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []string:
		return joinNonEmpty(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			parts = append(parts, fmt.Sprint(item))
		}
		return joinNonEmpty(parts)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, TagSeparator)
}

// VideoRecord is one entry of a listing page from the vendor.
type VideoRecord struct {
	ID           string         `json:"id"`
	Title        string         `json:"title,omitempty"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	MediaURL     string         `json:"media_url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	// Status is the ingestion status; empty when unknown.
	Status string `json:"status,omitempty"`
}

// DisplayItem is a VideoRecord projected for presentation.
type DisplayItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	MediaURL     string    `json:"media_url,omitempty"`
	Status       string    `json:"status,omitempty"`
	Tags         []string  `json:"tags"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// IsEnriched reports whether the item carries metadata or tags that a merge
// must not discard.
func (d DisplayItem) IsEnriched() bool {
	if d.Metadata != nil && !d.Metadata.IsEmpty() {
		return true
	}
	return len(d.Tags) > 0
}

func (d DisplayItem) clone() DisplayItem {
	out := d
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	if d.Metadata != nil {
		md := *d.Metadata
		out.Metadata = &md
	}
	return out
}

// Attempt outcomes recorded in the enrichment ledger.
const (
	OutcomeInFlight    = "in_flight"
	OutcomeDone        = "done"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeInterrupted = "interrupted"
)

// Attempt is one ledger row describing a per-video enrichment step.
type Attempt struct {
	ID        int64     `json:"id"`
	VideoID   string    `json:"video_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredMetadata is a mirrored metadata record.
type StoredMetadata struct {
	VideoID   string    `json:"video_id"`
	IndexID   string    `json:"index_id"`
	Metadata  Metadata  `json:"metadata"`
	UpdatedAt time.Time `json:"updated_at"`
}
