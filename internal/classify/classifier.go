// Package classify turns generated hashtag text into categorized metadata.
package classify

import (
	"strings"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
)

// Classifier assigns hashtags to categories using a keyword dictionary.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	dict *Dictionary
}

// New returns a classifier over dict. A nil dictionary matches nothing, so
// every token goes through the fallback allocation.
func New(dict *Dictionary) *Classifier {
	return &Classifier{dict: dict}
}

// Dictionary returns the keyword dictionary in use.
func (c *Classifier) Dictionary() *Dictionary {
	return c.dict
}

// Hashtags extracts lowercase hashtag tokens from raw text, without the
// leading '#', in encounter order. Bare '#' tokens are dropped.
func Hashtags(raw string) []string {
	raw = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(raw)

	var tags []string
	for _, field := range strings.Fields(raw) {
		if !strings.HasPrefix(field, "#") {
			continue
		}
		tok := strings.ToLower(field[1:])
		if tok == "" {
			continue
		}
		tags = append(tags, tok)
	}
	return tags
}

// Classify maps raw hashtag text to categorized metadata.
//
// Each token goes to the first matching set in Priority order. Unmatched
// tokens are pooled; if no location was found the first pooled token becomes
// the location, then if no brand was found the next pooled token becomes the
// brand. Repeated tokens are kept as-is.
func (c *Classifier) Classify(raw string) catalog.Metadata {
	var (
		buckets      [5][]string
		unclassified []string
	)

	for _, tok := range Hashtags(raw) {
		if cat, ok := c.dict.Lookup(tok); ok {
			buckets[cat] = append(buckets[cat], tok)
			continue
		}
		unclassified = append(unclassified, tok)
	}

	if len(buckets[Locations]) == 0 && len(unclassified) > 0 {
		buckets[Locations] = append(buckets[Locations], unclassified[0])
		unclassified = unclassified[1:]
	}
	if len(buckets[Brands]) == 0 && len(unclassified) > 0 {
		buckets[Brands] = append(buckets[Brands], unclassified[0])
	}

	return catalog.Metadata{
		Demographics: strings.Join(buckets[Demographics], catalog.TagSeparator),
		Sector:       strings.Join(buckets[Sector], catalog.TagSeparator),
		Emotions:     strings.Join(buckets[Emotions], catalog.TagSeparator),
		Locations:    strings.Join(buckets[Locations], catalog.TagSeparator),
		Brands:       strings.Join(buckets[Brands], catalog.TagSeparator),
	}
}
