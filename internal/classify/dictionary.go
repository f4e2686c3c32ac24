package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category names a keyword set of the dictionary.
type Category int

// Categories in match priority order. A token present in several sets is
// assigned to the earliest one.
const (
	Demographics Category = iota
	Sector
	Emotions
	Locations
	Brands
)

// Priority is the fixed order in which keyword sets are tested.
var Priority = []Category{Demographics, Sector, Emotions, Locations, Brands}

func (c Category) String() string {
	switch c {
	case Demographics:
		return "demographics"
	case Sector:
		return "sector"
	case Emotions:
		return "emotions"
	case Locations:
		return "locations"
	case Brands:
		return "brands"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// DictionaryFile is the YAML layout of a keyword dictionary.
type DictionaryFile struct {
	Demographics []string `yaml:"demographics"`
	Sector       []string `yaml:"sector"`
	Emotions     []string `yaml:"emotions"`
	Locations    []string `yaml:"locations"`
	Brands       []string `yaml:"brands"`
}

// Dictionary holds one lowercase keyword set per category.
type Dictionary struct {
	sets [5]map[string]struct{}
}

// NewDictionary builds a dictionary from keyword lists. Keywords are trimmed,
// lowercased and stripped of a leading '#'.
func NewDictionary(f DictionaryFile) *Dictionary {
	d := &Dictionary{}
	d.sets[Demographics] = keywordSet(f.Demographics)
	d.sets[Sector] = keywordSet(f.Sector)
	d.sets[Emotions] = keywordSet(f.Emotions)
	d.sets[Locations] = keywordSet(f.Locations)
	d.sets[Brands] = keywordSet(f.Brands)
	return d
}

func keywordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(w), "#"))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Lookup returns the first category, in priority order, whose set holds token.
func (d *Dictionary) Lookup(token string) (Category, bool) {
	if d == nil {
		return 0, false
	}
	for _, c := range Priority {
		if d.Contains(c, token) {
			return c, true
		}
	}
	return 0, false
}

// Contains reports whether the set of category c holds token.
func (d *Dictionary) Contains(c Category, token string) bool {
	if d == nil || c < Demographics || c > Brands {
		return false
	}
	_, ok := d.sets[c][token]
	return ok
}

// Size returns the number of keywords in category c.
func (d *Dictionary) Size(c Category) int {
	if d == nil || c < Demographics || c > Brands {
		return 0
	}
	return len(d.sets[c])
}

// Overlaps lists keywords that appear in more than one set. Sets are meant
// to be disjoint; overlaps are resolved by Priority but worth a warning.
func (d *Dictionary) Overlaps() []string {
	if d == nil {
		return nil
	}
	var out []string
	for i, c := range Priority {
		for word := range d.sets[c] {
			for _, later := range Priority[i+1:] {
				if _, ok := d.sets[later][word]; ok {
					out = append(out, fmt.Sprintf("%s (%s, %s)", word, c, later))
				}
			}
		}
	}
	return out
}

// ParseDictionary decodes a YAML dictionary document.
func ParseDictionary(data []byte) (*Dictionary, error) {
	var f DictionaryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}
	return NewDictionary(f), nil
}

// LoadDictionary reads a YAML dictionary from path.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return ParseDictionary(data)
}

// DefaultDictionary returns the built-in keyword sets.
func DefaultDictionary() *Dictionary {
	return NewDictionary(DefaultDictionaryFile())
}

// DefaultDictionaryFile returns the built-in keyword lists.
func DefaultDictionaryFile() DictionaryFile {
	return DictionaryFile{
		Demographics: []string{
			"male", "female", "men", "women", "kids", "children", "teens", "teenagers",
			"youngadults", "adults", "seniors", "parents", "family", "students",
			"millennials", "genz", "age18to24", "age25to34", "age35to44", "age45to54",
			"age55plus",
		},
		Sector: []string{
			"tech", "technology", "beauty", "cosmetics", "fashion", "apparel", "food",
			"beverage", "automotive", "sports", "fitness", "travel", "finance", "gaming",
			"entertainment", "education", "healthcare", "retail", "music", "lifestyle",
			"homedecor", "electronics", "luxury",
		},
		Emotions: []string{
			"happy", "joyful", "exciting", "excited", "inspiring", "inspirational",
			"funny", "humorous", "emotional", "calm", "relaxing", "energetic",
			"nostalgic", "romantic", "dramatic", "sad", "uplifting", "motivational",
			"adventurous", "confident", "playful", "peaceful", "suspenseful",
		},
		Locations: []string{
			"newyork", "losangeles", "sanfrancisco", "chicago", "miami", "london",
			"paris", "tokyo", "seoul", "berlin", "sydney", "usa", "korea", "japan",
			"europe", "beach", "city", "urban", "outdoor", "outdoors", "indoor",
			"studio", "mountain", "kitchen", "gym", "stadium", "office",
		},
		Brands: []string{
			"nike", "adidas", "puma", "apple", "samsung", "google", "microsoft",
			"amazon", "sony", "cocacola", "pepsi", "starbucks", "mcdonalds", "redbull",
			"toyota", "bmw", "tesla", "gucci", "chanel", "loreal", "sephora",
			"underarmour", "lululemon", "netflix",
		},
	}
}
