package catalog

import (
	"reflect"
	"sync"
	"testing"
)

func TestMerge_FreshPage(t *testing.T) {
	page := []VideoRecord{
		{ID: "a", Title: "A", ThumbnailURL: "thumb-a"},
		{ID: "b", Title: "B", Metadata: map[string]any{"sector": "tech", "brands": "nike"}},
	}

	got := Merge(nil, page)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].IsEnriched() {
		t.Errorf("item a = %+v, want unenriched", got[0])
	}
	if got[0].Tags != nil {
		t.Errorf("item a tags = %v, want nil", got[0].Tags)
	}
	if got[1].Metadata == nil || got[1].Metadata.Sector != "tech" {
		t.Fatalf("item b metadata = %+v, want sector tech from bag", got[1].Metadata)
	}
	if !reflect.DeepEqual(got[1].Tags, []string{"tech", "nike"}) {
		t.Errorf("item b tags = %v, want [tech nike]", got[1].Tags)
	}
}

func TestMerge_KeepsEnrichmentRefreshesPassiveFields(t *testing.T) {
	md := Metadata{Sector: "tech", Locations: "newyork"}
	existing := []DisplayItem{
		{ID: "a", Title: "old", ThumbnailURL: "old-thumb", Metadata: &md, Tags: md.Tags()},
	}
	page := []VideoRecord{
		{ID: "a", Title: "new", ThumbnailURL: "new-thumb", MediaURL: "new.m3u8"},
	}

	got := Merge(existing, page)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	item := got[0]
	if item.Metadata == nil || *item.Metadata != md {
		t.Errorf("metadata = %+v, want %+v", item.Metadata, md)
	}
	if item.Title != "new" || item.ThumbnailURL != "new-thumb" || item.MediaURL != "new.m3u8" {
		t.Errorf("passive fields not refreshed: %+v", item)
	}
}

func TestMerge_TagsOnlyCountAsEnrichment(t *testing.T) {
	existing := []DisplayItem{{ID: "a", Tags: []string{"summer"}}}
	got := Merge(existing, []VideoRecord{{ID: "a"}})
	if !reflect.DeepEqual(got[0].Tags, []string{"summer"}) {
		t.Errorf("tags = %v, want [summer]", got[0].Tags)
	}
}

func TestMerge_UnenrichedExistingIsRebuilt(t *testing.T) {
	existing := []DisplayItem{{ID: "a", Title: "old"}}
	page := []VideoRecord{{ID: "a", Title: "new", Metadata: map[string]any{"emotions": "happy"}}}

	got := Merge(existing, page)
	if got[0].Metadata == nil || got[0].Metadata.Emotions != "happy" {
		t.Errorf("metadata = %+v, want emotions from incoming bag", got[0].Metadata)
	}
}

func TestMerge_PageIsAuthoritative(t *testing.T) {
	md := Metadata{Brands: "nike"}
	existing := []DisplayItem{
		{ID: "gone", Metadata: &md, Tags: md.Tags()},
		{ID: "kept"},
	}
	got := Merge(existing, []VideoRecord{{ID: "kept"}, {ID: "new"}})

	if len(got) != 2 || got[0].ID != "kept" || got[1].ID != "new" {
		t.Fatalf("ids = %v, want [kept new]", ids(got))
	}
}

func TestMerge_Idempotent(t *testing.T) {
	md := Metadata{Sector: "beauty"}
	existing := []DisplayItem{{ID: "a", Metadata: &md, Tags: md.Tags()}}
	page := []VideoRecord{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}

	once := Merge(existing, page)
	twice := Merge(once, page)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent:\n once = %+v\ntwice = %+v", once, twice)
	}
}

func TestMerge_OverlappingPagesNeverDropEnrichment(t *testing.T) {
	md := Metadata{Demographics: "male", Sector: "tech"}
	existing := Merge(nil, []VideoRecord{{ID: "a"}, {ID: "b"}})
	existing[1].Metadata = &md
	existing[1].Tags = md.Tags()

	got := Merge(existing, []VideoRecord{{ID: "b"}, {ID: "c"}})
	if got[0].ID != "b" || got[0].Metadata == nil || *got[0].Metadata != md {
		t.Errorf("enriched item b replaced: %+v", got[0])
	}
}

func TestMerge_DuplicateIDsInPage(t *testing.T) {
	got := Merge(nil, []VideoRecord{{ID: "a", Title: "first"}, {ID: "a", Title: "second"}})
	if len(got) != 1 || got[0].Title != "first" {
		t.Errorf("got %+v, want single item titled first", got)
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	md := Metadata{Brands: "adidas"}
	existing := []DisplayItem{{ID: "a", Metadata: &md, Tags: []string{"adidas"}}}

	got := Merge(existing, []VideoRecord{{ID: "a"}})
	got[0].Tags[0] = "mutated"
	got[0].Metadata.Brands = "mutated"

	if existing[0].Tags[0] != "adidas" || md.Brands != "adidas" {
		t.Error("merge result shares memory with existing items")
	}
}

func TestCollection_ApplyAndRemoval(t *testing.T) {
	c := NewCollection()
	c.Merge([]VideoRecord{{ID: "a"}, {ID: "b"}})

	if !c.Apply("a", Metadata{Sector: "tech"}) {
		t.Fatal("Apply(a) = false, want true")
	}
	item, ok := c.Get("a")
	if !ok || item.Metadata == nil || item.Metadata.Sector != "tech" {
		t.Fatalf("item a = %+v, want sector tech", item)
	}
	if !reflect.DeepEqual(item.Tags, []string{"tech"}) {
		t.Errorf("tags = %v, want [tech]", item.Tags)
	}

	c.Merge([]VideoRecord{{ID: "a"}, {ID: "c"}})
	if item, _ := c.Get("a"); item.Metadata == nil {
		t.Error("enrichment for a lost on refresh")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b retained after leaving the page")
	}
	if c.Apply("b", Metadata{Sector: "x"}) {
		t.Error("Apply(b) = true for an id outside the page")
	}

	recs := c.Records()
	if len(recs) != 2 || recs[0].ID != "a" || recs[1].ID != "c" {
		t.Errorf("records = %+v, want [a c]", recs)
	}
}

func TestCollection_ConcurrentApply(t *testing.T) {
	c := NewCollection()
	page := make([]VideoRecord, 50)
	for i := range page {
		page[i] = VideoRecord{ID: string(rune('A' + i))}
	}
	c.Merge(page)

	var wg sync.WaitGroup
	for _, rec := range page {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			c.Apply(id, Metadata{Brands: id})
		}(rec.ID)
	}
	wg.Wait()

	for _, item := range c.Items() {
		if item.Metadata == nil || item.Metadata.Brands != item.ID {
			t.Errorf("item %s lost its update: %+v", item.ID, item.Metadata)
		}
	}
}

func TestBagString(t *testing.T) {
	bag := map[string]any{
		"s":     "  tech ",
		"list":  []any{"nike", "", nil, "adidas"},
		"slice": []string{"a", " ", "b"},
		"num":   42,
		"nil":   nil,
	}
	tests := map[string]string{
		"s":       "tech",
		"list":    "nike, adidas",
		"slice":   "a, b",
		"num":     "42",
		"nil":     "",
		"missing": "",
	}
	for key, want := range tests {
		if got := BagString(bag, key); got != want {
			t.Errorf("BagString(%q) = %q, want %q", key, got, want)
		}
	}
	if got := BagString(nil, "s"); got != "" {
		t.Errorf("BagString(nil) = %q, want empty", got)
	}
}

func ids(items []DisplayItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
