package catalog

// NewDisplayItem builds an item from a record. Categories already present in
// the vendor bag are projected so that previously persisted metadata shows up.
func NewDisplayItem(rec VideoRecord) DisplayItem {
	item := DisplayItem{
		ID:           rec.ID,
		Title:        rec.Title,
		ThumbnailURL: rec.ThumbnailURL,
		MediaURL:     rec.MediaURL,
		Status:       rec.Status,
	}

	md := MetadataFromBag(rec.Metadata)
	if !md.IsEmpty() {
		item.Metadata = &md
		item.Tags = md.Tags()
	}
	return item
}

// Merge combines the current display items with a freshly loaded page.
//
// The page is authoritative: the result holds exactly the page's ids, in page
// order. An existing item that already carries metadata or tags keeps them and
// only has its passive fields refreshed. Everything else is rebuilt from the
// incoming record.
func Merge(existing []DisplayItem, page []VideoRecord) []DisplayItem {
	byID := make(map[string]DisplayItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}

	out := make([]DisplayItem, 0, len(page))
	seen := make(map[string]struct{}, len(page))
	for _, rec := range page {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}

		prev, ok := byID[rec.ID]
		if ok && prev.IsEnriched() {
			out = append(out, refreshPassive(prev, rec))
			continue
		}
		out = append(out, NewDisplayItem(rec))
	}
	return out
}

func refreshPassive(prev DisplayItem, rec VideoRecord) DisplayItem {
	item := prev.clone()
	item.Title = rec.Title
	item.ThumbnailURL = rec.ThumbnailURL
	item.MediaURL = rec.MediaURL
	item.Status = rec.Status
	return item
}
