package catalog

import "sync"

// Collection is the live display collection. All writes go through its
// mutex, so results arriving from concurrent enrichment calls cannot
// overwrite each other.
type Collection struct {
	mu      sync.RWMutex
	items   []DisplayItem
	index   map[string]int
	records map[string]VideoRecord
	order   []string
}

func NewCollection() *Collection {
	return &Collection{
		index:   make(map[string]int),
		records: make(map[string]VideoRecord),
	}
}

// Merge folds a listing page into the collection and returns a copy of the
// resulting items.
func (c *Collection) Merge(page []VideoRecord) []DisplayItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = Merge(c.items, page)
	c.index = make(map[string]int, len(c.items))
	for i, item := range c.items {
		c.index[item.ID] = i
	}

	c.records = make(map[string]VideoRecord, len(page))
	c.order = c.order[:0]
	for _, rec := range page {
		if _, dup := c.records[rec.ID]; dup {
			continue
		}
		c.records[rec.ID] = rec
		c.order = append(c.order, rec.ID)
	}

	return c.copyItems()
}

// Apply stores enrichment results for id. It returns false when the id is no
// longer part of the loaded page, in which case nothing is kept.
func (c *Collection) Apply(id string, md Metadata) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[id]
	if !ok {
		return false
	}
	stored := md
	c.items[i].Metadata = &stored
	c.items[i].Tags = md.Tags()
	return true
}

// Items returns a copy of the current display items.
func (c *Collection) Items() []DisplayItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyItems()
}

// Get returns a copy of the item with the given id.
func (c *Collection) Get(id string) (DisplayItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[id]
	if !ok {
		return DisplayItem{}, false
	}
	return c.items[i].clone(), true
}

// Records returns the records of the last merged page, in page order.
func (c *Collection) Records() []VideoRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]VideoRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	return out
}

// Len returns the number of loaded items.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Collection) copyItems() []DisplayItem {
	out := make([]DisplayItem, len(c.items))
	for i, item := range c.items {
		out[i] = item.clone()
	}
	return out
}
