package enrich

import "github.com/heimdex/heimdex-tagger/internal/catalog"

// Verdict is the eligibility decision for one listing record.
type Verdict int

const (
	// NeedsWork means the video should be enriched.
	NeedsWork Verdict = iota
	// AlreadyEnriched means the video carries metadata in a checked field.
	AlreadyEnriched
	// NotReady means the vendor has not finished ingesting the video.
	NotReady
)

func (v Verdict) String() string {
	switch v {
	case NeedsWork:
		return "needs_work"
	case AlreadyEnriched:
		return "already_enriched"
	case NotReady:
		return "not_ready"
	}
	return "unknown"
}

// Eligibility decides which listing records need enrichment.
type Eligibility struct {
	// Fields is the completeness subset. A record needs work when every
	// field in it is empty or absent.
	Fields []string
	// RequireReady excludes videos whose known status is not ready.
	// An unknown (empty) status passes.
	RequireReady bool
}

// Check classifies a record.
func (e Eligibility) Check(v catalog.VideoRecord) Verdict {
	if e.RequireReady && v.Status != "" && v.Status != catalog.StatusReady {
		return NotReady
	}
	if len(v.Metadata) == 0 {
		return NeedsWork
	}
	for _, f := range e.Fields {
		if catalog.BagString(v.Metadata, f) != "" {
			return AlreadyEnriched
		}
	}
	return NeedsWork
}

// NeedsEnrichment reports whether a record should be sent to the vendor.
func (e Eligibility) NeedsEnrichment(v catalog.VideoRecord) bool {
	return e.Check(v) == NeedsWork
}
