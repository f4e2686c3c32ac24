package enrich

import (
	"context"
	"log/slog"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/cloud"
	"github.com/heimdex/heimdex-tagger/internal/logging"
)

// MirrorStore writes metadata to a primary store and then copies it to a
// local mirror. Only the primary decides success; mirror failures are
// logged and ignored.
type MirrorStore struct {
	primary cloud.MetadataStore
	mirror  cloud.MetadataStore
	logger  *slog.Logger
}

var _ cloud.MetadataStore = (*MirrorStore)(nil)

func NewMirrorStore(primary, mirror cloud.MetadataStore, logger *slog.Logger) *MirrorStore {
	return &MirrorStore{
		primary: primary,
		mirror:  mirror,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "mirror"),
	}
}

func (m *MirrorStore) UpdateMetadata(ctx context.Context, videoID, indexID string, md catalog.Metadata) error {
	if err := m.primary.UpdateMetadata(ctx, videoID, indexID, md); err != nil {
		return err
	}
	if m.mirror == nil {
		return nil
	}
	if err := m.mirror.UpdateMetadata(context.WithoutCancel(ctx), videoID, indexID, md); err != nil {
		m.logger.Warn("failed to mirror metadata", "video_id", videoID, "error", err)
	}
	return nil
}
