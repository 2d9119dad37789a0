package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/NoahRocket/X/internal/core/domain"
	"github.com/NoahRocket/X/internal/core/ports"
)

// InsertHandler receives posts from the realtime stream and fans them into
// the live sessions. The feed cache is invalidated first so a refetch after
// the push sees the new post even when another instance wrote it.
type InsertHandler struct {
	distributor ports.Distributor
	invalidate  func(ctx context.Context)
}

func NewInsertHandler(distributor ports.Distributor, invalidate func(ctx context.Context)) *InsertHandler {
	return &InsertHandler{distributor: distributor, invalidate: invalidate}
}

func (h *InsertHandler) OnPostCreated(post domain.Post) {
	slog.Debug("realtime insert received", "post_id", post.ID)

	if h.invalidate != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		h.invalidate(ctx)
		cancel()
	}

	h.distributor.Broadcast(post)
}
