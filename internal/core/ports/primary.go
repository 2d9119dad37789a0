package ports

import (
	"context"

	"github.com/NoahRocket/X/internal/core/domain"
)

// FeedSession is one viewer's live, mutable view of the shared feed.
type FeedSession interface {
	Load(ctx context.Context) error
	View() []domain.Post
	SetSort(mode domain.SortMode)
	Sort() domain.SortMode
	ToggleTag(tag string)
	ActiveTag() string
	SubmitQuestion(ctx context.Context, question string) (domain.Post, error)
	ToggleLike(ctx context.Context, postID string) error
	ApplyInsert(post domain.Post)
	Remaining(ctx context.Context) (int, error)
	Events() <-chan domain.FeedEvent
}

// Distributor fans a freshly created post into every live session.
// Implemented by the session registry, driven by the insert stream adapter.
type Distributor interface {
	Broadcast(post domain.Post)
}
