package ports

import (
	"context"

	"github.com/NoahRocket/X/internal/core/domain"
)

// --- DRIVEN (what the core needs) ---

type PostStore interface {
	// ListPosts returns every post, newest first, with author name and
	// aggregate like count joined in.
	ListPosts(ctx context.Context) ([]domain.Post, error)

	// ListLikedPostIDs returns the ids of posts this user has liked.
	ListLikedPostIDs(ctx context.Context, userID string) (map[string]struct{}, error)

	// CreatePost persists the post atomically and returns it with the
	// store-assigned id, timestamp and author name filled in.
	CreatePost(ctx context.Context, authorID, question, response string, tags []string) (domain.Post, error)

	// GetPost refetches a single post with the viewer's like state resolved.
	GetPost(ctx context.Context, postID, viewerID string) (domain.Post, error)

	// AddLike / RemoveLike fail with domain.ErrLikeConflict when the like
	// already exists, respectively is already gone.
	AddLike(ctx context.Context, postID, userID string) error
	RemoveLike(ctx context.Context, postID, userID string) error
}

type QuotaStore interface {
	GetQuota(ctx context.Context, userID string) (domain.Quota, error)

	// ResetQuota zeroes the stored counter. Best-effort: callers treat a
	// failure as advisory only.
	ResetQuota(ctx context.Context, userID string) error

	// IncrementQuota bumps today's counter server-side (a single atomic
	// UPDATE, never read-modify-write) and returns the new count.
	IncrementQuota(ctx context.Context, userID string) (int, error)
}

// Responder generates the answer and tags for a question.
type Responder interface {
	Respond(ctx context.Context, question string) (domain.Answer, error)
}

type EventPublisher interface {
	PublishPostCreated(ctx context.Context, post domain.Post) error
}

// InsertStream delivers posts created by any instance, including this one.
// The returned func tears the subscription down.
type InsertStream interface {
	SubscribeInserts(handler func(post domain.Post)) (unsubscribe func(), err error)
}
