package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/NoahRocket/X/internal/core/domain"
	"github.com/NoahRocket/X/internal/core/ports"
)

var _ ports.FeedSession = (*Session)(nil)

// feedEntry is one post as this viewer currently sees it. seq increases on
// every like toggle so a completion arriving late cannot clobber a newer
// optimistic state.
type feedEntry struct {
	post domain.Post
	seq  uint64
}

// Session is one viewer's live view of the shared feed: the loaded posts,
// the active sort and tag filter, and any optimistic like state not yet
// confirmed by the store. It is a cache, always subordinate to store truth.
type Session struct {
	viewerID  string
	store     ports.PostStore
	tracker   *RateTracker
	responder ports.Responder
	publisher ports.EventPublisher

	mu         sync.Mutex
	entries    map[string]*feedEntry
	order      []string // post ids, newest first
	sortMode   domain.SortMode
	tag        string
	loaded     bool
	remaining  int
	quotaKnown bool

	events chan domain.FeedEvent
}

func NewSession(viewerID string, store ports.PostStore, tracker *RateTracker, responder ports.Responder, publisher ports.EventPublisher) *Session {
	return &Session{
		viewerID:  viewerID,
		store:     store,
		tracker:   tracker,
		responder: responder,
		publisher: publisher,
		entries:   make(map[string]*feedEntry),
		sortMode:  domain.SortNewest,
		events:    make(chan domain.FeedEvent, 32),
	}
}

// Events delivers view-change notifications (new post, like count change,
// quota refresh) to whoever is pushing this session to a client.
func (s *Session) Events() <-chan domain.FeedEvent {
	return s.events
}

// Load fetches the full post list and the viewer's liked-id set and replaces
// the local view with them. Like state is not authoritative until both reads
// have completed.
func (s *Session) Load(ctx context.Context) error {
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}

	liked := map[string]struct{}{}
	if s.viewerID != "" {
		liked, err = s.store.ListLikedPostIDs(ctx, s.viewerID)
		if err != nil {
			return fmt.Errorf("load liked posts: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*feedEntry, len(posts))
	s.order = s.order[:0]
	for _, p := range posts {
		_, p.ViewerHasLiked = liked[p.ID]
		s.entries[p.ID] = &feedEntry{post: p}
		s.order = append(s.order, p.ID)
	}
	s.loaded = true
	return nil
}

// ApplyInsert merges a post pushed by the realtime stream into the view.
// Posts this session already holds (its own optimistic insert, or a
// duplicate delivery) are dropped by id.
func (s *Session) ApplyInsert(post domain.Post) {
	s.mu.Lock()
	if _, dup := s.entries[post.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.entries[post.ID] = &feedEntry{post: post}
	s.order = append([]string{post.ID}, s.order...)
	s.mu.Unlock()

	s.emit(domain.FeedEvent{Type: domain.EventPostAdded, Post: &post})
}

func (s *Session) SetSort(mode domain.SortMode) {
	if mode != domain.SortNewest && mode != domain.SortBest {
		return
	}
	s.mu.Lock()
	s.sortMode = mode
	s.mu.Unlock()
}

// ToggleTag activates the tag filter, or clears it when the given tag is
// already active. Matching is exact and case-sensitive.
func (s *Session) ToggleTag(tag string) {
	s.mu.Lock()
	if s.tag == tag {
		s.tag = ""
	} else {
		s.tag = tag
	}
	s.mu.Unlock()
}

func (s *Session) Sort() domain.SortMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortMode
}

func (s *Session) ActiveTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag
}

// View returns the projected feed: tag-filtered, then sorted. Projection
// never mutates the underlying entries.
func (s *Session) View() []domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Post, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		if s.tag != "" && !slices.Contains(e.post.Tags, s.tag) {
			continue
		}
		out = append(out, e.post)
	}

	switch s.sortMode {
	case domain.SortBest:
		// Strict total order: likes desc, then created_at desc, then id.
		slices.SortStableFunc(out, func(a, b domain.Post) int {
			if a.LikeCount != b.LikeCount {
				return b.LikeCount - a.LikeCount
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				if a.CreatedAt.After(b.CreatedAt) {
					return -1
				}
				return 1
			}
			return strings.Compare(a.ID, b.ID)
		})
	default:
		slices.SortStableFunc(out, func(a, b domain.Post) int {
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			if a.CreatedAt.Before(b.CreatedAt) {
				return 1
			}
			return 0
		})
	}
	return out
}

// Remaining reports the viewer's quota and caches it so SubmitQuestion can
// fail fast without a store read.
func (s *Session) Remaining(ctx context.Context) (int, error) {
	if s.viewerID == "" {
		return 0, nil
	}
	n, err := s.tracker.Remaining(ctx, s.viewerID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.remaining = n
	s.quotaKnown = true
	s.mu.Unlock()
	return n, nil
}

// SubmitQuestion runs the full pipeline: validate, quota fast-fail, generate
// the answer, persist, then prepend to the view. On any failure the view is
// left untouched; the post is only ever shown once the store has confirmed
// its id.
func (s *Session) SubmitQuestion(ctx context.Context, question string) (domain.Post, error) {
	text := strings.TrimSpace(question)
	if text == "" {
		return domain.Post{}, domain.ErrEmptyQuestion
	}
	if utf8.RuneCountInString(text) > domain.MaxQuestionLen {
		return domain.Post{}, domain.ErrQuestionTooLong
	}
	if s.viewerID == "" {
		return domain.Post{}, domain.ErrUserNotFound
	}

	s.mu.Lock()
	exhausted := s.quotaKnown && s.remaining <= 0
	s.mu.Unlock()
	if exhausted {
		return domain.Post{}, domain.ErrQuotaExceeded
	}

	answer, err := s.responder.Respond(ctx, text)
	if err != nil {
		return domain.Post{}, err
	}

	post, err := s.store.CreatePost(ctx, s.viewerID, text, answer.Text, answer.Tags)
	if err != nil {
		return domain.Post{}, fmt.Errorf("create post: %w", err)
	}

	// The store has confirmed the id; now the post may enter the view.
	// ApplyInsert also dedups against the realtime push for our own post.
	s.ApplyInsert(post)

	if perr := s.publisher.PublishPostCreated(ctx, post); perr != nil {
		slog.Error("publish post created", "post_id", post.ID, "error", perr)
	}

	if n, cerr := s.tracker.Consume(ctx, s.viewerID); cerr != nil {
		slog.Error("consume quota", "user_id", s.viewerID, "error", cerr)
	} else {
		s.mu.Lock()
		s.remaining = n
		s.quotaKnown = true
		s.mu.Unlock()
		s.emit(domain.FeedEvent{Type: domain.EventQuota, Remaining: n})
	}

	return post, nil
}

// ToggleLike flips the viewer's like on a post: the view is updated
// immediately, then the store mutation runs. On failure the post reverts to
// its exact pre-toggle snapshot, unless a newer toggle has already moved it
// on (seq comparison). A conflict means another client raced us; the true
// count is refetched for that one post.
func (s *Session) ToggleLike(ctx context.Context, postID string) error {
	if s.viewerID == "" {
		return domain.ErrUserNotFound
	}

	s.mu.Lock()
	e, ok := s.entries[postID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrPostNotFound
	}
	prev := e.post
	e.seq++
	seq := e.seq
	liking := !e.post.ViewerHasLiked
	if liking {
		e.post.ViewerHasLiked = true
		e.post.LikeCount++
	} else {
		e.post.ViewerHasLiked = false
		if e.post.LikeCount > 0 {
			e.post.LikeCount--
		}
	}
	optimistic := e.post
	s.mu.Unlock()

	s.emit(domain.FeedEvent{Type: domain.EventPostUpdated, Post: &optimistic})

	var err error
	if liking {
		err = s.store.AddLike(ctx, postID, s.viewerID)
	} else {
		err = s.store.RemoveLike(ctx, postID, s.viewerID)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrLikeConflict) {
		s.reconcilePost(ctx, postID, seq)
		return err
	}

	// Exact-state rollback, but only if no later toggle superseded us.
	s.mu.Lock()
	if cur, still := s.entries[postID]; still && cur.seq == seq {
		cur.post.LikeCount = prev.LikeCount
		cur.post.ViewerHasLiked = prev.ViewerHasLiked
		reverted := cur.post
		s.mu.Unlock()
		s.emit(domain.FeedEvent{Type: domain.EventPostUpdated, Post: &reverted})
	} else {
		s.mu.Unlock()
	}
	return fmt.Errorf("toggle like: %w", err)
}

// reconcilePost replaces a post's like state with store truth after a
// conflict. Skipped when a newer toggle has moved the entry on.
func (s *Session) reconcilePost(ctx context.Context, postID string, seq uint64) {
	fresh, err := s.store.GetPost(ctx, postID, s.viewerID)
	if err != nil {
		slog.Warn("refetch after like conflict failed", "post_id", postID, "error", err)
		return
	}
	s.mu.Lock()
	e, ok := s.entries[postID]
	if !ok || e.seq != seq {
		s.mu.Unlock()
		return
	}
	e.post.LikeCount = fresh.LikeCount
	e.post.ViewerHasLiked = fresh.ViewerHasLiked
	reconciled := e.post
	s.mu.Unlock()
	s.emit(domain.FeedEvent{Type: domain.EventPostUpdated, Post: &reconciled})
}

// emit never blocks; a slow consumer just misses incremental events and can
// refetch the view.
func (s *Session) emit(ev domain.FeedEvent) {
	select {
	case s.events <- ev:
	default:
	}
}
