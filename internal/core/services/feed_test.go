package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoahRocket/X/internal/core/domain"
)

// --- stubs ---

type stubStore struct {
	listPostsFn  func(ctx context.Context) ([]domain.Post, error)
	listLikedFn  func(ctx context.Context, userID string) (map[string]struct{}, error)
	createFn     func(ctx context.Context, authorID, question, response string, tags []string) (domain.Post, error)
	getPostFn    func(ctx context.Context, postID, viewerID string) (domain.Post, error)
	addLikeFn    func(ctx context.Context, postID, userID string) error
	removeLikeFn func(ctx context.Context, postID, userID string) error
}

func (s *stubStore) ListPosts(ctx context.Context) ([]domain.Post, error) {
	if s.listPostsFn != nil {
		return s.listPostsFn(ctx)
	}
	return nil, nil
}

func (s *stubStore) ListLikedPostIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	if s.listLikedFn != nil {
		return s.listLikedFn(ctx, userID)
	}
	return map[string]struct{}{}, nil
}

func (s *stubStore) CreatePost(ctx context.Context, authorID, question, response string, tags []string) (domain.Post, error) {
	if s.createFn != nil {
		return s.createFn(ctx, authorID, question, response, tags)
	}
	return domain.Post{}, errors.New("createFn not set")
}

func (s *stubStore) GetPost(ctx context.Context, postID, viewerID string) (domain.Post, error) {
	if s.getPostFn != nil {
		return s.getPostFn(ctx, postID, viewerID)
	}
	return domain.Post{}, domain.ErrPostNotFound
}

func (s *stubStore) AddLike(ctx context.Context, postID, userID string) error {
	if s.addLikeFn != nil {
		return s.addLikeFn(ctx, postID, userID)
	}
	return nil
}

func (s *stubStore) RemoveLike(ctx context.Context, postID, userID string) error {
	if s.removeLikeFn != nil {
		return s.removeLikeFn(ctx, postID, userID)
	}
	return nil
}

type stubQuotaStore struct {
	getFn   func(ctx context.Context, userID string) (domain.Quota, error)
	resetFn func(ctx context.Context, userID string) error
	incrFn  func(ctx context.Context, userID string) (int, error)
}

func (s *stubQuotaStore) GetQuota(ctx context.Context, userID string) (domain.Quota, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Quota{UserID: userID}, nil
}

func (s *stubQuotaStore) ResetQuota(ctx context.Context, userID string) error {
	if s.resetFn != nil {
		return s.resetFn(ctx, userID)
	}
	return nil
}

func (s *stubQuotaStore) IncrementQuota(ctx context.Context, userID string) (int, error) {
	if s.incrFn != nil {
		return s.incrFn(ctx, userID)
	}
	return 1, nil
}

type stubResponder struct {
	respondFn func(ctx context.Context, question string) (domain.Answer, error)
	calls     int
}

func (s *stubResponder) Respond(ctx context.Context, question string) (domain.Answer, error) {
	s.calls++
	if s.respondFn != nil {
		return s.respondFn(ctx, question)
	}
	return domain.Answer{Text: "answer", Tags: []string{"go"}}, nil
}

type stubPublisher struct {
	published []domain.Post
	err       error
}

func (s *stubPublisher) PublishPostCreated(_ context.Context, post domain.Post) error {
	s.published = append(s.published, post)
	return s.err
}

func newTestSession(store *stubStore) *Session {
	tracker := NewRateTracker(&stubQuotaStore{}, time.UTC)
	return NewSession("viewer-1", store, tracker, &stubResponder{}, &stubPublisher{})
}

func post(id string, likes int, createdAt time.Time, tags ...string) domain.Post {
	return domain.Post{
		ID:        id,
		UserID:    "author-" + id,
		Username:  "user-" + id,
		Question:  "q-" + id,
		Response:  "r-" + id,
		Tags:      tags,
		CreatedAt: createdAt,
		LikeCount: likes,
	}
}

// --- load & realtime merge ---

func TestLoadMergesLikeState(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("a", 2, base.Add(time.Hour)), post("b", 0, base)}, nil
		},
		listLikedFn: func(context.Context, string) (map[string]struct{}, error) {
			return map[string]struct{}{"b": {}}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	view := s.View()
	require.Len(t, view, 2)
	assert.False(t, view[0].ViewerHasLiked)
	assert.Equal(t, "b", view[1].ID)
	assert.True(t, view[1].ViewerHasLiked)
}

func TestLoadFailurePropagates(t *testing.T) {
	boom := errors.New("connection refused")
	s := newTestSession(&stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) { return nil, boom },
	})
	err := s.Load(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.View())
}

func TestApplyInsertDeduplicatesByID(t *testing.T) {
	s := newTestSession(&stubStore{})
	require.NoError(t, s.Load(context.Background()))

	p := post("x", 0, time.Now())
	s.ApplyInsert(p)
	s.ApplyInsert(p) // realtime echo of our own optimistic insert

	assert.Len(t, s.View(), 1)
}

func TestApplyInsertPrepends(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("old", 0, base)}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	s.ApplyInsert(post("new", 0, base.Add(time.Minute)))

	view := s.View()
	require.Len(t, view, 2)
	assert.Equal(t, "new", view[0].ID)
}

// --- projections ---

func TestBestSortIsStrictTotalOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{
				post("newest-few-likes", 1, base.Add(2*time.Hour)),
				post("tied-late", 5, base.Add(time.Hour)),
				post("tied-early", 5, base),
				post("most-liked", 9, base.Add(30*time.Minute)),
			}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))
	s.SetSort(domain.SortBest)

	view := s.View()
	ids := []string{view[0].ID, view[1].ID, view[2].ID, view[3].ID}
	// Likes descending; within equal likes, the later post sorts first.
	assert.Equal(t, []string{"most-liked", "tied-late", "tied-early", "newest-few-likes"}, ids)
}

func TestSortIsViewOnly(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("a", 1, base.Add(time.Hour)), post("b", 7, base)}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	s.SetSort(domain.SortBest)
	best := s.View()
	s.SetSort(domain.SortNewest)
	newest := s.View()

	assert.Equal(t, "b", best[0].ID)
	assert.Equal(t, "a", newest[0].ID)
}

func TestTagFilterTogglesIdempotently(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{
				post("a", 0, base.Add(time.Hour), "go", "testing"),
				post("b", 0, base, "rust"),
			}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	before := s.View()

	s.ToggleTag("go")
	filtered := s.View()
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].ID)
	assert.Equal(t, "go", s.ActiveTag())

	s.ToggleTag("go")
	assert.Equal(t, "", s.ActiveTag())
	assert.Equal(t, before, s.View())
}

func TestTagFilterIsCaseSensitive(t *testing.T) {
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("a", 0, time.Now(), "Go")}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	s.ToggleTag("go")
	assert.Empty(t, s.View())
}

// --- like toggles ---

func TestToggleLikeOptimisticThenConfirmed(t *testing.T) {
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("p", 5, time.Now())}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.ToggleLike(context.Background(), "p"))

	view := s.View()
	assert.Equal(t, 6, view[0].LikeCount)
	assert.True(t, view[0].ViewerHasLiked)
}

func TestToggleLikeRollbackIsExact(t *testing.T) {
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("p", 5, time.Now())}, nil
		},
		addLikeFn: func(context.Context, string, string) error {
			return errors.New("write failed")
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	err := s.ToggleLike(context.Background(), "p")
	require.Error(t, err)

	// Back to exactly (5, false), not a refetch or a guess.
	view := s.View()
	assert.Equal(t, 5, view[0].LikeCount)
	assert.False(t, view[0].ViewerHasLiked)
}

func TestToggleSequenceHasNetEffect(t *testing.T) {
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("p", 3, time.Now())}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	for i := 0; i < 4; i++ { // even number of toggles: unchanged
		require.NoError(t, s.ToggleLike(context.Background(), "p"))
	}
	view := s.View()
	assert.Equal(t, 3, view[0].LikeCount)
	assert.False(t, view[0].ViewerHasLiked)

	require.NoError(t, s.ToggleLike(context.Background(), "p")) // odd: one net like
	view = s.View()
	assert.Equal(t, 4, view[0].LikeCount)
	assert.True(t, view[0].ViewerHasLiked)
}

func TestToggleLikeConflictRefetchesTruth(t *testing.T) {
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("p", 5, time.Now())}, nil
		},
		addLikeFn: func(context.Context, string, string) error {
			return domain.ErrLikeConflict
		},
		getPostFn: func(_ context.Context, postID, _ string) (domain.Post, error) {
			p := post(postID, 8, time.Now())
			p.ViewerHasLiked = true
			return p, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	err := s.ToggleLike(context.Background(), "p")
	require.ErrorIs(t, err, domain.ErrLikeConflict)

	// Conflict resolution is the store's truth, not local inference.
	view := s.View()
	assert.Equal(t, 8, view[0].LikeCount)
	assert.True(t, view[0].ViewerHasLiked)
}

func TestToggleLikeUnknownPost(t *testing.T) {
	s := newTestSession(&stubStore{})
	require.NoError(t, s.Load(context.Background()))
	err := s.ToggleLike(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestStaleRollbackDoesNotClobberNewerToggle(t *testing.T) {
	// First toggle's store write is delayed past a second toggle; its
	// rollback must not revert the newer optimistic state.
	release := make(chan struct{})
	firstCall := true
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("p", 5, time.Now())}, nil
		},
		addLikeFn: func(context.Context, string, string) error {
			if firstCall {
				firstCall = false
				<-release
				return errors.New("timeout")
			}
			return nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	errs := make(chan error, 1)
	go func() { errs <- s.ToggleLike(context.Background(), "p") }() // like, will fail late

	// Wait for the optimistic apply of the first toggle.
	require.Eventually(t, func() bool {
		return s.View()[0].ViewerHasLiked
	}, time.Second, time.Millisecond)

	require.NoError(t, s.ToggleLike(context.Background(), "p")) // unlike, succeeds

	close(release)
	require.Error(t, <-errs)

	// The second toggle owns the entry now: (5, false) stands.
	view := s.View()
	assert.Equal(t, 5, view[0].LikeCount)
	assert.False(t, view[0].ViewerHasLiked)
}

// --- submit pipeline ---

func TestSubmitQuestionValidation(t *testing.T) {
	s := newTestSession(&stubStore{})

	_, err := s.SubmitQuestion(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)

	long := make([]rune, domain.MaxQuestionLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.SubmitQuestion(context.Background(), string(long))
	assert.ErrorIs(t, err, domain.ErrQuestionTooLong)
}

func TestSubmitQuestionQuotaFastFail(t *testing.T) {
	responder := &stubResponder{}
	quota := &stubQuotaStore{
		getFn: func(_ context.Context, userID string) (domain.Quota, error) {
			now := time.Now()
			return domain.Quota{UserID: userID, Count: DailyQuestionLimit, LastAsked: &now}, nil
		},
	}
	tracker := NewRateTracker(quota, time.UTC)
	s := NewSession("viewer-1", &stubStore{}, tracker, responder, &stubPublisher{})

	_, err := s.Remaining(context.Background())
	require.NoError(t, err)

	_, err = s.SubmitQuestion(context.Background(), "why is the sky blue?")
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	// Exhausted quota never reaches the generator.
	assert.Zero(t, responder.calls)
}

func TestSubmitQuestionSuccess(t *testing.T) {
	created := post("new-id", 0, time.Now(), "science")
	var gotQuestion, gotResponse string
	store := &stubStore{
		createFn: func(_ context.Context, _, question, response string, _ []string) (domain.Post, error) {
			gotQuestion, gotResponse = question, response
			return created, nil
		},
	}
	publisher := &stubPublisher{}
	quota := &stubQuotaStore{
		incrFn: func(context.Context, string) (int, error) { return 1, nil },
	}
	tracker := NewRateTracker(quota, time.UTC)
	responder := &stubResponder{
		respondFn: func(_ context.Context, q string) (domain.Answer, error) {
			return domain.Answer{Text: "because physics", Tags: []string{"science"}}, nil
		},
	}
	s := NewSession("viewer-1", store, tracker, responder, publisher)
	require.NoError(t, s.Load(context.Background()))

	got, err := s.SubmitQuestion(context.Background(), "  why is the sky blue?  ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "why is the sky blue?", gotQuestion)
	assert.Equal(t, "because physics", gotResponse)

	view := s.View()
	require.Len(t, view, 1)
	assert.Equal(t, "new-id", view[0].ID)
	assert.Equal(t, 0, view[0].LikeCount)
	assert.False(t, view[0].ViewerHasLiked)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, "new-id", publisher.published[0].ID)

	// The realtime echo of our own post must not duplicate it.
	s.ApplyInsert(created)
	assert.Len(t, s.View(), 1)
}

func TestSubmitQuestionGenerationFailureLeavesViewUnchanged(t *testing.T) {
	store := &stubStore{
		createFn: func(context.Context, string, string, string, []string) (domain.Post, error) {
			t.Fatal("post must not be created when generation fails")
			return domain.Post{}, nil
		},
	}
	responder := &stubResponder{
		respondFn: func(context.Context, string) (domain.Answer, error) {
			return domain.Answer{}, domain.ErrGenerationFailed
		},
	}
	tracker := NewRateTracker(&stubQuotaStore{}, time.UTC)
	s := NewSession("viewer-1", store, tracker, responder, &stubPublisher{})
	require.NoError(t, s.Load(context.Background()))

	_, err := s.SubmitQuestion(context.Background(), "anything")
	require.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Empty(t, s.View())
}

func TestSubmitQuestionStoreFailureLeavesViewUnchanged(t *testing.T) {
	store := &stubStore{
		createFn: func(context.Context, string, string, string, []string) (domain.Post, error) {
			return domain.Post{}, errors.New("insert failed")
		},
	}
	tracker := NewRateTracker(&stubQuotaStore{}, time.UTC)
	s := NewSession("viewer-1", store, tracker, &stubResponder{}, &stubPublisher{})
	require.NoError(t, s.Load(context.Background()))

	_, err := s.SubmitQuestion(context.Background(), "anything")
	require.Error(t, err)
	assert.Empty(t, s.View())
}

// --- events ---

func TestEventsEmittedOnInsertAndToggle(t *testing.T) {
	store := &stubStore{
		listPostsFn: func(context.Context) ([]domain.Post, error) {
			return []domain.Post{post("p", 0, time.Now())}, nil
		},
	}
	s := newTestSession(store)
	require.NoError(t, s.Load(context.Background()))

	s.ApplyInsert(post("q", 0, time.Now()))
	ev := <-s.Events()
	assert.Equal(t, domain.EventPostAdded, ev.Type)
	assert.Equal(t, "q", ev.Post.ID)

	require.NoError(t, s.ToggleLike(context.Background(), "p"))
	ev = <-s.Events()
	assert.Equal(t, domain.EventPostUpdated, ev.Type)
	assert.Equal(t, 1, ev.Post.LikeCount)
}
