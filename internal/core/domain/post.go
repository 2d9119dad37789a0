package domain

import "time"

type SortMode string

const (
	SortNewest SortMode = "newest"
	SortBest   SortMode = "best"
)

// MaxQuestionLen is the hard cap on a submitted question, in runes.
const MaxQuestionLen = 140

type Post struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Question       string    `json:"question"`
	Response       string    `json:"response"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	LikeCount      int       `json:"like_count"`
	ViewerHasLiked bool      `json:"viewer_has_liked"`
}

// Answer is what the AI responder produces for one question.
// Tags may be empty when tag generation degraded.
type Answer struct {
	Text string
	Tags []string
}

// Quota is the stored daily-question state for one user.
// LastAsked is nil when the user has never asked (or after a reset).
type Quota struct {
	UserID    string
	Count     int
	LastAsked *time.Time
}

type FeedEventType string

const (
	EventPostAdded   FeedEventType = "post_added"
	EventPostUpdated FeedEventType = "post_updated"
	EventQuota       FeedEventType = "quota"
)

// FeedEvent is pushed to a connected viewer when their view changes.
type FeedEvent struct {
	Type      FeedEventType `json:"type"`
	Post      *Post         `json:"post,omitempty"`
	Remaining int           `json:"remaining,omitempty"`
}
