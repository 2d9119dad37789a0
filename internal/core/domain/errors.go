package domain

import "errors"

var (
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrQuestionTooLong = errors.New("question exceeds 140 characters")
	ErrQuotaExceeded   = errors.New("daily question quota exhausted")

	// ErrGenerationFailed means the answer call failed; the post is never created.
	// Tag generation failures are never surfaced as errors.
	ErrGenerationFailed = errors.New("failed to generate AI response")

	ErrPostNotFound = errors.New("post not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrLikeConflict is the benign race: the like already exists on insert,
	// or is already gone on delete. Callers resolve it by refetching the post.
	ErrLikeConflict = errors.New("like state changed concurrently")
)
