package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NoahRocket/X/internal/core/domain"
)

// Schema: users (id, username, questions_asked_today, last_question_date),
// posts (id, user_id, question, response, tags, created_at),
// post_likes (id, post_id, user_id, UNIQUE (post_id, user_id)).

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: pool}
}

const postColumns = `
	p.id, p.user_id, u.username, p.question, p.response, p.tags, p.created_at,
	COUNT(pl.id) AS like_count`

func (r *PostgresRepo) ListPosts(ctx context.Context) ([]domain.Post, error) {
	q := `
		SELECT` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN post_likes pl ON pl.post_id = p.id
		GROUP BY p.id, u.username
		ORDER BY p.created_at DESC`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("db: list posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		var likeCount int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Username, &p.Question, &p.Response, &p.Tags, &p.CreatedAt, &likeCount); err != nil {
			return nil, fmt.Errorf("db: scan post: %w", err)
		}
		p.LikeCount = int(likeCount)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list posts: %w", err)
	}
	return posts, nil
}

func (r *PostgresRepo) ListLikedPostIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT post_id FROM post_likes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("db: list liked posts: %w", err)
	}
	defer rows.Close()

	liked := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db: scan liked post id: %w", err)
		}
		liked[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list liked posts: %w", err)
	}
	return liked, nil
}

// CreatePost inserts the post and resolves the author name in one
// transaction: a post never exists half-written.
func (r *PostgresRepo) CreatePost(ctx context.Context, authorID, question, response string, tags []string) (domain.Post, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Post{}, fmt.Errorf("db: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	post := domain.Post{
		ID:       uuid.New().String(),
		UserID:   authorID,
		Question: question,
		Response: response,
		Tags:     tags,
	}

	args := pgx.NamedArgs{
		"id":       post.ID,
		"user_id":  authorID,
		"question": question,
		"response": response,
		"tags":     tags,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO posts (id, user_id, question, response, tags, created_at)
		VALUES (@id, @user_id, @question, @response, @tags, now())
		RETURNING created_at`, args).Scan(&post.CreatedAt)
	if err != nil {
		return domain.Post{}, translateError(err)
	}

	err = tx.QueryRow(ctx, `SELECT username FROM users WHERE id = $1`, authorID).Scan(&post.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Post{}, domain.ErrUserNotFound
		}
		return domain.Post{}, fmt.Errorf("db: resolve author: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Post{}, fmt.Errorf("db: commit: %w", err)
	}
	return post, nil
}

func (r *PostgresRepo) GetPost(ctx context.Context, postID, viewerID string) (domain.Post, error) {
	q := `
		SELECT` + postColumns + `,
			EXISTS (
				SELECT 1 FROM post_likes v
				WHERE v.post_id = p.id AND v.user_id = $2
			) AS viewer_has_liked
		FROM posts p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN post_likes pl ON pl.post_id = p.id
		WHERE p.id = $1
		GROUP BY p.id, u.username`

	var p domain.Post
	var likeCount int64
	err := r.db.QueryRow(ctx, q, postID, viewerID).Scan(
		&p.ID, &p.UserID, &p.Username, &p.Question, &p.Response, &p.Tags, &p.CreatedAt,
		&likeCount, &p.ViewerHasLiked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Post{}, domain.ErrPostNotFound
		}
		return domain.Post{}, fmt.Errorf("db: get post: %w", err)
	}
	p.LikeCount = int(likeCount)
	return p, nil
}

func (r *PostgresRepo) AddLike(ctx context.Context, postID, userID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO post_likes (id, post_id, user_id)
		VALUES ($1, $2, $3)`,
		uuid.New().String(), postID, userID)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (r *PostgresRepo) RemoveLike(ctx context.Context, postID, userID string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`,
		postID, userID)
	if err != nil {
		return fmt.Errorf("db: remove like: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Another client unliked first.
		return domain.ErrLikeConflict
	}
	return nil
}

// --- Quota ---

func (r *PostgresRepo) GetQuota(ctx context.Context, userID string) (domain.Quota, error) {
	q := domain.Quota{UserID: userID}
	var lastAsked *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT questions_asked_today, last_question_date
		FROM users WHERE id = $1`, userID).Scan(&q.Count, &lastAsked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quota{}, domain.ErrUserNotFound
		}
		return domain.Quota{}, fmt.Errorf("db: get quota: %w", err)
	}
	q.LastAsked = lastAsked
	return q, nil
}

func (r *PostgresRepo) ResetQuota(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET questions_asked_today = 0, last_question_date = NULL
		WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("db: reset quota: %w", err)
	}
	return nil
}

// IncrementQuota bumps the counter in a single UPDATE so concurrent sessions
// of the same user cannot lose increments.
func (r *PostgresRepo) IncrementQuota(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET questions_asked_today = questions_asked_today + 1,
		    last_question_date = now()
		WHERE id = $1
		RETURNING questions_asked_today`, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("db: increment quota: %w", err)
	}
	return count, nil
}

// translateError maps Postgres error codes onto domain errors.
func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return domain.ErrLikeConflict
		case pgForeignKeyViolation:
			return domain.ErrPostNotFound
		}
	}
	return fmt.Errorf("db: %w", err)
}
