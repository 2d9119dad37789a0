package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/NoahRocket/X/internal/core/domain"
)

func TestTranslateError(t *testing.T) {
	assert.ErrorIs(t,
		translateError(&pgconn.PgError{Code: pgUniqueViolation}),
		domain.ErrLikeConflict)

	assert.ErrorIs(t,
		translateError(&pgconn.PgError{Code: pgForeignKeyViolation}),
		domain.ErrPostNotFound)

	wrapped := fmt.Errorf("exec: %w", &pgconn.PgError{Code: pgUniqueViolation})
	assert.ErrorIs(t, translateError(wrapped), domain.ErrLikeConflict)

	plain := errors.New("connection reset")
	got := translateError(plain)
	assert.ErrorIs(t, got, plain)
	assert.NotErrorIs(t, got, domain.ErrLikeConflict)
}
