package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"agentgate/pkg/platform/sentinel"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil, "invitation"))
	assert.ErrorIs(t, MapError(pgx.ErrNoRows, "invitation"), sentinel.ErrNotFound)
	assert.ErrorIs(t, MapError(&pgconn.PgError{Code: "23505"}, "account"), sentinel.ErrConflict)
	assert.ErrorIs(t, MapError(&pgconn.PgError{Code: "57P01"}, "account"), sentinel.ErrUnavailable)
	assert.ErrorIs(t, MapError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "message"), context.DeadlineExceeded)

	plain := errors.New("syntax error")
	err := MapError(plain, "message")
	assert.ErrorIs(t, err, plain)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
}
