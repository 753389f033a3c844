package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/subsync/pkg/pg"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(errors.New("boom")))
	assert.False(t, pg.IsNotFoundError(nil))
}

func TestIsInvalidTextRepresentation(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("upsert: %w", &pgconn.PgError{Code: pg.CodeInvalidTextRepresentation})
	assert.True(t, pg.IsInvalidTextRepresentation(err))
	assert.False(t, pg.IsInvalidTextRepresentation(&pgconn.PgError{Code: "23505"}))
}

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "connection exception", err: &pgconn.PgError{Code: "08006"}, want: true},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, want: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: pg.CodeSerializationFailure}, want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "bad uuid", err: &pgconn.PgError{Code: pg.CodeInvalidTextRepresentation}, want: false},
		{name: "no rows", err: pgx.ErrNoRows, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, pg.IsTransientError(tt.err))
		})
	}
}
