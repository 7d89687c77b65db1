package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundOrMapsNoRows(t *testing.T) {
	assert.ErrorIs(t, notFoundOr(pgx.ErrNoRows, "lookup %s", "x"), ErrNotFound)

	err := notFoundOr(errors.New("boom"), "lookup %s", "x")
	assert.EqualError(t, err, "lookup x: boom")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(wrapped))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestNullableUUIDRoundTrip(t *testing.T) {
	assert.False(t, nullableUUID(nil).Valid)
	nilID := uuid.Nil
	assert.False(t, nullableUUID(&nilID).Valid)

	id := uuid.New()
	value := nullableUUID(&id)
	require.True(t, value.Valid)
	assert.Equal(t, id, *uuidPtr(value))
}

func TestParseUUIDsRejectsGarbage(t *testing.T) {
	id := uuid.New()
	ids, err := parseUUIDs(uuidStrings([]uuid.UUID{id}))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)

	_, err = parseUUIDs([]string{"nope"})
	assert.Error(t, err)
}

func TestAdvisoryKeyIsStablePerDataset(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, advisoryKey(a), advisoryKey(a))
	assert.NotEqual(t, advisoryKey(a), advisoryKey(b))
}

func TestStoreValidate(t *testing.T) {
	var nilStore *Store
	assert.Error(t, nilStore.Validate())
	assert.EqualError(t, (&Store{}).Validate(), "catalog repository missing")
	assert.NoError(t, NewPostgresStore(nil).Validate())
}
