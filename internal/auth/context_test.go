package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEnforceCatalogScope(t *testing.T) {
	catalogID := uuid.New()

	assert.Error(t, EnforceCatalogScope(context.Background(), uuid.Nil))
	assert.NoError(t, EnforceCatalogScope(context.Background(), catalogID), "unscoped requests pass")

	scoped := ContextWithCatalogID(context.Background(), catalogID)
	assert.NoError(t, EnforceCatalogScope(scoped, catalogID))
	assert.Error(t, EnforceCatalogScope(scoped, uuid.New()))
}

func TestUserIDFromContextIgnoresNil(t *testing.T) {
	_, ok := UserIDFromContext(ContextWithUserID(context.Background(), uuid.Nil))
	assert.False(t, ok)

	id := uuid.New()
	got, ok := UserIDFromContext(ContextWithUserID(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
}
