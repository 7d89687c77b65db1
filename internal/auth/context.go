package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

const (
	catalogIDKey contextKey = "catalogID"
	userIDKey    contextKey = "userID"
)

// ContextWithCatalogID returns a new context that carries the authenticated catalog scope.
func ContextWithCatalogID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, catalogIDKey, id)
}

// CatalogIDFromContext retrieves the authenticated catalog scope from the context, if any.
func CatalogIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return idFromContext(ctx, catalogIDKey)
}

// ContextWithUserID returns a new context that carries the acting user.
func ContextWithUserID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext retrieves the acting user, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return idFromContext(ctx, userIDKey)
}

func idFromContext(ctx context.Context, key contextKey) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(key).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// EnforceCatalogScope ensures the provided catalog matches the authenticated scope when present.
func EnforceCatalogScope(ctx context.Context, catalogID uuid.UUID) error {
	if catalogID == uuid.Nil {
		return fmt.Errorf("catalogId is required")
	}
	scopedID, ok := CatalogIDFromContext(ctx)
	if !ok {
		return nil
	}
	if scopedID != catalogID {
		return fmt.Errorf("catalogId %s does not match authenticated scope", catalogID)
	}
	return nil
}
