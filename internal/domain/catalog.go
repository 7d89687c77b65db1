package domain

import (
	"time"

	"github.com/google/uuid"
)

// Catalog is the tenant scope that owns datasets and import files.
type Catalog struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewCatalog creates a new catalog with immutable pattern
func NewCatalog(name, description string) Catalog {
	now := time.Now().UTC()
	return Catalog{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithDescription returns a new catalog with updated description
func (c Catalog) WithDescription(description string) Catalog {
	out := c
	out.Description = description
	out.UpdatedAt = time.Now().UTC()
	return out
}
