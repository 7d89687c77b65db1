package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dataset groups events of one shape inside a catalog.
type Dataset struct {
	ID                uuid.UUID `json:"id"`
	CatalogID         uuid.UUID `json:"catalogId"`
	Name              string    `json:"name"`
	AutoApproveSchema bool      `json:"autoApproveSchema"`
	CreatedAt         time.Time `json:"createdAt"`
}

// NewDataset creates a dataset in the given catalog.
func NewDataset(catalogID uuid.UUID, name string) Dataset {
	return Dataset{
		ID:        uuid.New(),
		CatalogID: catalogID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}
