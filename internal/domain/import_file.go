package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies how a raw artifact entered the system.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// AuthType selects how remote fetch requests are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api-key"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

// AuthConfig describes credentials for a remote source.
type AuthConfig struct {
	Type          AuthType          `json:"type" validate:"omitempty,oneof=none api-key bearer basic"`
	APIKey        string            `json:"apiKey,omitempty" validate:"required_if=Type api-key"`
	APIKeyHeader  string            `json:"apiKeyHeader,omitempty"`
	BearerToken   string            `json:"bearerToken,omitempty" validate:"required_if=Type bearer"`
	Username      string            `json:"username,omitempty" validate:"required_if=Type basic"`
	Password      string            `json:"password,omitempty"`
	CustomHeaders map[string]string `json:"customHeaders,omitempty"`
}

// Redacted returns a copy safe to persist alongside the file record.
func (a AuthConfig) Redacted() AuthConfig {
	out := AuthConfig{
		Type:         a.Type,
		APIKeyHeader: a.APIKeyHeader,
		Username:     a.Username,
	}
	if len(a.CustomHeaders) > 0 {
		out.CustomHeaders = make(map[string]string, len(a.CustomHeaders))
		for name := range a.CustomHeaders {
			out.CustomHeaders[name] = "***"
		}
	}
	return out
}

// ImportFile is the immutable record of one fetched or uploaded artifact.
type ImportFile struct {
	ID           uuid.UUID   `json:"id"`
	CatalogID    uuid.UUID   `json:"catalogId"`
	OwnerID      uuid.UUID   `json:"ownerId"`
	DatasetID    *uuid.UUID  `json:"datasetId,omitempty"`
	OriginalName string      `json:"originalName"`
	ContentHash  string      `json:"contentHash"`
	MimeType     string      `json:"mimeType"`
	Size         int64       `json:"size"`
	Source       SourceType  `json:"source"`
	SourceURL    string      `json:"sourceUrl,omitempty"`
	Auth         *AuthConfig `json:"auth,omitempty"`
	StorageKey   string      `json:"storageKey"`
	IsDuplicate  bool        `json:"isDuplicate"`
	CreatedAt    time.Time   `json:"createdAt"`
}
