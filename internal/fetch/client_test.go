package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAuth(t *testing.T) {
	cases := []struct {
		name   string
		auth   *domain.AuthConfig
		header string
		want   string
	}{
		{name: "api key default header", auth: &domain.AuthConfig{Type: domain.AuthAPIKey, APIKey: "k1"}, header: "X-API-Key", want: "k1"},
		{name: "api key custom header", auth: &domain.AuthConfig{Type: domain.AuthAPIKey, APIKey: "k2", APIKeyHeader: "X-Token"}, header: "X-Token", want: "k2"},
		{name: "bearer", auth: &domain.AuthConfig{Type: domain.AuthBearer, BearerToken: "tok"}, header: "Authorization", want: "Bearer tok"},
		{name: "basic", auth: &domain.AuthConfig{Type: domain.AuthBasic, Username: "user", Password: "pass"}, header: "Authorization", want: "Basic dXNlcjpwYXNz"},
		{
			name:   "custom headers win",
			auth:   &domain.AuthConfig{Type: domain.AuthBearer, BearerToken: "tok", CustomHeaders: map[string]string{"Authorization": "Custom x"}},
			header: "Authorization",
			want:   "Custom x",
		},
		{name: "none", auth: &domain.AuthConfig{Type: domain.AuthNone}, header: "Authorization", want: ""},
		{name: "nil", auth: nil, header: "Authorization", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			ApplyAuth(h, tc.auth)
			assert.Equal(t, tc.want, h.Get(tc.header))
		})
	}
}

func TestFetchReadsBodyAndHashes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte("data"))
	}))
	defer server.Close()

	client := NewClient(Config{})
	result, err := client.Fetch(context.Background(), server.URL+"/exports/data.csv", &domain.AuthConfig{Type: domain.AuthBearer, BearerToken: "secret"})
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("data"))
	assert.Equal(t, hex.EncodeToString(sum[:]), result.ContentHash)
	assert.Equal(t, "data", string(result.Body))
	assert.EqualValues(t, 4, result.Size)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "data.csv", result.Filename)
}

func TestFetchRejectsDeclaredLengthOverLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write([]byte(strings.Repeat("a", 2048)))
	}))
	defer server.Close()

	client := NewClient(Config{MaxBytes: 1024})
	_, err := client.Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Contains(t, err.Error(), "too large")
	assert.False(t, IsTransient(err))
}

func TestFetchRejectsStreamedBodyOverLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write([]byte(strings.Repeat("b", 512)))
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := NewClient(Config{MaxBytes: 1024})
	_, err := client.Fetch(context.Background(), server.URL, nil)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(Config{Timeout: 50 * time.Millisecond})
	_, err := client.Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestFetchStatusClassification(t *testing.T) {
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := NewClient(Config{})
	_, err := client.Fetch(context.Background(), server.URL, nil)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, IsTransient(err))

	status = http.StatusNotFound
	_, err = client.Fetch(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestIsTransientIgnoresRequestConstructionErrors(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Fetch(context.Background(), "ftp://example.invalid/data.csv", nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "text/csv", DetectContentType("text/csv; charset=utf-8", nil))
	assert.Equal(t, "text/csv", DetectContentType("application/octet-stream", []byte("title,date\n1,2\n")))
	assert.Equal(t, "text/plain", DetectContentType("", []byte("just some words")))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "report.xlsx", Filename(`attachment; filename="report.xlsx"`, "https://example.com/download"))
	assert.Equal(t, "data.csv", Filename("", "https://example.com/data.csv?x=1"))
	assert.Equal(t, "example.com.csv", Filename("", "https://example.com/"))
}
