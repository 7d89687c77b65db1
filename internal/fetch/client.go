// Package fetch retrieves remote files with pluggable authentication, a byte
// ceiling and timeout classification.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rpattn/eventingest/internal/domain"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultMaxBytes is the default size ceiling (100 MB).
	DefaultMaxBytes int64 = 100 * 1024 * 1024

	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent identifies fetch requests.
	DefaultUserAgent = "eventingest-fetcher/1.0"

	defaultAPIKeyHeader = "X-API-Key"
)

var (
	// ErrTooLarge is returned when the payload exceeds the size ceiling.
	ErrTooLarge = errors.New("file too large")
	// ErrTimeout is returned when an attempt exceeds its timeout.
	ErrTimeout = errors.New("fetch timed out")
)

// HTTPStatusError represents a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected response %s from %s", e.Status, e.URL)
}

// Transient reports whether the status is worth retrying.
func (e *HTTPStatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsTransient reports whether err is a timeout, connection failure or retryable status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Result is a fully read remote payload.
type Result struct {
	Body        []byte
	ContentType string
	Filename    string
	ContentHash string
	Size        int64
}

// Config tunes the client.
type Config struct {
	MaxBytes  int64
	Timeout   time.Duration
	UserAgent string
}

// Client performs authenticated GETs.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a fetch client with defaults applied to zero config values.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	c := &Client{httpClient: &http.Client{}, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxBytes returns the configured ceiling.
func (c *Client) MaxBytes() int64 { return c.cfg.MaxBytes }

// Fetch downloads rawURL. Nothing is returned unless the whole body fits under the ceiling.
func (c *Client) Fetch(ctx context.Context, rawURL string, auth *domain.AuthConfig) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/csv, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet, application/vnd.ms-excel, */*")
	ApplyAuth(req.Header, auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Result{}, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	if resp.ContentLength > c.cfg.MaxBytes {
		return Result{}, fmt.Errorf("%w: content length %d exceeds limit of %d bytes", ErrTooLarge, resp.ContentLength, c.cfg.MaxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes+1))
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	if int64(len(body)) > c.cfg.MaxBytes {
		return Result{}, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrTooLarge, c.cfg.MaxBytes)
	}

	return Result{
		Body:        body,
		ContentType: DetectContentType(resp.Header.Get("Content-Type"), body),
		Filename:    Filename(resp.Header.Get("Content-Disposition"), rawURL),
		ContentHash: Hash(body),
		Size:        int64(len(body)),
	}, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("failed to execute request: %w", err)
}

// ApplyAuth sets auth headers on h. Custom headers are merged last and win.
func ApplyAuth(h http.Header, auth *domain.AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case domain.AuthAPIKey:
		header := auth.APIKeyHeader
		if header == "" {
			header = defaultAPIKeyHeader
		}
		h.Set(header, auth.APIKey)
	case domain.AuthBearer:
		h.Set("Authorization", "Bearer "+auth.BearerToken)
	case domain.AuthBasic:
		credentials := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		h.Set("Authorization", "Basic "+credentials)
	}
	for name, value := range auth.CustomHeaders {
		h.Set(name, value)
	}
}

// Hash returns the hex SHA-256 digest of body.
func Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DetectContentType prefers a specific declared type and sniffs the body otherwise.
func DetectContentType(declared string, body []byte) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err == nil && mediaType != "" && mediaType != "application/octet-stream" && mediaType != "binary/octet-stream" {
		return mediaType
	}
	detected := mimetype.Detect(body).String()
	mediaType, _, err = mime.ParseMediaType(detected)
	if err != nil {
		return detected
	}
	if mediaType == "text/plain" && looksDelimited(body) {
		return "text/csv"
	}
	return mediaType
}

func looksDelimited(body []byte) bool {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	line := string(head)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.Count(line, ",") > 0 || strings.Count(line, ";") > 0
}

// Filename picks the attachment name, falling back to the last URL path segment.
func Filename(disposition, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return path.Base(name)
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
		if u.Host != "" {
			return u.Host + ".csv"
		}
	}
	return "download.csv"
}
