// Package storage uploads generated documents (invoice PDFs, receipts) to an
// object store and hands back public URLs that can be sent over chat.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBucket is the bucket used for invoice documents.
const DefaultBucket = "facturas"

// DefaultHTTPTimeout bounds upload requests.
const DefaultHTTPTimeout = 30 * time.Second

// Uploader stores a document and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
}

// Opts holds configuration options for building an uploader.
type Opts struct {
	BaseURL    string
	APIKey     string
	Bucket     string
	HTTPClient *http.Client
}

// Option defines a configuration option for an uploader.
type Option func(*Opts)

// WithBaseURL sets the object store endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithAPIKey sets the bearer token used to authenticate uploads.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBucket overrides the default bucket.
func WithBucket(bucket string) Option {
	return func(o *Opts) { o.Bucket = bucket }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// SupabaseStorage talks to the Supabase Storage REST API. Objects are
// uploaded with upsert semantics so regenerating an invoice replaces the
// previous document.
type SupabaseStorage struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

// NewSupabaseStorage creates an uploader backed by Supabase Storage.
func NewSupabaseStorage(opts ...Option) (*SupabaseStorage, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("storage base URL not set")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("storage API key not set")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &SupabaseStorage{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		bucket:  cfg.Bucket,
		client:  cfg.HTTPClient,
	}, nil
}

func (s *SupabaseStorage) objectURL(name string) string {
	return s.baseURL + "/storage/v1/object/" + s.bucket + "/" + url.PathEscape(name)
}

// PublicURL returns the public download URL for an object.
func (s *SupabaseStorage) PublicURL(name string) string {
	return s.baseURL + "/storage/v1/object/public/" + s.bucket + "/" + url.PathEscape(name)
}

func (s *SupabaseStorage) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(name), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("Storage upload failed", "error", err, "name", name)
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("Storage upload rejected", "status", resp.StatusCode, "name", name, "body", string(body))
		return "", fmt.Errorf("upload of %s rejected with status %d", name, resp.StatusCode)
	}
	publicURL := s.PublicURL(name)
	slog.Debug("Document uploaded", "name", name, "url", publicURL, "bytes", len(data))
	return publicURL, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(name), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("Storage delete failed", "error", err, "name", name)
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete of %s rejected with status %d", name, resp.StatusCode)
	}
	slog.Debug("Document deleted", "name", name)
	return nil
}

// LocalStorage writes documents to a directory on disk. It serves as the
// development fallback when no object store is configured; the returned URLs
// are plain file paths.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a filesystem-backed uploader rooted at dir.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (l *LocalStorage) Upload(_ context.Context, name string, data []byte, _ string) (string, error) {
	path := filepath.Join(l.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("Local storage write failed", "error", err, "path", path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Debug("Document written locally", "path", path, "bytes", len(data))
	return path, nil
}

func (l *LocalStorage) Delete(_ context.Context, name string) error {
	path := filepath.Join(l.dir, filepath.Base(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
