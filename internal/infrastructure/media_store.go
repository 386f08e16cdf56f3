package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"salesbot/internal/config"
	"salesbot/internal/entities"
	"salesbot/internal/retry"
)

const (
	mediaDownloadTimeout = 30 * time.Second
	maxMediaBytes        = 16 << 20
)

// HTTPStatusError is returned when a media download answers with a non-2xx
// status.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("media download %s: unexpected status %d", e.URL, e.StatusCode)
}

// MediaStore downloads Twilio media and republishes it under the public
// directory.
type MediaStore struct {
	httpClient *http.Client
	username   string
	password   string
	dir        string
	baseURL    string
	policy     retry.Policy
	logger     *log.Logger
	metrics    *Metrics
}

type MediaOption func(*MediaStore)

func WithHTTPClient(c *http.Client) MediaOption {
	return func(s *MediaStore) { s.httpClient = c }
}

func WithDownloadRetry(attempts int, base time.Duration, sleep retry.SleepFunc) MediaOption {
	return func(s *MediaStore) {
		s.policy.Attempts = attempts
		s.policy.BaseDelay = base
		s.policy.Sleep = sleep
	}
}

func NewMediaStore(media config.MediaConfig, tw config.TwilioConfig, logger *log.Logger, metrics *Metrics, opts ...MediaOption) *MediaStore {
	s := &MediaStore{
		httpClient: &http.Client{Timeout: mediaDownloadTimeout},
		username:   tw.AccountSID,
		password:   tw.AuthToken,
		dir:        media.PublicDir,
		baseURL:    media.PublicBaseURL,
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: time.Second,
			Retryable: isTransientDownloadError,
		},
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the directory served under /public.
func (s *MediaStore) Dir() string {
	return s.dir
}

// EnsureDir creates the public directory if needed.
func (s *MediaStore) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create public dir: %w", err)
	}
	return nil
}

// PublicURL is the external URL of a file in Dir, or "" without a base URL.
func (s *MediaStore) PublicURL(filename string) string {
	return entities.PublicFileURL(s.baseURL, filename)
}

// Fetch downloads url with the account credentials and stores it under a
// random name.
func (s *MediaStore) Fetch(ctx context.Context, url string) (entities.StoredMedia, error) {
	stored, err := s.fetch(ctx, url)
	s.metrics.ObserveMediaFetch(err)
	return stored, err
}

func (s *MediaStore) fetch(ctx context.Context, url string) (entities.StoredMedia, error) {
	var (
		data        []byte
		contentType string
	)
	policy := s.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("media download failed, retrying", "url", url, "attempt", attempt, "delay", delay, "err", err)
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		var err error
		data, contentType, err = s.download(ctx, url)
		return err
	})
	if err != nil {
		return entities.StoredMedia{}, err
	}

	if err := s.EnsureDir(); err != nil {
		return entities.StoredMedia{}, err
	}

	mt := mimetype.Detect(data)
	ext := mt.Extension()
	if ext == "" {
		if byHeader := mimetype.Lookup(contentType); byHeader != nil {
			ext = byHeader.Extension()
		}
	}
	filename := strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return entities.StoredMedia{}, fmt.Errorf("write media: %w", err)
	}

	s.logger.Info("media stored", "file", filename, "bytes", len(data), "type", mt.String())
	return entities.StoredMedia{
		Path:        path,
		Filename:    filename,
		PublicURL:   s.PublicURL(filename),
		ContentType: mt.String(),
	}, nil
}

func (s *MediaStore) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", retry.Permanent(fmt.Errorf("build media request: %w", err))
	}
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", retry.Permanent(fmt.Errorf("media exceeds %d bytes", maxMediaBytes))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func isTransientDownloadError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}
	return true
}
