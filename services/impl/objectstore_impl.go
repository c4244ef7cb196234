package impl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beacon-core/config"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type objectStoreFetcherImpl struct {
	config     *config.ObjectStoreConfig
	httpClient *http.Client
}

func NewObjectStoreFetcher(cfg *config.ObjectStoreConfig) services.ObjectStoreFetcher {
	return &objectStoreFetcherImpl{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

// Fetch downloads a stored object, retrying transient failures with backoff.
// Relative object URLs resolve against the configured base URL; absolute URLs
// are used as-is.
func (s *objectStoreFetcherImpl) Fetch(ctx context.Context, objectURL string) ([]byte, error) {
	target := objectURL
	if !strings.HasPrefix(objectURL, "http://") && !strings.HasPrefix(objectURL, "https://") {
		if s.config.BaseURL == "" {
			return nil, fmt.Errorf("relative object URL %q with no object store base URL", objectURL)
		}
		joined, err := url.JoinPath(s.config.BaseURL, objectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to build object URL: %w", err)
		}
		target = joined
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		data, err := s.fetchOnce(ctx, objectURL, target)
		if err == nil {
			return data, nil
		}
		// Only transient failures warrant another attempt; a missing or
		// oversized object will not improve.
		if !errors.Is(err, models.ErrTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *objectStoreFetcherImpl) fetchOnce(ctx context.Context, objectURL, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create object request: %w", err)
	}
	if s.config.APIKey != "" {
		req.Header.Set("X-API-Key", s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object fetch failed: %w: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("object %s: %w", objectURL, models.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("object store returned status %d: %w", resp.StatusCode, models.ErrTransient)
	default:
		return nil, fmt.Errorf("object store returned status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 && resp.ContentLength > s.config.MaxObjectBytes {
		return nil, fmt.Errorf("object is %d bytes, cap is %d: %w",
			resp.ContentLength, s.config.MaxObjectBytes, models.ErrTooLarge)
	}

	// Read one byte past the cap so chunked responses that lie about their
	// size are still rejected.
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	if int64(len(data)) > s.config.MaxObjectBytes {
		return nil, fmt.Errorf("object exceeds %d byte cap: %w", s.config.MaxObjectBytes, models.ErrTooLarge)
	}

	return data, nil
}
