package impl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-core/config"
	"github.com/beacon-core/models"
)

func objectStoreFor(serverURL string, maxBytes int64) *objectStoreFetcherImpl {
	return NewObjectStoreFetcher(&config.ObjectStoreConfig{
		BaseURL:        serverURL,
		APIKey:         "test-key",
		Timeout:        5,
		MaxObjectBytes: maxBytes,
	}).(*objectStoreFetcherImpl)
}

func TestFetchRelativeURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents/circular-12.txt", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Write([]byte("circular body"))
	}))
	defer server.Close()

	fetcher := objectStoreFor(server.URL, 1<<20)
	data, err := fetcher.Fetch(context.Background(), "documents/circular-12.txt")
	require.NoError(t, err)
	assert.Equal(t, "circular body", string(data))
}

func TestFetchAbsoluteURLBypassesBase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("absolute"))
	}))
	defer server.Close()

	fetcher := objectStoreFor("http://unreachable.invalid", 1<<20)
	data, err := fetcher.Fetch(context.Background(), server.URL+"/obj")
	require.NoError(t, err)
	assert.Equal(t, "absolute", string(data))
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := objectStoreFor(server.URL, 1<<20)
	_, err := fetcher.Fetch(context.Background(), "missing.txt")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		fetcher := objectStoreFor(server.URL, 1<<20)
		_, err := fetcher.Fetch(context.Background(), "obj.txt")
		assert.True(t, errors.Is(err, models.ErrTransient), "status %d", status)
		server.Close()
	}
}

func retryingStoreFor(serverURL string, maxRetries int) *objectStoreFetcherImpl {
	return NewObjectStoreFetcher(&config.ObjectStoreConfig{
		BaseURL:        serverURL,
		Timeout:        5,
		MaxObjectBytes: 1 << 20,
		MaxRetries:     maxRetries,
	}).(*objectStoreFetcherImpl)
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("second time lucky"))
	}))
	defer server.Close()

	fetcher := retryingStoreFor(server.URL, 1)
	data, err := fetcher.Fetch(context.Background(), "obj.txt")
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", string(data))
	assert.Equal(t, 2, attempts)
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := retryingStoreFor(server.URL, 1)
	_, err := fetcher.Fetch(context.Background(), "obj.txt")
	assert.True(t, errors.Is(err, models.ErrTransient))
	assert.Equal(t, 2, attempts)
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := retryingStoreFor(server.URL, 3)
	_, err := fetcher.Fetch(context.Background(), "obj.txt")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, 1, attempts)
}

func TestFetchTooLargeByContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	fetcher := objectStoreFor(server.URL, 50)
	_, err := fetcher.Fetch(context.Background(), "big.txt")
	assert.True(t, errors.Is(err, models.ErrTooLarge))
}

func TestFetchTooLargeStreamed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flush forces chunked encoding so no Content-Length is sent.
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			w.Write([]byte(strings.Repeat("y", 20)))
			flusher.Flush()
		}
	}))
	defer server.Close()

	fetcher := objectStoreFor(server.URL, 50)
	_, err := fetcher.Fetch(context.Background(), "chunked.txt")
	assert.True(t, errors.Is(err, models.ErrTooLarge))
}

func TestFetchRelativeWithoutBaseURL(t *testing.T) {
	fetcher := NewObjectStoreFetcher(&config.ObjectStoreConfig{MaxObjectBytes: 1 << 20, Timeout: 5})
	_, err := fetcher.Fetch(context.Background(), "relative/path.txt")
	assert.Error(t, err)
}
