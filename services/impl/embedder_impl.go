package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/beacon-core/config"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type embedderImpl struct {
	config     *config.EmbedderConfig
	httpClient *http.Client
}

func NewEmbedder(cfg *config.EmbedderConfig) services.Embedder {
	return &embedderImpl{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (s *embedderImpl) Dimension() int {
	return s.config.Dimension
}

// Embed sends texts to the embedding API in batches and returns one vector
// per input, in input order.
func (s *embedderImpl) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := s.config.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *embedderImpl) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: s.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", s.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("embedding API returned status %d: %w", resp.StatusCode, models.ErrTransient)
		}
		return nil, fmt.Errorf("embedding API returned status %d: %s: %w", resp.StatusCode, string(body), models.ErrEmbedder)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("asked for %d embeddings, got %d: %w", len(texts), len(parsed.Data), models.ErrEmbedder)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range: %w", item.Index, models.ErrEmbedder)
		}
		if len(item.Embedding) != s.config.Dimension {
			return nil, fmt.Errorf("embedding has dimension %d, expected %d: %w",
				len(item.Embedding), s.config.Dimension, models.ErrDimensionMismatch)
		}
		if err := normalizeVector(item.Embedding); err != nil {
			return nil, fmt.Errorf("embedding %d: %w: %v", item.Index, models.ErrEmbedder, err)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// normalizeVector scales v in place to unit L2 norm, so cosine distance and
// inner product agree at search time. A zero or non-finite vector is an
// error.
func normalizeVector(v []float32) error {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return fmt.Errorf("vector has no finite magnitude")
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return nil
}
