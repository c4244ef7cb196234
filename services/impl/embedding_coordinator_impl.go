package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
)

type embeddingCoordinatorImpl struct {
	documents services.DocumentService
	objects   services.ObjectStoreFetcher
	chunker   services.Chunker
	embedder  services.Embedder
	vectors   services.VectorStore

	// tokens bounds concurrent builds on this instance. Acquisition never
	// blocks: a saturated pool reports not_ready and the caller retrieves
	// without that document.
	tokens chan struct{}
}

func NewEmbeddingCoordinator(
	documents services.DocumentService,
	objects services.ObjectStoreFetcher,
	chunker services.Chunker,
	embedder services.Embedder,
	vectors services.VectorStore,
	maxConcurrentBuilds int,
) services.EmbeddingCoordinator {
	if maxConcurrentBuilds < 1 {
		maxConcurrentBuilds = 1
	}
	return &embeddingCoordinatorImpl{
		documents: documents,
		objects:   objects,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		tokens:    make(chan struct{}, maxConcurrentBuilds),
	}
}

// EnsureEmbedded makes a document's chunks available, building them on first
// demand. The claim on embedding_status serializes builders across every
// instance sharing the database; the local token pool only bounds this
// instance's parallelism. A document whose last build failed stays failed
// until a caller passes retry.
func (s *embeddingCoordinatorImpl) EnsureEmbedded(ctx context.Context, documentID uuid.UUID, retry bool) (models.EnsureResult, error) {
	meta, err := s.documents.GetMetadata(ctx, documentID)
	if err != nil {
		return models.EnsureFailed, err
	}
	if meta.EmbeddingStatus == models.EmbeddingEmbedded {
		return models.EnsureReady, nil
	}
	if meta.EmbeddingStatus == models.EmbeddingFailed && !retry {
		return models.EnsureFailed, nil
	}

	select {
	case s.tokens <- struct{}{}:
	default:
		return models.EnsureNotReady, nil
	}
	defer func() { <-s.tokens }()

	claimed, err := s.documents.ClaimEmbedding(ctx, documentID, retry)
	if err != nil {
		return models.EnsureFailed, err
	}
	if !claimed {
		// Someone else holds the claim, or finished while we queued.
		meta, err = s.documents.GetMetadata(ctx, documentID)
		if err != nil {
			return models.EnsureFailed, err
		}
		switch meta.EmbeddingStatus {
		case models.EmbeddingEmbedded:
			return models.EnsureReady, nil
		case models.EmbeddingFailed:
			return models.EnsureFailed, nil
		}
		return models.EnsureNotReady, nil
	}

	if err := s.build(ctx, documentID); err != nil {
		if failErr := s.documents.FailEmbedding(context.WithoutCancel(ctx), documentID); failErr != nil {
			log.Printf("embedding: failed to release claim on %s: %v", documentID, failErr)
		}
		return models.EnsureFailed, fmt.Errorf("embedding build for %s: %w: %v", documentID, models.ErrEmbedFailed, err)
	}
	return models.EnsureReady, nil
}

func (s *embeddingCoordinatorImpl) build(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.documents.GetDocumentForEmbedding(ctx, documentID)
	if err != nil {
		return err
	}

	text, err := s.loadText(ctx, doc)
	if err != nil {
		return err
	}

	chunks := s.chunker.Chunk(text)
	var embeddings [][]float32
	if len(chunks) > 0 {
		embeddings, err = s.embedder.Embed(ctx, chunks)
		if err != nil {
			return err
		}
	}

	// An empty document still flips to embedded; retrieval just finds no
	// chunks for it.
	if err := s.vectors.UpsertDocumentChunks(ctx, doc, chunks, embeddings); err != nil {
		return err
	}

	log.Printf("embedding: built %d chunks for document %s", len(chunks), documentID)
	return nil
}

func (s *embeddingCoordinatorImpl) loadText(ctx context.Context, doc *models.Document) (string, error) {
	stored, err := s.documents.GetDocumentText(ctx, doc.ID)
	if err == nil {
		return stored.Text, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	raw, err := s.objects.Fetch(ctx, doc.ObjectURL)
	if err != nil {
		return "", err
	}
	return extractText(raw), nil
}

// extractText interprets fetched bytes as plain text, dropping anything that
// does not decode as UTF-8. Binary formats are extracted upstream and land in
// document_texts before upload.
func extractText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "")
}

// EnsureMany ensures a batch of documents in parallel. It never returns an
// error; per-document failures degrade to failed entries in the result map.
func (s *embeddingCoordinatorImpl) EnsureMany(ctx context.Context, documentIDs []uuid.UUID) map[uuid.UUID]models.EnsureResult {
	results := make(map[uuid.UUID]models.EnsureResult, len(documentIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(s.tokens))
	for _, id := range documentIDs {
		id := id
		g.Go(func() error {
			result, err := s.EnsureEmbedded(gctx, id, false)
			if err != nil {
				log.Printf("embedding: ensure %s: %v", id, err)
			}
			mu.Lock()
			results[id] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
