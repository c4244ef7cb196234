package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
	"github.com/beacon-core/services/access"
)

type vectorStoreImpl struct {
	db        *gorm.DB
	dimension int
}

func NewVectorStore(db *gorm.DB, dimension int) services.VectorStore {
	return &vectorStoreImpl{
		db:        db,
		dimension: dimension,
	}
}

// UpsertDocumentChunks replaces a document's chunks and marks the metadata
// embedded, all in one transaction. Readers either see the full old
// generation or the full new one, never a mix.
func (s *vectorStoreImpl) UpsertDocumentChunks(ctx context.Context, doc *models.Document, texts []string, embeddings [][]float32) error {
	if len(texts) != len(embeddings) {
		return fmt.Errorf("got %d texts but %d embeddings", len(texts), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != s.dimension {
			return fmt.Errorf("chunk %d has dimension %d, store expects %d: %w",
				i, len(emb), s.dimension, models.ErrDimensionMismatch)
		}
	}

	now := time.Now()
	chunks := make([]models.EmbeddingChunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.EmbeddingChunk{
			ID:             uuid.New(),
			DocumentID:     doc.ID,
			ChunkIndex:     i,
			Text:           text,
			Embedding:      pgvector.NewVector(embeddings[i]),
			Visibility:     doc.Visibility,
			InstitutionID:  doc.InstitutionID,
			ApprovalStatus: doc.ApprovalStatus,
			CreatedAt:      now,
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", doc.ID).Delete(&models.EmbeddingChunk{}).Error; err != nil {
			return fmt.Errorf("failed to clear previous chunks: %w", err)
		}
		if len(chunks) > 0 {
			if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
		}
		err := tx.Model(&models.DocumentMetadata{}).
			Where("document_id = ?", doc.ID).
			Updates(map[string]interface{}{
				"embedding_status":     models.EmbeddingEmbedded,
				"embedding_started_at": nil,
				"updated_at":           now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to mark document embedded: %w", err)
		}
		return nil
	})
}

// Search runs cosine nearest-neighbour search with the viewer's predicate in
// the WHERE clause. The denormalized columns filter on the chunk row; the
// ownership and escalation columns come from the joined document. Equal
// distances order deterministically by document then chunk index.
func (s *vectorStoreImpl) Search(ctx context.Context, viewer models.Viewer, embedding []float32, limit int) ([]models.RetrievedChunk, error) {
	return s.search(ctx, viewer, nil, embedding, limit)
}

// SearchDocument is Search restricted to one document.
func (s *vectorStoreImpl) SearchDocument(ctx context.Context, viewer models.Viewer, documentID uuid.UUID, embedding []float32, limit int) ([]models.RetrievedChunk, error) {
	return s.search(ctx, viewer, &documentID, embedding, limit)
}

// chunkSearchQuery assembles the vector search statement. Equidistant chunks
// are ordered by (document_id, chunk_index) so repeated queries return the
// same rows in the same order.
func chunkSearchQuery(predicate, docFilter string) string {
	return fmt.Sprintf(`
		SELECT c.document_id, m.title, c.chunk_index, c.text,
		       1 - (c.embedding <=> ?) AS score,
		       c.visibility, c.institution_id, c.approval_status, d.uploader_id
		FROM beacon.embedding_chunks c
		JOIN beacon.documents d ON d.id = c.document_id
		JOIN beacon.document_metadata m ON m.document_id = c.document_id
		WHERE d.deleted_at IS NULL AND %s%s
		ORDER BY c.embedding <=> ?, c.document_id ASC, c.chunk_index ASC
		LIMIT ?`, predicate, docFilter)
}

func (s *vectorStoreImpl) search(ctx context.Context, viewer models.Viewer, documentID *uuid.UUID, embedding []float32, limit int) ([]models.RetrievedChunk, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("query has dimension %d, store expects %d: %w",
			len(embedding), s.dimension, models.ErrDimensionMismatch)
	}
	if limit <= 0 {
		limit = 20
	}

	predicate, predArgs := access.SQLQualified(viewer, func(col string) string {
		switch col {
		case "uploader_id", "requires_upper_review":
			return "d." + col
		default:
			return "c." + col
		}
	})

	docFilter := ""
	if documentID != nil {
		docFilter = " AND c.document_id = ?"
	}

	vec := pgvector.NewVector(embedding)
	query := chunkSearchQuery(predicate, docFilter)

	args := []interface{}{vec}
	args = append(args, predArgs...)
	if documentID != nil {
		args = append(args, *documentID)
	}
	args = append(args, vec, limit)

	var chunks []models.RetrievedChunk
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&chunks).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return chunks, nil
}

func (s *vectorStoreImpl) SyncApprovalStatus(ctx context.Context, documentID uuid.UUID, status models.ApprovalStatus) error {
	err := s.db.WithContext(ctx).Model(&models.EmbeddingChunk{}).
		Where("document_id = ?", documentID).
		Update("approval_status", status).Error
	if err != nil {
		return fmt.Errorf("failed to sync chunk approval status: %w", err)
	}
	return nil
}

func (s *vectorStoreImpl) DeleteDocumentChunks(ctx context.Context, documentID uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&models.EmbeddingChunk{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *vectorStoreImpl) CountDocumentChunks(ctx context.Context, documentID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.EmbeddingChunk{}).
		Where("document_id = ?", documentID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}
