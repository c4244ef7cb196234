package impl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beacon-core/config"
	"github.com/beacon-core/models"
	"github.com/beacon-core/services"
	"github.com/beacon-core/services/access"
)

// defaultRRFConstant dampens the influence of top ranks in reciprocal rank
// fusion when no constant is configured.
const defaultRRFConstant = 60

type retrieverImpl struct {
	db          *gorm.DB
	embedder    services.Embedder
	vectors     services.VectorStore
	coordinator services.EmbeddingCoordinator
	cache       services.CacheService
	cfg         *config.RetrievalConfig
	cacheTTL    int
}

func NewRetriever(
	db *gorm.DB,
	embedder services.Embedder,
	vectors services.VectorStore,
	coordinator services.EmbeddingCoordinator,
	cache services.CacheService,
	cfg *config.RetrievalConfig,
	cacheTTLSeconds int,
) services.Retriever {
	return &retrieverImpl{
		db:          db,
		embedder:    embedder,
		vectors:     vectors,
		coordinator: coordinator,
		cache:       cache,
		cfg:         cfg,
		cacheTTL:    cacheTTLSeconds,
	}
}

// Retrieve runs the hybrid pipeline. An explicit topK of zero short-circuits
// to an empty result; negative topK means the configured default.
func (s *retrieverImpl) Retrieve(ctx context.Context, viewer models.Viewer, query string, topK int) (*models.RetrievalResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if topK == 0 {
		return &models.RetrievalResult{Chunks: []models.RetrievedChunk{}}, nil
	}
	if topK < 0 {
		topK = s.cfg.TopK
	}

	cacheKey := s.cache.RetrievalCacheKey(viewer, HashQuery(fmt.Sprintf("%s:%d", query, topK)))
	if cached, err := s.cache.GetCachedRetrieval(ctx, cacheKey); err == nil && cached != nil {
		return cached, nil
	}

	start := time.Now()

	// Lazily embed whatever accessible documents this query might need.
	candidates, err := s.findUnembeddedCandidates(ctx, viewer, query)
	if err != nil {
		return nil, err
	}
	degraded := false
	if len(candidates) > 0 {
		ensured := s.coordinator.EnsureMany(ctx, candidates)
		for _, result := range ensured {
			if result != models.EnsureReady {
				degraded = true
				break
			}
		}
	}

	// Both legs run concurrently; a single leg failing degrades the result
	// instead of erroring.
	var (
		vectorChunks []models.RetrievedChunk
		keywordHits  []models.KeywordHit
		vectorErr    error
		keywordErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorChunks, vectorErr = s.vectorLeg(gctx, viewer, query)
		return nil
	})
	g.Go(func() error {
		keywordHits, keywordErr = s.keywordLeg(gctx, viewer, query)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both retrieval legs failed (vector: %v, keyword: %v): %w",
			vectorErr, keywordErr, models.ErrRetrieve)
	}
	if vectorErr != nil {
		log.Printf("retrieval: vector leg failed, serving keyword only: %v", vectorErr)
		degraded = true
	}
	if keywordErr != nil {
		log.Printf("retrieval: keyword leg failed, serving vector only: %v", keywordErr)
		degraded = true
	}

	fused := s.fuse(ctx, vectorChunks, keywordHits)

	// Final approval re-check. The predicate already filtered, but the
	// denormalized columns the legs read may trail a transition that
	// happened mid-query; nothing non-groundable leaves this function.
	filtered := fused[:0]
	for _, chunk := range fused {
		if s.groundable(chunk, viewer) {
			filtered = append(filtered, chunk)
		}
	}

	total := len(filtered)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}

	result := &models.RetrievalResult{
		Chunks:          filtered,
		Degraded:        degraded,
		TotalCandidates: total,
		RetrievalTimeMs: int(time.Since(start).Milliseconds()),
	}

	if err := s.cache.SetCachedRetrieval(ctx, cacheKey, result, s.cacheTTL); err != nil {
		log.Printf("retrieval: failed to cache result: %v", err)
	}

	return result, nil
}

// RetrieveIn searches within a single document. The vector leg runs alone and
// results are never cached; targeted lookups are rare and cheap.
func (s *retrieverImpl) RetrieveIn(ctx context.Context, viewer models.Viewer, documentID uuid.UUID, query string, topK int) (*models.RetrievalResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if topK == 0 {
		return &models.RetrievalResult{Chunks: []models.RetrievedChunk{}}, nil
	}
	if topK < 0 {
		topK = s.cfg.TopK
	}

	start := time.Now()

	degraded := false
	if result, err := s.coordinator.EnsureEmbedded(ctx, documentID, false); err == nil && result != models.EnsureReady {
		degraded = true
	}

	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected one query embedding, got %d", len(embeddings))
	}

	chunks, err := s.vectors.SearchDocument(ctx, viewer, documentID, embeddings[0], s.cfg.VectorLimit)
	if err != nil {
		return nil, err
	}

	filtered := make([]models.RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if s.groundable(chunk, viewer) {
			filtered = append(filtered, chunk)
		}
	}

	total := len(filtered)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}

	return &models.RetrievalResult{
		Chunks:          filtered,
		Degraded:        degraded,
		TotalCandidates: total,
		RetrievalTimeMs: int(time.Since(start).Milliseconds()),
	}, nil
}

// groundable decides whether a chunk may back an answer for this viewer.
// Approved always may; in-review content is configurable; a draft is visible
// to its uploader alone.
func (s *retrieverImpl) groundable(chunk models.RetrievedChunk, viewer models.Viewer) bool {
	switch chunk.ApprovalStatus {
	case models.StatusApproved:
		return true
	case models.StatusPending, models.StatusUnderReview:
		return s.allowPending()
	case models.StatusDraft:
		return viewer.UserID != uuid.Nil && viewer.UserID == chunk.UploaderID
	}
	return false
}

func (s *retrieverImpl) allowPending() bool {
	if s.cfg == nil {
		return true
	}
	return s.cfg.AllowPendingInResults
}

// findUnembeddedCandidates returns accessible, groundable documents that
// still lack embeddings, most plausibly relevant first.
func (s *retrieverImpl) findUnembeddedCandidates(ctx context.Context, viewer models.Viewer, query string) ([]uuid.UUID, error) {
	predicate, args := access.SQLQualified(viewer, func(col string) string { return "d." + col })
	pattern := "%" + query + "%"

	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Table("beacon.documents AS d").
		Joins("JOIN beacon.document_metadata AS m ON m.document_id = d.id").
		Where("d.deleted_at IS NULL").
		Where(predicate, args...).
		Where("(d.approval_status IN ? OR (d.approval_status = ? AND d.uploader_id = ?))",
			[]models.ApprovalStatus{
				models.StatusApproved, models.StatusPending, models.StatusUnderReview,
			}, models.StatusDraft, viewer.UserID).
		Where("m.embedding_status <> ?", models.EmbeddingEmbedded).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "(m.title ILIKE ? OR m.summary ILIKE ?) DESC, d.updated_at DESC",
			Vars:               []interface{}{pattern, pattern},
			WithoutParentheses: true,
		}}).
		Limit(s.cfg.CandidateLimit).
		Pluck("d.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("candidate discovery failed: %w", err)
	}
	return ids, nil
}

func (s *retrieverImpl) vectorLeg(ctx context.Context, viewer models.Viewer, query string) ([]models.RetrievedChunk, error) {
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected one query embedding, got %d", len(embeddings))
	}
	return s.vectors.Search(ctx, viewer, embeddings[0], s.cfg.VectorLimit)
}

// keywordLeg matches the query against document metadata: title, summary and
// the keyword array.
func (s *retrieverImpl) keywordLeg(ctx context.Context, viewer models.Viewer, query string) ([]models.KeywordHit, error) {
	predicate, args := access.SQLQualified(viewer, func(col string) string { return "d." + col })
	pattern := "%" + query + "%"

	type row struct {
		DocumentID uuid.UUID
		Title      string
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("beacon.documents AS d").
		Joins("JOIN beacon.document_metadata AS m ON m.document_id = d.id").
		Where("d.deleted_at IS NULL").
		Where(predicate, args...).
		Where(`(m.title ILIKE ? OR m.summary ILIKE ?
			OR EXISTS (SELECT 1 FROM unnest(m.keywords) AS kw WHERE kw ILIKE ?))`,
			pattern, pattern, pattern).
		Select("d.id AS document_id, m.title").
		Order("d.updated_at DESC").
		Limit(s.cfg.KeywordLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]models.KeywordHit, len(rows))
	for i, r := range rows {
		hits[i] = models.KeywordHit{DocumentID: r.DocumentID, Title: r.Title, Rank: i}
	}
	return hits, nil
}

type fusionKey struct {
	documentID uuid.UUID
	chunkIndex int
}

// fuse merges the two legs with reciprocal rank fusion. Keyword hits carry no
// chunk, so they fuse at the document's first chunk.
func (s *retrieverImpl) fuse(ctx context.Context, vectorChunks []models.RetrievedChunk, keywordHits []models.KeywordHit) []models.RetrievedChunk {
	merged := make(map[fusionKey]*models.RetrievedChunk)

	k := s.rrfK()
	for rank, chunk := range vectorChunks {
		chunk := chunk
		chunk.Score = rrfScore(k, rank)
		merged[fusionKey{chunk.DocumentID, chunk.ChunkIndex}] = &chunk
	}

	for _, hit := range keywordHits {
		key := fusionKey{hit.DocumentID, 0}
		if existing, ok := merged[key]; ok {
			existing.Score += rrfScore(k, hit.Rank)
			continue
		}
		if chunk := s.loadFirstChunk(ctx, hit.DocumentID); chunk != nil {
			chunk.Title = hit.Title
			chunk.Score = rrfScore(k, hit.Rank)
			merged[key] = chunk
		}
	}

	fused := make([]models.RetrievedChunk, 0, len(merged))
	for _, chunk := range merged {
		fused = append(fused, *chunk)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].DocumentID != fused[j].DocumentID {
			return fused[i].DocumentID.String() < fused[j].DocumentID.String()
		}
		return fused[i].ChunkIndex < fused[j].ChunkIndex
	})
	return fused
}

func (s *retrieverImpl) rrfK() int {
	if s.cfg != nil && s.cfg.RRFConstant > 0 {
		return s.cfg.RRFConstant
	}
	return defaultRRFConstant
}

func rrfScore(k, rank int) float64 {
	return 1.0 / float64(k+rank+1)
}

// loadFirstChunk fetches chunk 0 for a keyword-only hit. Documents without
// chunks (not yet embedded) contribute nothing to fusion.
func (s *retrieverImpl) loadFirstChunk(ctx context.Context, documentID uuid.UUID) *models.RetrievedChunk {
	var chunk models.RetrievedChunk
	err := s.db.WithContext(ctx).
		Table("beacon.embedding_chunks AS c").
		Joins("JOIN beacon.documents AS d ON d.id = c.document_id").
		Where("c.document_id = ? AND c.chunk_index = 0", documentID).
		Select("c.document_id, c.chunk_index, c.text, c.visibility, c.institution_id, c.approval_status, d.uploader_id").
		Take(&chunk).Error
	if err != nil {
		return nil
	}
	return &chunk
}
