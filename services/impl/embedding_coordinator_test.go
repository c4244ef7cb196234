package impl

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-core/models"
)

// stubDocumentStore implements the document-side surface the coordinator
// touches; the rest of the interface panics if reached.
type stubDocumentStore struct {
	mu sync.Mutex

	docs  map[uuid.UUID]*models.Document
	meta  map[uuid.UUID]*models.DocumentMetadata
	texts map[uuid.UUID]string

	claimResult bool
	claimErr    error
	claimCalls  int
	failCalls   int

	// finishOnLostClaim simulates a competing builder completing while this
	// caller queued for the claim.
	finishOnLostClaim bool
}

func newStubDocumentStore() *stubDocumentStore {
	return &stubDocumentStore{
		docs:        make(map[uuid.UUID]*models.Document),
		meta:        make(map[uuid.UUID]*models.DocumentMetadata),
		texts:       make(map[uuid.UUID]string),
		claimResult: true,
	}
}

func (s *stubDocumentStore) addDocument(text string, status models.EmbeddingStatus) uuid.UUID {
	id := uuid.New()
	s.docs[id] = &models.Document{ID: id, ObjectURL: "https://objects.local/" + id.String()}
	s.meta[id] = &models.DocumentMetadata{DocumentID: id, EmbeddingStatus: status}
	if text != "" {
		s.texts[id] = text
	}
	return id
}

func (s *stubDocumentStore) GetMetadata(_ context.Context, id uuid.UUID) (*models.DocumentMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *stubDocumentStore) GetDocumentForEmbedding(_ context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return d, nil
}

func (s *stubDocumentStore) GetDocumentText(_ context.Context, id uuid.UUID) (*models.DocumentText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.texts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.DocumentText{DocumentID: id, Text: text}, nil
}

func (s *stubDocumentStore) ClaimEmbedding(_ context.Context, id uuid.UUID, retry bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimCalls++
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if s.meta[id].EmbeddingStatus == models.EmbeddingFailed && !retry {
		return false, nil
	}
	if s.claimResult {
		s.meta[id].EmbeddingStatus = models.EmbeddingInProgress
	} else if s.finishOnLostClaim {
		s.meta[id].EmbeddingStatus = models.EmbeddingEmbedded
	}
	return s.claimResult, nil
}

func (s *stubDocumentStore) FailEmbedding(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCalls++
	s.meta[id].EmbeddingStatus = models.EmbeddingFailed
	return nil
}

func (s *stubDocumentStore) CreateDocument(context.Context, models.CreateDocumentRequest, models.Viewer) (*models.Document, error) {
	panic("not used")
}
func (s *stubDocumentStore) GetDocument(context.Context, uuid.UUID, models.Viewer) (*models.Document, *models.DocumentMetadata, error) {
	panic("not used")
}
func (s *stubDocumentStore) ListDocuments(context.Context, models.DocumentListFilter, models.Viewer) (*models.DocumentListResponse, error) {
	panic("not used")
}
func (s *stubDocumentStore) DeleteDocument(context.Context, uuid.UUID, models.Viewer) error {
	panic("not used")
}
func (s *stubDocumentStore) Transition(context.Context, uuid.UUID, models.TransitionRequest, models.Viewer) (*models.Document, error) {
	panic("not used")
}

type stubObjectStore struct {
	payload []byte
	err     error
	calls   int
}

func (s *stubObjectStore) Fetch(context.Context, string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }

type stubVectorStore struct {
	mu      sync.Mutex
	upserts map[uuid.UUID]int // document -> chunk count written
	err     error
}

func newStubVectorStore() *stubVectorStore {
	return &stubVectorStore{upserts: make(map[uuid.UUID]int)}
}

func (s *stubVectorStore) UpsertDocumentChunks(_ context.Context, doc *models.Document, texts []string, _ [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.upserts[doc.ID] = len(texts)
	return nil
}

func (s *stubVectorStore) Search(context.Context, models.Viewer, []float32, int) ([]models.RetrievedChunk, error) {
	panic("not used")
}
func (s *stubVectorStore) SearchDocument(context.Context, models.Viewer, uuid.UUID, []float32, int) ([]models.RetrievedChunk, error) {
	panic("not used")
}
func (s *stubVectorStore) SyncApprovalStatus(context.Context, uuid.UUID, models.ApprovalStatus) error {
	panic("not used")
}
func (s *stubVectorStore) DeleteDocumentChunks(context.Context, uuid.UUID) error {
	panic("not used")
}
func (s *stubVectorStore) CountDocumentChunks(context.Context, uuid.UUID) (int64, error) {
	panic("not used")
}

func newTestCoordinator(docs *stubDocumentStore, objects *stubObjectStore, embedder *stubEmbedder, vectors *stubVectorStore, builds int) *embeddingCoordinatorImpl {
	return NewEmbeddingCoordinator(docs, objects, NewChunker(1600, 200), embedder, vectors, builds).(*embeddingCoordinatorImpl)
}

func TestEnsureEmbeddedAlreadyEmbedded(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("irrelevant", models.EmbeddingEmbedded)
	coord := newTestCoordinator(docs, &stubObjectStore{}, &stubEmbedder{}, newStubVectorStore(), 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureReady, result)
	assert.Zero(t, docs.claimCalls, "embedded documents must not be claimed")
}

func TestEnsureEmbeddedBuildsOnDemand(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("the ministry publishes a new grading circular", models.EmbeddingNotEmbedded)
	vectors := newStubVectorStore()
	embedder := &stubEmbedder{}
	coord := newTestCoordinator(docs, &stubObjectStore{}, embedder, vectors, 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureReady, result)
	assert.Equal(t, 1, docs.claimCalls)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, 1, vectors.upserts[id])
}

func TestEnsureEmbeddedLostClaimStillInProgress(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("text", models.EmbeddingInProgress)
	docs.claimResult = false
	coord := newTestCoordinator(docs, &stubObjectStore{}, &stubEmbedder{}, newStubVectorStore(), 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureNotReady, result)
}

func TestEnsureEmbeddedLostClaimButFinished(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("text", models.EmbeddingInProgress)
	docs.claimResult = false
	docs.finishOnLostClaim = true
	coord := newTestCoordinator(docs, &stubObjectStore{}, &stubEmbedder{}, newStubVectorStore(), 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureReady, result)
	assert.Zero(t, docs.failCalls)
}

func TestEnsureEmbeddedBuildFailureReleasesClaim(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("text that will fail to embed", models.EmbeddingNotEmbedded)
	embedder := &stubEmbedder{err: errors.New("model overloaded")}
	coord := newTestCoordinator(docs, &stubObjectStore{}, embedder, newStubVectorStore(), 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	assert.Equal(t, models.EnsureFailed, result)
	assert.True(t, errors.Is(err, models.ErrEmbedFailed))
	assert.Equal(t, 1, docs.failCalls, "claim must be released on failure")
}

func TestEnsureEmbeddedSaturatedPoolReportsNotReady(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("text", models.EmbeddingNotEmbedded)
	coord := newTestCoordinator(docs, &stubObjectStore{}, &stubEmbedder{}, newStubVectorStore(), 1)

	// Occupy the only build slot.
	coord.tokens <- struct{}{}
	defer func() { <-coord.tokens }()

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureNotReady, result)
	assert.Zero(t, docs.claimCalls, "saturation must not leave an orphaned claim")
}

func TestEnsureEmbeddedEmptyDocumentStillEmbeds(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("", models.EmbeddingNotEmbedded)
	objects := &stubObjectStore{payload: []byte("   ")}
	vectors := newStubVectorStore()
	embedder := &stubEmbedder{}
	coord := newTestCoordinator(docs, objects, embedder, vectors, 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureReady, result)
	assert.Zero(t, embedder.calls, "nothing to embed")
	count, ok := vectors.upserts[id]
	assert.True(t, ok, "empty documents still flip to embedded")
	assert.Zero(t, count)
}

func TestEnsureEmbeddedFallsBackToObjectStore(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("", models.EmbeddingNotEmbedded)
	objects := &stubObjectStore{payload: []byte("raw bytes fetched from the object store")}
	vectors := newStubVectorStore()
	coord := newTestCoordinator(docs, objects, &stubEmbedder{}, vectors, 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureReady, result)
	assert.Equal(t, 1, objects.calls)
	assert.Equal(t, 1, vectors.upserts[id])
}

func TestEnsureEmbeddedFailedStaysFailedWithoutRetry(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("text from a build that broke", models.EmbeddingFailed)
	embedder := &stubEmbedder{}
	coord := newTestCoordinator(docs, &stubObjectStore{}, embedder, newStubVectorStore(), 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, false)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureFailed, result)
	assert.Zero(t, docs.claimCalls, "a failed build must not be re-claimed without retry")
	assert.Zero(t, embedder.calls)
}

func TestEnsureEmbeddedRetryRebuildsFailed(t *testing.T) {
	docs := newStubDocumentStore()
	id := docs.addDocument("text from a build that broke", models.EmbeddingFailed)
	vectors := newStubVectorStore()
	embedder := &stubEmbedder{}
	coord := newTestCoordinator(docs, &stubObjectStore{}, embedder, vectors, 2)

	result, err := coord.EnsureEmbedded(context.Background(), id, true)
	require.NoError(t, err)
	assert.Equal(t, models.EnsureReady, result)
	assert.Equal(t, 1, docs.claimCalls)
	assert.Equal(t, 1, vectors.upserts[id])
}

func TestEnsureManyAggregatesPerDocument(t *testing.T) {
	docs := newStubDocumentStore()
	ready := docs.addDocument("already done", models.EmbeddingEmbedded)
	pending := docs.addDocument("needs a build", models.EmbeddingNotEmbedded)
	coord := newTestCoordinator(docs, &stubObjectStore{}, &stubEmbedder{}, newStubVectorStore(), 2)

	results := coord.EnsureMany(context.Background(), []uuid.UUID{ready, pending})
	assert.Len(t, results, 2)
	assert.Equal(t, models.EnsureReady, results[ready])
	assert.Equal(t, models.EnsureReady, results[pending])
}

func TestExtractTextSanitizesInvalidUTF8(t *testing.T) {
	assert.Equal(t, "plain text", extractText([]byte("plain text")))
	assert.Equal(t, "ab", extractText([]byte{'a', 0xff, 'b'}))
}
