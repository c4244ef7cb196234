package models

import "errors"

// Error kinds propagated through the core. Services translate store-level
// failures into this taxonomy; handlers map them onto HTTP status codes.
var (
	// ErrUnauthenticated means the caller identity is missing or invalid.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized means the viewer cannot access the resource. Callers
	// must not leak resource existence beyond this error.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the resource does not exist or is soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means a workflow transition is not permitted from
	// the document's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotReady means the document's embeddings are still being built.
	// Callers may retry; the retriever treats this as non-fatal.
	ErrNotReady = errors.New("embedding not ready")

	// ErrEmbedFailed means a previous embedding build failed and a retry was
	// not requested.
	ErrEmbedFailed = errors.New("embedding failed")

	// ErrTransient is a retryable network or database fault.
	ErrTransient = errors.New("transient failure")

	// ErrTooLarge means a fetched document exceeds the configured byte cap.
	ErrTooLarge = errors.New("document too large")

	// ErrEmbedder means the embedding model call failed.
	ErrEmbedder = errors.New("embedder error")

	// ErrDimensionMismatch means a vector's dimension does not match the
	// store's configured dimension. Raised before any row is written.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrRetrieve means both retrieval legs failed.
	ErrRetrieve = errors.New("retrieval failed")
)
