package embeddb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/embeddb/engine"
	"github.com/hupe1980/embeddb/index"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned by Insert when the id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrArgumentMismatch is returned when parallel argument slices have
	// different lengths.
	ErrArgumentMismatch = errors.New("argument length mismatch")

	// ErrEmbeddingFailure is returned when the embedder fails. The search
	// never substitutes a zero vector for a failed embedding.
	ErrEmbeddingFailure = errors.New("embedding failed")

	// ErrNoEmbedder is returned by text operations when no embedder is
	// configured.
	ErrNoEmbedder = errors.New("no embedder configured")

	// ErrNoChatClient is returned by Ask when no chat client is configured.
	ErrNoChatClient = errors.New("no chat client configured")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// NotFoundIDs extracts the missing ids from a multi-get error. It returns
// nil when err carries no id information.
func NotFoundIDs(err error) []string {
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		return nf.IDs
	}

	return nil
}

// translateError maps engine and index errors onto the public taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, engine.ErrDuplicateID) {
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	}

	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
