package embeddb

import (
	"context"

	"github.com/hupe1980/embeddb/payload"
)

// Embedder turns text into embedding vectors. Implementations typically
// call a remote model provider; the database never invokes them while
// holding internal locks.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChatClient generates an answer for a prompt. Tokens are streamed through
// onToken as they arrive; the full answer is returned at the end.
type ChatClient interface {
	Chat(ctx context.Context, prompt string, onToken func(token string)) (string, error)
}

// Document is a text unit for AddDocuments. If Embedding is nil the
// configured embedder computes it.
type Document struct {
	ID        string
	Content   string
	Payload   payload.Payload
	Embedding []float32
}
