package embeddb

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embeddb/distance"
	"github.com/hupe1980/embeddb/payload"
	"github.com/hupe1980/embeddb/resource"
)

// fakeEmbedder maps known texts onto fixed vectors. A batch containing
// failText (or any unknown text) fails as a whole, the way a provider call
// fails.
type fakeEmbedder struct {
	vectors  map[string][]float32
	failText string
	failErr  error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failText != "" && text == f.failText {
			return nil, f.failErr
		}

		v, ok := f.vectors[text]
		if !ok {
			return nil, errors.New("unknown text")
		}
		out[i] = v
	}

	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}

type fakeChat struct {
	prompt string
	tokens []string
}

func (f *fakeChat) Chat(_ context.Context, prompt string, onToken func(token string)) (string, error) {
	f.prompt = prompt

	var sb strings.Builder
	for _, tok := range f.tokens {
		if onToken != nil {
			onToken(tok)
		}
		sb.WriteString(tok)
	}

	return sb.String(), nil
}

func newCorpusEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"go is compiled":     {1, 0, 0},
		"python is dynamic":  {0, 1, 0},
		"rust is borrowed":   {0, 0, 1},
		"what compiles fast": {0.9, 0.1, 0},
	}}
}

func TestAddTextsAndSimilaritySearch(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(3, distance.Cosine,
		WithEmbedder(newCorpusEmbedder()),
		WithResourceController(resource.NewController(resource.Config{MaxConcurrentCalls: 2})),
	)
	require.NoError(t, err)

	texts := []string{"go is compiled", "python is dynamic", "rust is borrowed"}
	ids := []string{"go", "py", "rs"}
	payloads := []payload.Payload{
		{"lang": payload.String("go")},
		{"lang": payload.String("python")},
		{"lang": payload.String("rust")},
	}

	report, err := db.AddTexts(ctx, texts, ids, payloads)
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 3)
	assert.Empty(t, report.Failed)

	results, err := db.SimilaritySearch(ctx, "what compiles fast", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "go", results[0].ID)
	assert.Equal(t, "go is compiled", results[0].Record.Content)

	rec, err := db.Get(ctx, "py")
	require.NoError(t, err)
	assert.Equal(t, payload.String("python"), rec.Payload["lang"])
}

func TestAddTextsLengthMismatch(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(3, distance.Cosine, WithEmbedder(newCorpusEmbedder()))
	require.NoError(t, err)

	_, err = db.AddTexts(ctx, []string{"a", "b"}, []string{"only-one"}, nil)
	require.ErrorIs(t, err, ErrArgumentMismatch)

	_, err = db.AddTexts(ctx, []string{"a"}, []string{"id"}, []payload.Payload{{}, {}})
	require.ErrorIs(t, err, ErrArgumentMismatch)
}

func TestAddTextsWithoutEmbedder(t *testing.T) {
	db, err := NewFlat(3, distance.Cosine)
	require.NoError(t, err)

	_, err = db.AddTexts(context.Background(), []string{"a"}, []string{"a"}, nil)
	require.ErrorIs(t, err, ErrNoEmbedder)

	_, err = db.SimilaritySearch(context.Background(), "a", 1)
	require.ErrorIs(t, err, ErrNoEmbedder)
}

func TestAddTextsSiblingsSurviveEmbedFailure(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("model overloaded")

	embedder := newCorpusEmbedder()
	embedder.failText = "bad"
	embedder.failErr = cause

	db, err := NewFlat(3, distance.Cosine,
		WithEmbedder(embedder),
		WithEmbedBatchSize(1),
	)
	require.NoError(t, err)

	report, err := db.AddTexts(ctx,
		[]string{"go is compiled", "bad", "python is dynamic"},
		[]string{"go", "broken", "py"}, nil)
	require.NoError(t, err)

	// The failing text is reported per item; its siblings still land.
	assert.ElementsMatch(t, []string{"go", "py"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed["broken"], ErrEmbeddingFailure)
	require.ErrorIs(t, report.Failed["broken"], cause)

	assert.Equal(t, 2, db.Len())
	_, err = db.Get(ctx, "broken")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddTextsBatchFailureMarksWholeBatch(t *testing.T) {
	ctx := context.Background()

	embedder := newCorpusEmbedder()
	embedder.failText = "bad"
	embedder.failErr = errors.New("model overloaded")

	db, err := NewFlat(3, distance.Cosine,
		WithEmbedder(embedder),
		WithEmbedBatchSize(2),
	)
	require.NoError(t, err)

	// Texts 0 and 1 share the failing batch; text 2 is its own batch.
	report, err := db.AddTexts(ctx,
		[]string{"go is compiled", "bad", "python is dynamic"},
		[]string{"go", "broken", "py"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"py"}, report.Succeeded)
	require.Len(t, report.Failed, 2)
	require.ErrorIs(t, report.Failed["go"], ErrEmbeddingFailure)
	require.ErrorIs(t, report.Failed["broken"], ErrEmbeddingFailure)
}

func TestSimilaritySearchEmbedFailure(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("model overloaded")

	embedder := newCorpusEmbedder()
	embedder.failText = "what compiles fast"
	embedder.failErr = cause

	db, err := NewFlat(3, distance.Cosine, WithEmbedder(embedder))
	require.NoError(t, err)

	_, err = db.SimilaritySearch(ctx, "what compiles fast", 1)
	require.ErrorIs(t, err, ErrEmbeddingFailure)
	require.ErrorIs(t, err, cause)
}

func TestAddDocumentsEmbedsOnlyMissing(t *testing.T) {
	ctx := context.Background()

	db, err := NewFlat(3, distance.Cosine, WithEmbedder(newCorpusEmbedder()))
	require.NoError(t, err)

	docs := []Document{
		{ID: "pre", Content: "anything", Embedding: []float32{0, 0, 1}},
		{ID: "go", Content: "go is compiled"},
	}

	report, err := db.AddDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 2)

	rec, err := db.Get(ctx, "pre")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, rec.Vector)
}

func TestAddDocumentsSiblingsSurviveEmbedFailure(t *testing.T) {
	ctx := context.Background()

	embedder := newCorpusEmbedder()
	embedder.failText = "bad"
	embedder.failErr = errors.New("model overloaded")

	db, err := NewFlat(3, distance.Cosine,
		WithEmbedder(embedder),
		WithEmbedBatchSize(1),
	)
	require.NoError(t, err)

	report, err := db.AddDocuments(ctx, []Document{
		{ID: "pre", Content: "anything", Embedding: []float32{0, 0, 1}},
		{ID: "bad-doc", Content: "bad"},
		{ID: "go", Content: "go is compiled"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"pre", "go"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	require.ErrorIs(t, report.Failed["bad-doc"], ErrEmbeddingFailure)

	assert.Equal(t, 2, db.Len())
}

func TestAskStreamsTokensAndReturnsSources(t *testing.T) {
	ctx := context.Background()
	chat := &fakeChat{tokens: []string{"Go ", "compiles ", "fast."}}

	db, err := NewFlat(3, distance.Cosine,
		WithEmbedder(newCorpusEmbedder()),
		WithChatClient(chat),
	)
	require.NoError(t, err)

	_, err = db.AddTexts(ctx,
		[]string{"go is compiled", "python is dynamic"},
		[]string{"go", "py"}, nil)
	require.NoError(t, err)

	var streamed []string
	answer, sources, err := db.Ask(ctx, "what compiles fast", 1, func(token string) {
		streamed = append(streamed, token)
	})
	require.NoError(t, err)

	assert.Equal(t, "Go compiles fast.", answer)
	assert.Equal(t, []string{"Go ", "compiles ", "fast."}, streamed)

	require.Len(t, sources, 1)
	assert.Equal(t, "go", sources[0].ID)

	assert.Contains(t, chat.prompt, "go is compiled")
	assert.Contains(t, chat.prompt, "what compiles fast")
}

func TestAskWithoutChatClient(t *testing.T) {
	db, err := NewFlat(3, distance.Cosine, WithEmbedder(newCorpusEmbedder()))
	require.NoError(t, err)

	_, _, err = db.Ask(context.Background(), "q", 1, nil)
	require.ErrorIs(t, err, ErrNoChatClient)
}

func TestEmbedBatchesSplitsInput(t *testing.T) {
	ctx := context.Background()

	embedder := &countingEmbedder{dim: 3}
	db, err := NewFlat(3, distance.Euclidean,
		WithEmbedder(embedder),
		WithEmbedBatchSize(4),
	)
	require.NoError(t, err)

	texts := make([]string, 10)
	ids := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
		ids[i] = texts[i]
	}

	report, err := db.AddTexts(ctx, texts, ids, nil)
	require.NoError(t, err)
	assert.Len(t, report.Succeeded, 10)

	// 10 texts at batch size 4 means 3 embedder calls.
	assert.Equal(t, int64(3), embedder.calls.Load())
}

type countingEmbedder struct {
	dim   int
	calls atomic.Int64
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, c.dim)
		v[0] = float32(len(text))
		out[i] = v
	}

	return out, nil
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vecs[0], nil
}
