package embeddb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/embeddb/payload"
)

// SimilaritySearch embeds the query text and returns the k nearest records.
// A failing embedder surfaces as ErrEmbeddingFailure; no fallback vector is
// ever substituted.
func (db *DB) SimilaritySearch(ctx context.Context, text string, k int, optFns ...func(o *QueryOptions)) ([]QueryResult, error) {
	q, err := db.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	return db.SimilaritySearchByVector(ctx, q, k, optFns...)
}

// AddTexts embeds texts in bounded concurrent batches and upserts them
// under the given ids. payloads may be nil; otherwise all three slices must
// have the same length.
func (db *DB) AddTexts(ctx context.Context, texts, ids []string, payloads []payload.Payload) (UpsertReport, error) {
	if db.opts.embedder == nil {
		return UpsertReport{}, ErrNoEmbedder
	}

	if len(ids) != len(texts) {
		return UpsertReport{}, fmt.Errorf("%w: %d texts but %d ids", ErrArgumentMismatch, len(texts), len(ids))
	}

	if payloads != nil && len(payloads) != len(texts) {
		return UpsertReport{}, fmt.Errorf("%w: %d texts but %d payloads", ErrArgumentMismatch, len(texts), len(payloads))
	}

	vectors, embedErrs, err := db.embedBatches(ctx, texts)
	if err != nil {
		return UpsertReport{}, err
	}

	recs := make([]Record, 0, len(texts))

	var failed map[string]error
	for i := range texts {
		if embedErrs[i] != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[ids[i]] = embedErrs[i]

			continue
		}

		rec := Record{ID: ids[i], Vector: vectors[i], Content: texts[i]}
		if payloads != nil {
			rec.Payload = payloads[i]
		}
		recs = append(recs, rec)
	}

	report, err := db.UpsertMany(ctx, recs)
	mergeFailed(&report, failed)

	return report, err
}

// mergeFailed folds embedding failures into an upsert report.
func mergeFailed(report *UpsertReport, failed map[string]error) {
	if len(failed) == 0 {
		return
	}

	if report.Failed == nil {
		report.Failed = make(map[string]error, len(failed))
	}
	for id, err := range failed {
		report.Failed[id] = err
	}
}

// AddDocuments upserts documents, embedding those without a vector.
func (db *DB) AddDocuments(ctx context.Context, docs []Document) (UpsertReport, error) {
	var (
		missingIdx   []int
		missingTexts []string
	)
	for i, doc := range docs {
		if doc.Embedding == nil {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, doc.Content)
		}
	}

	embeddings := make(map[int][]float32, len(missingIdx))

	var failed map[string]error
	if len(missingIdx) > 0 {
		if db.opts.embedder == nil {
			return UpsertReport{}, ErrNoEmbedder
		}

		vectors, embedErrs, err := db.embedBatches(ctx, missingTexts)
		if err != nil {
			return UpsertReport{}, err
		}

		for j, i := range missingIdx {
			if embedErrs[j] != nil {
				if failed == nil {
					failed = make(map[string]error)
				}
				failed[docs[i].ID] = embedErrs[j]

				continue
			}

			embeddings[i] = vectors[j]
		}
	}

	recs := make([]Record, 0, len(docs))
	for i, doc := range docs {
		vec := doc.Embedding
		if vec == nil {
			var ok bool
			if vec, ok = embeddings[i]; !ok {
				continue
			}
		}

		recs = append(recs, Record{ID: doc.ID, Vector: vec, Payload: doc.Payload, Content: doc.Content})
	}

	report, err := db.UpsertMany(ctx, recs)
	mergeFailed(&report, failed)

	return report, err
}

// Ask retrieves the k records closest to the question, builds a grounded
// prompt from their content and streams the chat client's answer through
// onToken. It returns the full answer and the records used as context.
func (db *DB) Ask(ctx context.Context, question string, k int, onToken func(token string)) (string, []QueryResult, error) {
	if db.opts.chat == nil {
		return "", nil, ErrNoChatClient
	}

	results, err := db.SimilaritySearch(ctx, question, k)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below.\n\nContext:\n")
	for _, res := range results {
		sb.WriteString("- ")
		sb.WriteString(res.Record.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)

	answer, err := db.opts.chat.Chat(ctx, sb.String(), onToken)
	if err != nil {
		return "", results, err
	}

	return answer, results, nil
}

// embedQuery embeds a single text under the resource controller.
func (db *DB) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if db.opts.embedder == nil {
		return nil, ErrNoEmbedder
	}

	if err := db.opts.controller.Acquire(ctx); err != nil {
		return nil, err
	}
	defer db.opts.controller.Release()

	start := time.Now()
	q, err := db.opts.embedder.EmbedQuery(ctx, text)

	db.metrics.RecordEmbedding(1, time.Since(start), err)
	db.logger.LogEmbedding(ctx, 1, err)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	return q, nil
}

// embedBatches embeds texts in batches of embedBatchSize, running batches
// concurrently under the resource controller. Embedding happens before any
// store or index lock is taken.
//
// A failing batch marks only its own texts in the returned error slice;
// sibling batches keep running. The error return is reserved for context
// cancellation, which aborts the whole call.
func (db *DB) embedBatches(ctx context.Context, texts []string) ([][]float32, []error, error) {
	vectors := make([][]float32, len(texts))
	embedErrs := make([]error, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	batch := db.opts.embedBatchSize

	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))

		g.Go(func() error {
			if err := db.opts.controller.Acquire(gctx); err != nil {
				return err
			}
			defer db.opts.controller.Release()

			t0 := time.Now()
			vecs, err := db.opts.embedder.EmbedDocuments(gctx, texts[start:end])

			db.metrics.RecordEmbedding(end-start, time.Since(t0), err)
			db.logger.LogEmbedding(gctx, end-start, err)

			if err == nil && len(vecs) != end-start {
				err = fmt.Errorf("got %d vectors for %d texts", len(vecs), end-start)
			}

			if err != nil {
				wrapped := fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
				for i := start; i < end; i++ {
					embedErrs[i] = wrapped
				}

				return nil
			}

			copy(vectors[start:end], vecs)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return vectors, embedErrs, nil
}
