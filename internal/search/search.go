// Package search implements hybrid retrieval over the grounding document
// store: semantic similarity and keyword rank are computed independently and
// blended into one score per document.
package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/partsflow/partsflow/internal/fault"
)

// Hit is one scored document from an index.
type Hit struct {
	DocumentID int64
	Content    string
	Source     string
	Score      float64
	UpdatedAt  time.Time
}

// Embedder turns query text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex answers nearest-neighbor queries over document embeddings.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, limit int) ([]Hit, error)
}

// KeywordIndex answers full-text queries over document content.
type KeywordIndex interface {
	Query(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Hybrid blends both indexes. Each index contributes its own score in [0,1];
// the combined score weights keyword rank by weight and semantic similarity
// by 1-weight. When one index fails the other still answers; the search
// fails only when both do.
type Hybrid struct {
	embedder Embedder
	vector   VectorIndex
	keyword  KeywordIndex
	weight   float64
	topK     int
	logger   *slog.Logger
}

// NewHybrid creates a Hybrid searcher. weight is the keyword share of the
// combined score.
func NewHybrid(embedder Embedder, vector VectorIndex, keyword KeywordIndex, weight float64, topK int, logger *slog.Logger) *Hybrid {
	if logger == nil {
		logger = slog.Default()
	}
	if weight < 0 || weight > 1 {
		weight = 0.3
	}
	if topK <= 0 {
		topK = 5
	}
	return &Hybrid{
		embedder: embedder,
		vector:   vector,
		keyword:  keyword,
		weight:   weight,
		topK:     topK,
		logger:   logger,
	}
}

// Search runs both indexes for query and returns the topK blended hits,
// highest score first. Ties break toward the most recently updated document.
func (h *Hybrid) Search(ctx context.Context, query string) ([]Hit, error) {
	// Each index is asked for twice the final budget so a document strong in
	// only one signal still survives the merge.
	candidates := 2 * h.topK

	var (
		wg      sync.WaitGroup
		vecHits []Hit
		kwHits  []Hit
		vecErr  error
		kwErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		embedding, err := h.embedder.Embed(ctx, query)
		if err != nil {
			vecErr = err
			return
		}
		vecHits, vecErr = h.vector.Query(ctx, embedding, candidates)
	}()
	go func() {
		defer wg.Done()
		kwHits, kwErr = h.keyword.Query(ctx, query, candidates)
	}()
	wg.Wait()

	if vecErr != nil && kwErr != nil {
		return nil, fault.Wrap(fault.Classify(kwErr), kwErr, "both retrieval indexes failed (vector: %v)", vecErr)
	}
	if vecErr != nil {
		h.logger.Warn("vector index unavailable, keyword-only retrieval", "error", vecErr)
	}
	if kwErr != nil {
		h.logger.Warn("keyword index unavailable, vector-only retrieval", "error", kwErr)
	}

	return h.merge(vecHits, kwHits), nil
}

// merge outer-joins the two hit lists by document id and blends scores. A
// document absent from one index contributes zero for that signal.
func (h *Hybrid) merge(vecHits, kwHits []Hit) []Hit {
	type blended struct {
		hit     Hit
		vector  float64
		keyword float64
	}
	byID := make(map[int64]*blended, len(vecHits)+len(kwHits))

	for _, hit := range vecHits {
		byID[hit.DocumentID] = &blended{hit: hit, vector: hit.Score}
	}
	for _, hit := range kwHits {
		if b, ok := byID[hit.DocumentID]; ok {
			b.keyword = hit.Score
		} else {
			byID[hit.DocumentID] = &blended{hit: hit, keyword: hit.Score}
		}
	}

	out := make([]Hit, 0, len(byID))
	for _, b := range byID {
		hit := b.hit
		hit.Score = b.vector*(1-h.weight) + b.keyword*h.weight
		out = append(out, hit)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if len(out) > h.topK {
		out = out[:h.topK]
	}
	return out
}
