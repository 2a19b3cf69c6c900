package search

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresVectorIndex answers similarity queries with pgvector cosine
// distance. Scores are 1-distance, so identical embeddings score 1.
type PostgresVectorIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresVectorIndex creates a PostgresVectorIndex.
func NewPostgresVectorIndex(pool *pgxpool.Pool) *PostgresVectorIndex {
	return &PostgresVectorIndex{pool: pool}
}

// Query returns the limit nearest documents to embedding.
func (idx *PostgresVectorIndex) Query(ctx context.Context, embedding []float32, limit int) ([]Hit, error) {
	const q = `
		SELECT id, content, source, 1 - (embedding <=> $1) AS score, updated_at
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := idx.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("vector index query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocumentID, &h.Content, &h.Source, &h.Score, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector index rows: %w", err)
	}
	return hits, nil
}

// PostgresKeywordIndex answers full-text queries over the documents table's
// tsvector column. ts_rank is normalized by document length so scores stay
// comparable with the vector side.
type PostgresKeywordIndex struct {
	pool   *pgxpool.Pool
	config string // text search configuration, e.g. "spanish"
}

// NewPostgresKeywordIndex creates a PostgresKeywordIndex. config selects the
// text search configuration; empty defaults to spanish.
func NewPostgresKeywordIndex(pool *pgxpool.Pool, config string) *PostgresKeywordIndex {
	if config == "" {
		config = "spanish"
	}
	return &PostgresKeywordIndex{pool: pool, config: config}
}

// Query returns the limit best keyword matches for query.
func (idx *PostgresKeywordIndex) Query(ctx context.Context, query string, limit int) ([]Hit, error) {
	const q = `
		SELECT id, content, source,
		       ts_rank_cd(search_vector, plainto_tsquery($1::regconfig, $2), 32) AS score,
		       updated_at
		FROM documents
		WHERE search_vector @@ plainto_tsquery($1::regconfig, $2)
		ORDER BY score DESC, updated_at DESC
		LIMIT $3`

	rows, err := idx.pool.Query(ctx, q, idx.config, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword index query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocumentID, &h.Content, &h.Source, &h.Score, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword index rows: %w", err)
	}
	return hits, nil
}

var (
	_ VectorIndex  = (*PostgresVectorIndex)(nil)
	_ KeywordIndex = (*PostgresKeywordIndex)(nil)
)
