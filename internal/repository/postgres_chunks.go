package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresChunkStore is a PostgreSQL implementation of the ChunkStore
// interface, backed by pgvector cosine distance.
type PostgresChunkStore struct {
	db *pgxpool.Pool
}

// NewPostgresChunkStore creates a new PostgresChunkStore.
func NewPostgresChunkStore(db *pgxpool.Pool) *PostgresChunkStore {
	return &PostgresChunkStore{db: db}
}

func (s *PostgresChunkStore) UpsertChunk(ctx context.Context, tenantID, label, content string, embedding []float32) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO context_chunks (id, tenant_id, label, content, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, label) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
		uuid.New().String(), tenantID, label, content, pgvector.NewVector(embedding))
	return err
}

func (s *PostgresChunkStore) SearchChunks(ctx context.Context, tenantID string, embedding []float32, k int) ([]Chunk, error) {
	if k <= 0 {
		k = 5
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, label, content FROM context_chunks
		 WHERE tenant_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2 LIMIT $3`,
		tenantID, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Label, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
