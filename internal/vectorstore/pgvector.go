package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// PGConfig configures the pgvector backend.
type PGConfig struct {
	URL        string
	MaxConns   int
	Dimension  int
	IndexLists int // ivfflat lists parameter
}

// PGVector implements Store on Postgres with the vector extension.
type PGVector struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *zap.Logger
}

// NewPGVector connects to Postgres and ensures the chunk schema and
// vector extension exist.
func NewPGVector(ctx context.Context, cfg PGConfig, logger *zap.Logger) (*PGVector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vector store URL is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = domain.EmbeddingDim
	}
	if cfg.IndexLists <= 0 {
		cfg.IndexLists = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse vector store URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}

	s := &PGVector{pool: pool, dimension: cfg.Dimension, logger: logger}
	if err := s.ensureSchema(ctx, cfg.IndexLists); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure vector schema: %w", err)
	}
	return s, nil
}

func (s *PGVector) ensureSchema(ctx context.Context, indexLists int) error {
	stmts := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
	file_id BIGINT NOT NULL,
	chunk_index INT NOT NULL,
	body TEXT NOT NULL,
	embedding vector(%[1]d) NOT NULL,
	page_number INT NOT NULL DEFAULT 0,
	section_type TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (file_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_page_idx ON chunks (page_number);
CREATE INDEX IF NOT EXISTS chunks_section_type_idx ON chunks (section_type);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %[2]d);';
	END IF;
END
$$;
`, s.dimension, indexLists)

	_, err := s.pool.Exec(ctx, stmts)
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// The approximate index needs enough rows to train; exact scan
		// works without it, so a failed build is not fatal.
		s.logger.Warn("ivfflat index unavailable, continuing with exact scan", zap.Error(err))
		err = nil
	}
	return err
}

// Close releases the connection pool.
func (s *PGVector) Close() {
	s.pool.Close()
}

// UpsertChunks writes a batch of chunks keyed by (file_id, chunk_index).
// The batch commits atomically; successive batches for the same file
// accumulate.
func (s *PGVector) UpsertChunks(ctx context.Context, fileID int64, chunks []domain.Chunk) (int, error) {
	for _, c := range chunks {
		if err := checkDimension(c.Embedding, s.dimension); err != nil {
			return 0, err
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, vectorErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks (file_id, chunk_index, body, embedding, page_number, section_type, file_name)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (file_id, chunk_index) DO UPDATE SET
	body = EXCLUDED.body,
	embedding = EXCLUDED.embedding,
	page_number = EXCLUDED.page_number,
	section_type = EXCLUDED.section_type,
	file_name = EXCLUDED.file_name`,
			fileID, c.Index, c.Text, pgvector.NewVector(c.Embedding),
			c.PageNumber, c.SectionType, c.FileName); err != nil {
			return 0, vectorErr("insert chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, vectorErr("commit chunks", err)
	}
	return len(chunks), nil
}

// Search returns the k nearest chunks by cosine distance.
func (s *PGVector) Search(ctx context.Context, fileID *int64, query []float32, k int) ([]Scored, error) {
	if err := checkDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	sql := `
SELECT file_id, chunk_index, body, page_number, section_type, file_name,
	embedding <=> $1 AS distance
FROM chunks`
	args := []any{pgvector.NewVector(query)}
	if fileID != nil {
		sql += ` WHERE file_id = $2`
		args = append(args, *fileID)
	}
	sql += fmt.Sprintf(`
ORDER BY embedding <=> $1, file_id, chunk_index
LIMIT %d`, k)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, vectorErr("search chunks", err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var sc Scored
		if err := rows.Scan(&sc.Chunk.FileID, &sc.Chunk.Index, &sc.Chunk.Text,
			&sc.Chunk.PageNumber, &sc.Chunk.SectionType, &sc.Chunk.FileName,
			&sc.Distance); err != nil {
			return nil, vectorErr("scan search row", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, vectorErr("iterate search rows", err)
	}
	return out, nil
}

// DeleteByFile removes all chunks for a file.
func (s *PGVector) DeleteByFile(ctx context.Context, fileID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, vectorErr("delete chunks", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountChunks returns the number of stored chunks.
func (s *PGVector) CountChunks(ctx context.Context, fileID *int64) (int, error) {
	sql := `SELECT COUNT(*) FROM chunks`
	var args []any
	if fileID != nil {
		sql += ` WHERE file_id = $1`
		args = append(args, *fileID)
	}

	var n int
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, vectorErr("count chunks", err)
	}
	return n, nil
}

func vectorErr(op string, err error) error {
	return domain.Wrap(domain.KindVectorStore, op+" failed", err)
}

var _ Store = (*PGVector)(nil)
