package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGStore is the PostgreSQL-backed Store using pgvector for similarity
// search.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store over the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CreateDocument(ctx context.Context, doc Document, chunks []string, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, filename, content_type, uploaded_at, chunk_count)
		VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.Filename, doc.ContentType, doc.UploadedAt, len(chunks))
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	for i, chunk := range chunks {
		_, err = tx.Exec(ctx, `
			INSERT INTO document_chunks (document_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4)`,
			doc.ID, i, chunk, pgvector.NewVector(embeddings[i]))
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, embedding []float32, limit int) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.filename, c.chunk_index, c.content,
		       1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		ORDER BY c.embedding <=> $1 ASC, c.chunk_index ASC, d.uploaded_at ASC, d.id ASC
		LIMIT $2`,
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.DocumentID, &m.Filename, &m.ChunkIndex, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

func (s *PGStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	// document_chunks rows go with the document via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PGStore) DeleteByFilename(ctx context.Context, filename string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE filename = $1`, filename)
	if err != nil {
		return fmt.Errorf("deleting documents by filename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return nil
}

func (s *PGStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, content_type, uploaded_at, chunk_count
		FROM documents
		ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.ContentType, &d.UploadedAt, &d.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}
