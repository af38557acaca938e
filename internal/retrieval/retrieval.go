// Package retrieval implements document ingestion and semantic search.
//
// Documents are split into overlapping chunks, embedded through an
// external embedding server, and stored in PostgreSQL with pgvector.
// Queries embed the question and rank chunks by cosine similarity.
package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrEmbeddingUnavailable indicates the embedding server could not
	// produce vectors. Ingestion stores nothing in that case.
	ErrEmbeddingUnavailable = errors.New("embedding server unavailable")
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
)

// Document is an ingested file's metadata.
type Document struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ChunkCount  int       `json:"chunk_count"`
}

// Match is one retrieved chunk with its similarity score in [0, 1],
// higher is closer.
type Match struct {
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
}

// Store persists documents and their embedded chunks.
type Store interface {
	// CreateDocument stores the document and all chunks in one
	// transaction. Chunks and embeddings are parallel slices.
	CreateDocument(ctx context.Context, doc Document, chunks []string, embeddings [][]float32) error
	// Search returns up to limit chunks ranked by cosine similarity to
	// the query embedding, ties broken by ascending chunk index.
	Search(ctx context.Context, embedding []float32, limit int) ([]Match, error)
	// DeleteDocument removes a document and its chunks. It returns
	// ErrNotFound when no such document exists.
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	// DeleteByFilename removes every document uploaded under the
	// filename. It returns ErrNotFound when none match.
	DeleteByFilename(ctx context.Context, filename string) error
	// ListDocuments returns all documents, most recently uploaded first.
	ListDocuments(ctx context.Context) ([]Document, error)
}
