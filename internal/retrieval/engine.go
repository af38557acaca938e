package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firechair/knowledge-console/internal/log"
)

// Engine ties chunking, embedding, and storage into the ingestion and
// query operations the chat flow and the documents API consume.
type Engine struct {
	chunker  Chunker
	embedder Embedder
	store    Store
	logger   log.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(chunker Chunker, embedder Embedder, store Store, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{chunker: chunker, embedder: embedder, store: store, logger: logger}
}

// Ingest chunks and embeds text, then stores document and chunks in a
// single transaction. All embeddings are produced before anything is
// written, so an embedding failure leaves no partial document behind.
func (e *Engine) Ingest(ctx context.Context, filename, contentType, text string) (Document, error) {
	chunks := e.chunker.Split(text)
	if len(chunks) == 0 {
		return Document{}, fmt.Errorf("document %q has no indexable content", filename)
	}

	embeddings, err := e.embedder.Embed(ctx, chunks)
	if err != nil {
		return Document{}, fmt.Errorf("embedding %d chunks of %q: %w", len(chunks), filename, err)
	}

	doc := Document{
		ID:          uuid.New(),
		Filename:    filename,
		ContentType: contentType,
		UploadedAt:  time.Now().UTC(),
		ChunkCount:  len(chunks),
	}
	if err := e.store.CreateDocument(ctx, doc, chunks, embeddings); err != nil {
		return Document{}, fmt.Errorf("storing document %q: %w", filename, err)
	}

	e.logger.Info("document ingested",
		"document_id", doc.ID,
		"filename", filename,
		"chunks", len(chunks))
	return doc, nil
}

// Query embeds the question and returns the closest chunks, at most
// topK, best match first.
func (e *Engine) Query(ctx context.Context, question string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := e.store.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return matches, nil
}

// Delete removes a document and all its chunks.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	e.logger.Info("document deleted", "document_id", id)
	return nil
}

// DeleteByFilename removes every document uploaded under the filename.
func (e *Engine) DeleteByFilename(ctx context.Context, filename string) error {
	if err := e.store.DeleteByFilename(ctx, filename); err != nil {
		return err
	}
	e.logger.Info("documents deleted", "filename", filename)
	return nil
}

// List returns all ingested documents, newest first.
func (e *Engine) List(ctx context.Context) ([]Document, error) {
	return e.store.ListDocuments(ctx)
}
