// Package vectorstore provides persistent vector storage with
// per-tenant collection routing.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates an empty document batch.
	ErrEmptyDocuments = errors.New("empty document batch")

	// ErrCollectionNotFound indicates the collection does not exist yet.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Embedder generates embeddings for text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a chunk stored in a collection. Embedding must be
// populated by the caller; the store never embeds on write so that
// failed chunks can be skipped upstream.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult is a scored match from a collection query.
type SearchResult struct {
	ID       string
	Content  string
	Metadata map[string]string

	// Similarity is the raw cosine similarity in [-1, 1].
	Similarity float32
}

// Config holds vector store settings.
type Config struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/ragd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/ragd/vectorstore"
	}
}

// Store is a persistent embedded vector database backed by chromem-go.
// Collections are created lazily and cached; creation is idempotent so
// concurrent workers can route to the same tenant safely.
type Store struct {
	db       *chromem.DB
	embedder Embedder
	config   Config
	logger   *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New creates a Store with persistence rooted at config.Path.
func New(config Config, embedder Embedder, logger *zap.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("vector store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
	)

	return &Store{
		db:          db,
		embedder:    embedder,
		config:      config,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// EnsureCollection gets or creates a collection by name.
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.collection(name)
	return err
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// AddDocuments adds pre-embedded documents to a collection.
func (s *Store) AddDocuments(ctx context.Context, name string, docs []Document) error {
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	col, err := s.collection(name)
	if err != nil {
		return err
	}

	converted := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document %d has no ID", ErrInvalidConfig, i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("%w: document %s has no embedding", ErrInvalidConfig, doc.ID)
		}
		converted[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		}
	}

	if err := col.AddDocuments(ctx, converted, 1); err != nil {
		return fmt.Errorf("adding documents to %s: %w", name, err)
	}

	s.logger.Debug("documents stored",
		zap.String("collection", name),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Query searches a collection by embedding. topK is capped at the
// collection size; an empty collection returns no results without
// error.
func (s *Store) Query(ctx context.Context, name string, embedding []float32, topK int) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding required", ErrInvalidConfig)
	}
	if topK <= 0 {
		topK = 5
	}

	col, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	matches, err := col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	results := make([]SearchResult, len(matches))
	for i, m := range matches {
		results[i] = SearchResult{
			ID:         m.ID,
			Content:    m.Content,
			Metadata:   m.Metadata,
			Similarity: m.Similarity,
		}
	}
	return results, nil
}

// Count returns the number of documents in a collection. A collection
// that was never created counts as zero.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	col := s.db.GetCollection(name, s.embeddingFunc())
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// ListCollections returns the names of all collections on disk.
func (s *Store) ListCollections(ctx context.Context) []string {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names
}

// Healthy reports whether the store's backing directory is usable.
func (s *Store) Healthy(ctx context.Context) bool {
	path, err := expandPath(s.config.Path)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
