// Package ingest implements the ingestion pipeline: job consumption,
// text extraction, token-aware chunking, batch embedding, and
// tenant-scoped vector storage.
package ingest

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 50

	// Rough bytes-per-token used by the character fallback when the
	// tokenizer is unavailable.
	charsPerToken = 4
)

// Chunker splits text into overlapping token-bounded chunks. When the
// tokenizer cannot be initialized it degrades to a character splitter
// with the same effective bounds.
type Chunker struct {
	encoding *tiktoken.Tiktoken
	size     int
	overlap  int
	logger   *zap.Logger
}

// NewChunker creates a chunker with the given token bounds. overlap
// must be smaller than size.
func NewChunker(size, overlap int, logger *zap.Logger) *Chunker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}

	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tokenizer unavailable, falling back to character chunking", zap.Error(err))
		encoding = nil
	}

	return &Chunker{encoding: encoding, size: size, overlap: overlap, logger: logger}
}

// Chunk splits text into chunks of at most the configured token size,
// each overlapping its predecessor. Empty or whitespace-only input
// yields no chunks.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.encoding != nil {
		return c.chunkTokens(text)
	}
	return c.chunkRunes(text)
}

func (c *Chunker) chunkTokens(text string) []string {
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := strings.TrimSpace(c.encoding.Decode(tokens[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

func (c *Chunker) chunkRunes(text string) []string {
	runes := []rune(text)
	size := c.size * charsPerToken
	overlap := c.overlap * charsPerToken
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
