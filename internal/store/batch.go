package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Batch persistence defaults.
const (
	DefaultChunkSize   = 5000
	DefaultConcurrency = 50
)

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// BatchPersister creates many documents with a bounded number of in-flight writes.
type BatchPersister struct {
	writer      *Writer
	chunkSize   int
	concurrency int
}

// NewBatchPersister constructs a BatchPersister writing through w.
func NewBatchPersister(w *Writer, chunkSize, concurrency int) *BatchPersister {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &BatchPersister{writer: w, chunkSize: chunkSize, concurrency: concurrency}
}

// Persist creates every document in collection. Chunks are written one after
// the other; the first failing write cancels the rest of its chunk.
func (p *BatchPersister) Persist(ctx context.Context, collection string, docs []Document) error {
	for i, chunk := range Chunk(docs, p.chunkSize) {
		if err := p.persistChunk(ctx, collection, chunk); err != nil {
			return fmt.Errorf("persist chunk %d of %s: %w", i, collection, err)
		}
	}
	return nil
}

func (p *BatchPersister) persistChunk(ctx context.Context, collection string, chunk []Document) error {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, doc := range chunk {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.writer.Create(gctx, collection, doc)
		})
	}
	return g.Wait()
}
