package store

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChunkSplitsIntoBoundedSlices(t *testing.T) {
	items := make([]int, 12001)
	for i := range items {
		items[i] = i
	}

	chunks := Chunk(items, DefaultChunkSize)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], 5000)
	require.Len(t, chunks[1], 5000)
	require.Len(t, chunks[2], 2001)

	var joined []int
	for _, c := range chunks {
		joined = append(joined, c...)
	}
	require.Equal(t, items, joined)
}

func TestChunkEmpty(t *testing.T) {
	require.Empty(t, Chunk([]string(nil), 10))
}

func TestBatchPersisterWritesEveryDocument(t *testing.T) {
	s := &stubStore{}
	p := NewBatchPersister(NewWriter(s), 4, 2)

	docs := makeDocs(10)
	require.NoError(t, p.Persist(context.Background(), "activities", docs))
	require.ElementsMatch(t, docs, s.created)
}

func TestBatchPersisterBoundsConcurrency(t *testing.T) {
	s := &stubStore{delay: 5 * time.Millisecond}
	p := NewBatchPersister(NewWriter(s), 100, 3)

	require.NoError(t, p.Persist(context.Background(), "activities", makeDocs(30)))
	require.LessOrEqual(t, s.peak, 3)
	require.Len(t, s.created, 30)
}

func TestBatchPersisterAbortsOnFatalError(t *testing.T) {
	invalid := errors.New("invalid document")
	s := &stubStore{createErrs: []error{invalid}}
	p := NewBatchPersister(NewWriter(s), 2, 1)

	err := p.Persist(context.Background(), "activities", makeDocs(6))
	require.ErrorIs(t, err, invalid)
	require.Less(t, s.calls(), 6)
}

func makeDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		id := strconv.Itoa(i)
		docs[i] = Document{ID: id, UserID: "user-1", Body: map[string]any{"id": id}}
	}
	return docs
}
