package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsearch/engine/internal/config"
	"github.com/streamsearch/engine/internal/querytree"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Bucket.Path = t.TempDir()
	cfg.SlotFile.MinimumFileMetaSlots = 16
	cfg.SlotFile.MinimumFileHeaderBlockSize = 4096
	cfg.SlotFile.MinimumFileSize = 8192
	cfg.SlotFile.FileBlockSize = 512

	w, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func feed(t *testing.T, w *Worker, docs []map[string]string) {
	t.Helper()
	for i, fields := range docs {
		blob, err := EncodeFields(fields)
		require.NoError(t, err)
		docID := "id:test:doc::" + string(rune('a'+i))
		require.NoError(t, w.File().AddDocument(uint64(100+i), docID, blob, nil))
	}
	_, err := w.File().Flush()
	require.NoError(t, err)
}

func termQuery(index, term string) []querytree.NodeDescriptor {
	return []querytree.NodeDescriptor{{Type: "TERM", Index: index, Term: term}}
}

func TestSearchTopKByScore(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "fox leads the pack"},     // lid 1, hit at position 0
		{"title": "alpha fox"},              // lid 2, hit at position 1
		{"title": "alpha beta fox"},         // lid 3, hit at position 2
		{"title": "nothing to see here"},    // lid 4, no match
	})

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount: 2,
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Matched)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, uint32(1), result.Hits[0].Lid)
	assert.Equal(t, uint32(2), result.Hits[1].Lid)
	assert.Greater(t, result.Hits[0].Score, result.Hits[1].Score)
	assert.Equal(t, "id:test:doc::a", result.Hits[0].DocID)
}

func TestSearchBySortKey(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "fox", "name": "cherry"}, // lid 1
		{"title": "fox", "name": "apple"},  // lid 2
		{"title": "fox", "name": "banana"}, // lid 3
	})

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount: 2,
		Sort:         "+name",
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, uint32(2), result.Hits[0].Lid) // apple
	assert.Equal(t, uint32(3), result.Hits[1].Lid) // banana

	// Descending keeps the other end, expressed by byte-complemented keys.
	result, err = w.Search(context.Background(), SearchParams{
		SummaryCount: 2,
		Sort:         "-name",
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, uint32(1), result.Hits[0].Lid) // cherry
	assert.Equal(t, uint32(3), result.Hits[1].Lid) // banana
}

func TestSearchAttachesSummaryFields(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "fox", "artist": "vulpes", "year": "1990"},
	})

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount:  10,
		SummaryFields: []string{"artist", "year"},
		QueryStack:    termQuery("title", "fox"),
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, map[string]string{"artist": "vulpes", "year": "1990"}, result.Hits[0].Summary)
}

func TestSearchFeatureDump(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "fox fox"},
	})

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount: 1,
		QueryFlags:   QueryFlagDumpFeatures,
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	require.NotNil(t, result.Hits[0].Features)
	assert.Equal(t, 2.0, result.Hits[0].Features["numOccs"])

	// Without the flag no features are computed.
	result, err = w.Search(context.Background(), SearchParams{
		SummaryCount: 1,
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)
	assert.Nil(t, result.Hits[0].Features)
}

func TestSearchCapacityZeroStaysEmpty(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "fox"},
	})

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount: 0,
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Empty(t, result.Hits)
}

func TestSearchSkipsRemoveEntries(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "fox"},
	})
	require.NoError(t, w.File().AddRemoveEntry(500, "id:test:doc::a"))
	_, err := w.File().Flush()
	require.NoError(t, err)

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount: 10,
		QueryStack:   termQuery("title", "fox"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, uint32(1), result.Hits[0].Lid)
}

func TestSearchAndQueryRequiresAllTerms(t *testing.T) {
	w := newTestWorker(t)
	feed(t, w, []map[string]string{
		{"title": "quick brown fox"},
		{"title": "quick blue hare"},
	})

	result, err := w.Search(context.Background(), SearchParams{
		SummaryCount: 10,
		QueryStack: []querytree.NodeDescriptor{
			{Type: "AND", Arity: 2},
			{Type: "TERM", Index: "title", Term: "quick"},
			{Type: "TERM", Index: "title", Term: "fox"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, uint32(1), result.Hits[0].Lid)
}
