package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Top-K by score, K=2. Hits arrive lid=1..4 with scores 5,9,3,7;
// expected retained set {lid2(9), lid4(7)}, emitted in lid order [2,4].
func TestTopKByScore(t *testing.T) {
	c := New(2)
	assert.True(t, c.AddHit(1, 5, nil, nil))
	assert.True(t, c.AddHit(2, 9, nil, nil))
	assert.False(t, c.AddHit(3, 3, nil, nil))
	assert.True(t, c.AddHit(4, 7, nil, nil))

	c.SortByDocID()
	require.Len(t, c.Hits(), 2)
	assert.Equal(t, uint32(2), c.Hits()[0].Lid)
	assert.Equal(t, uint32(4), c.Hits()[1].Lid)
}

// Top-K by sort-key, K=2. sort-keys lid1=[0x02], lid2=[0x01],
// lid3=[0x01,0x00], lid4=[0x03]. Expected [2,3] after SortByDocID.
func TestTopKBySortKey(t *testing.T) {
	c := NewSortKeyed(2)
	c.AddHit(1, 0, []byte{0x02}, nil)
	c.AddHit(2, 0, []byte{0x01}, nil)
	c.AddHit(3, 0, []byte{0x01, 0x00}, nil)
	c.AddHit(4, 0, []byte{0x03}, nil)

	c.SortByDocID()
	require.Len(t, c.Hits(), 2)
	assert.Equal(t, uint32(2), c.Hits()[0].Lid)
	assert.Equal(t, uint32(3), c.Hits()[1].Lid)
}

func TestCapacityZeroAlwaysRejects(t *testing.T) {
	c := New(0)
	assert.False(t, c.AddHit(1, 100, nil, nil))
	assert.Equal(t, 0, c.Len())
}

func TestBelowCapacityAlwaysAccepts(t *testing.T) {
	c := New(5)
	for i := uint32(1); i <= 3; i++ {
		assert.True(t, c.AddHit(i, float64(i), nil, nil))
	}
	assert.Equal(t, 3, c.Len())
}

func TestRankTieBreaksBySmallerLid(t *testing.T) {
	c := New(1)
	assert.True(t, c.AddHit(5, 10, nil, nil))
	assert.True(t, c.AddHit(3, 10, nil, nil)) // same score, smaller lid wins
	assert.False(t, c.AddHit(7, 10, nil, nil))
	assert.Equal(t, uint32(3), c.Hits()[0].Lid)
}

type stubProgram struct{ value float64 }

func (s stubProgram) Run(match MatchData, names []string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for _, n := range names {
		out[n] = s.value
	}
	return out, nil
}

type stubSink struct {
	lids []uint32
}

func (s *stubSink) AddResult(lid uint32, score float64, features map[string]float64) {
	s.lids = append(s.lids, lid)
}

func TestFillResultSortsAndAttachesFeatures(t *testing.T) {
	c := New(3)
	c.AddHit(3, 1, nil, "doc3")
	c.AddHit(1, 1, nil, "doc1")
	c.AddHit(2, 1, nil, "doc2")

	sink := &stubSink{}
	require.NoError(t, c.FillResult(sink, stubProgram{value: 0.5}, []string{"bm25"}))
	assert.Equal(t, []uint32{1, 2, 3}, sink.lids)
}
