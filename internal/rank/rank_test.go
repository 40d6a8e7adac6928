package rank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsearch/engine/internal/querytree"
)

func buildTwoTermAnd(t *testing.T) *querytree.Node {
	t.Helper()
	w := int32(1)
	desc := []querytree.NodeDescriptor{
		{Type: "AND", Arity: 2},
		{Type: "TERM", Index: "title", Term: "quick", Weight: &w, UniqueID: uintp(1)},
		{Type: "TERM", Index: "title", Term: "fox", Weight: &w, UniqueID: uintp(2)},
	}
	tree, err := querytree.Build(desc, querytree.AllTextFields{})
	require.NoError(t, err)
	return tree
}

func uintp(v uint32) *uint32 { return &v }

func TestNewMatchDataCollectsRankedTerms(t *testing.T) {
	tree := buildTwoTermAnd(t)
	md := NewMatchData(tree, nil)
	require.Len(t, md.Terms, 2)
	assert.Equal(t, uint32(1), md.Terms[0].TermID)
	assert.Equal(t, uint32(2), md.Terms[1].TermID)
}

func TestNewMatchDataExcludesHiddenAndNotChildren(t *testing.T) {
	desc := []querytree.NodeDescriptor{
		{Type: "AND_NOT", Arity: 2},
		{Type: "TERM", Index: "a", Term: "keep", UniqueID: uintp(1)},
		{Type: "TERM", Index: "a", Term: "drop", UniqueID: uintp(2)},
	}
	tree, err := querytree.Build(desc, querytree.AllTextFields{})
	require.NoError(t, err)

	md := NewMatchData(tree, nil)
	require.Len(t, md.Terms, 1) // the hidden negative child gets no slot
	assert.Equal(t, uint32(1), md.Terms[0].TermID)
	assert.False(t, tree.Children[1].Ranked)
}

func TestUnpackCopiesHitsIntoMatchData(t *testing.T) {
	tree := buildTwoTermAnd(t)
	md := NewMatchData(tree, []FieldInfo{{FieldID: 1, Length: 50}})

	tree.Children[0].SetHits(querytree.HitList{{FieldID: 1, ElementID: 0, Position: 4, ElementWeight: 2}})
	tree.Children[1].SetHits(querytree.HitList{{FieldID: 1, ElementID: 0, Position: 5, ElementWeight: 2}})
	tree.Evaluate(querytree.NewEvalContext())

	Unpack(tree, md, querytree.NewEvalContext(), nil)

	require.Len(t, md.Terms[0].Entries, 1)
	assert.Equal(t, uint32(4), md.Terms[0].Entries[0].Position)
	assert.Equal(t, 50, md.Terms[0].Entries[0].ElementLength)
	assert.Equal(t, 1, md.Terms[0].NumOccs)
}

func TestUnpackNearestNeighborUsesRawScore(t *testing.T) {
	desc := []querytree.NodeDescriptor{
		{Type: "NEAREST_NEIGHBOR", Index: "embedding", UniqueID: uintp(7)},
	}
	tree, err := querytree.Build(desc, querytree.AllTextFields{})
	require.NoError(t, err)

	md := NewMatchData(tree, nil)
	Unpack(tree, md, querytree.NewEvalContext(), map[uint32]float64{7: 0.87})

	require.NotNil(t, md.Terms[0].RawScore)
	assert.InDelta(t, 0.87, *md.Terms[0].RawScore, 1e-9)
}

func TestRunClampsNonFiniteToNegativeInfinity(t *testing.T) {
	md := &MatchData{}
	score := Run(func(*MatchData) float64 { return math.NaN() }, md)
	assert.True(t, math.IsInf(score, -1))

	score = Run(func(*MatchData) float64 { return math.Inf(1) }, md)
	assert.True(t, math.IsInf(score, -1))

	score = Run(func(*MatchData) float64 { return 3.5 }, md)
	assert.Equal(t, 3.5, score)
}

func TestSnapshotIsIndependentOfLiveMatchData(t *testing.T) {
	tree := buildTwoTermAnd(t)
	md := NewMatchData(tree, nil)
	tree.Children[0].SetHits(querytree.HitList{{FieldID: 1, Position: 1}})
	Unpack(tree, md, querytree.NewEvalContext(), nil)

	snap := Snapshot(md)
	md.Terms[0].Entries = nil // simulate the next document overwriting live state

	require.Len(t, snap.Terms[0].Entries, 1)
}
