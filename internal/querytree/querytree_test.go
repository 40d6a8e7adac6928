package querytree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weight(w int32) *int32   { return &w }
func uid(u uint32) *uint32    { return &u }
func uintp(u uint32) *uint32  { return &u }

// Phrase("quick", "fox") matches a document where "quick" occurs at
// position 4 and "fox" at position 5 in the same element, and does not
// match when they are separated.
func TestPhraseMatchesConsecutivePositions(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "PHRASE", Arity: 2, Index: "title"},
		{Type: "TERM", Index: "title", Term: "quick"},
		{Type: "TERM", Index: "title", Term: "fox"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	require.Equal(t, KindPhrase, tree.Kind)

	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 4}})
	tree.Children[1].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 5}})

	assert.True(t, tree.Evaluate(NewEvalContext()))

	tree.Reset()
	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 4}})
	tree.Children[1].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 9}})
	assert.False(t, tree.Evaluate(NewEvalContext()))
}

// NEAR(distance=2) matches terms within 2 positions of each other, and
// rejects terms further apart.
func TestNearDistanceTwo(t *testing.T) {
	dist := uint32(2)
	desc := []NodeDescriptor{
		{Type: "NEAR", Arity: 2, NearDistance: &dist},
		{Type: "TERM", Index: "body", Term: "alpha"},
		{Type: "TERM", Index: "body", Term: "beta"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	require.Equal(t, KindNear, tree.Kind)
	require.Equal(t, uint32(2), tree.NearDistance)

	tree.Children[0].SetHits(HitList{{FieldID: 2, ElementID: 0, Position: 10}})
	tree.Children[1].SetHits(HitList{{FieldID: 2, ElementID: 0, Position: 12}})
	assert.True(t, tree.Evaluate(NewEvalContext()))

	tree.Reset()
	tree.Children[0].SetHits(HitList{{FieldID: 2, ElementID: 0, Position: 10}})
	tree.Children[1].SetHits(HitList{{FieldID: 2, ElementID: 0, Position: 20}})
	assert.False(t, tree.Evaluate(NewEvalContext()))
}

func TestONearRequiresOrder(t *testing.T) {
	dist := uint32(3)
	desc := []NodeDescriptor{
		{Type: "ONEAR", Arity: 2, NearDistance: &dist},
		{Type: "TERM", Index: "body", Term: "first"},
		{Type: "TERM", Index: "body", Term: "second"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)

	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 5}})
	tree.Children[1].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 7}})
	assert.True(t, tree.Evaluate(NewEvalContext()))

	tree.Reset()
	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 7}})
	tree.Children[1].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 5}})
	assert.False(t, tree.Evaluate(NewEvalContext()))
}

func TestBuildFlattensNestedAnd(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "AND", Arity: 2},
		{Type: "AND", Arity: 2},
		{Type: "TERM", Index: "a", Term: "x"},
		{Type: "TERM", Index: "a", Term: "y"},
		{Type: "TERM", Index: "a", Term: "z"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	assert.Equal(t, KindAnd, tree.Kind)
	assert.Len(t, tree.Children, 3)
}

func TestBuildAndNotHidesNegativeChildrenFromRanking(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "AND_NOT", Arity: 2},
		{Type: "TERM", Index: "a", Term: "keep"},
		{Type: "TERM", Index: "a", Term: "drop"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	assert.True(t, tree.Children[0].Ranked)
	assert.False(t, tree.Children[1].Ranked)
}

func TestAndNotFiltersMatchingNegativeElement(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "AND_NOT", Arity: 2},
		{Type: "TERM", Index: "a", Term: "keep"},
		{Type: "TERM", Index: "a", Term: "drop"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)

	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 1}})
	tree.Children[1].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 2}})
	assert.False(t, tree.Evaluate(NewEvalContext()))

	tree.Reset()
	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 1}})
	tree.Children[1].SetHits(nil)
	assert.True(t, tree.Evaluate(NewEvalContext()))
}

func TestSameElementComposesIndexAndRequiresCommonElement(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "SAME_ELEMENT", Arity: 2, Index: "keywords"},
		{Type: "TERM", Index: "key", Term: "red"},
		{Type: "TERM", Index: "value", Term: "color"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	assert.Equal(t, "keywords.key", tree.Children[0].Index)
	assert.Equal(t, "keywords.value", tree.Children[1].Index)

	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 3, Position: 0}})
	tree.Children[1].SetHits(HitList{{FieldID: 2, ElementID: 3, Position: 0}})
	assert.True(t, tree.Evaluate(NewEvalContext()))

	tree.Reset()
	tree.Children[0].SetHits(HitList{{FieldID: 1, ElementID: 3, Position: 0}})
	tree.Children[1].SetHits(HitList{{FieldID: 2, ElementID: 9, Position: 0}})
	assert.False(t, tree.Evaluate(NewEvalContext()))
}

func TestBuildSkipsUnknownNodeType(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "AND", Arity: 2},
		{Type: "TOTALLY_UNKNOWN", Arity: 1},
		{Type: "TERM", Index: "a", Term: "x"},
		{Type: "TERM", Index: "a", Term: "y"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	assert.Len(t, tree.Children, 1)
	assert.Equal(t, "y", tree.Children[0].TermText)
}

func TestBuildRewritesSddocnameToTrue(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "TERM", Index: "sddocname", Term: "music"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	assert.Equal(t, KindTrue, tree.Kind)
	assert.True(t, tree.Evaluate(NewEvalContext()))
}

func TestBuildRewritesNumericStringToEquiv(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "TERM", Index: "price", Term: "3.14"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	require.Equal(t, KindMultiTerm, tree.Kind)
	assert.Equal(t, MultiEquiv, tree.MultiKind)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, KindTerm, tree.Children[0].Kind)
	assert.Equal(t, "3.14", tree.Children[0].TermText)
	assert.Equal(t, KindPhrase, tree.Children[1].Kind)
	require.Len(t, tree.Children[1].Children, 2)
	assert.Equal(t, "3", tree.Children[1].Children[0].TermText)
	assert.Equal(t, "14", tree.Children[1].Children[1].TermText)
}

func TestBuildDoesNotRewritePlainInteger(t *testing.T) {
	desc := []NodeDescriptor{
		{Type: "TERM", Index: "count", Term: "42"},
	}
	tree, err := Build(desc, AllTextFields{})
	require.NoError(t, err)
	assert.Equal(t, KindTerm, tree.Kind)
	assert.Equal(t, "42", tree.TermText)
}

func TestHitListSortDedups(t *testing.T) {
	hl := HitList{
		{FieldID: 1, ElementID: 0, Position: 5},
		{FieldID: 1, ElementID: 0, Position: 5},
		{FieldID: 0, ElementID: 0, Position: 1},
	}
	sorted := hl.Sort()
	require.Len(t, sorted, 2)
	assert.Equal(t, uint32(0), sorted[0].FieldID)
	assert.Equal(t, uint32(1), sorted[1].FieldID)
}

func TestResetClearsMemoizedState(t *testing.T) {
	n := NewTerm("a", "x", TermWord, 1, 0)
	n.SetHits(HitList{{FieldID: 1, ElementID: 0, Position: 0}})
	assert.True(t, n.Evaluate(NewEvalContext()))
	n.Reset()
	assert.False(t, n.Evaluate(NewEvalContext()))
}
