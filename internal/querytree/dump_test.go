package querytree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Build(Dump(tree)) must reproduce the tree for every shape the builder
// emits, including composed SameElement indexes and numeric rewrites.
func TestDumpBuildRoundTrip(t *testing.T) {
	cases := map[string][]NodeDescriptor{
		"and_of_terms": {
			{Type: "AND", Arity: 2},
			{Type: "TERM", Index: "title", Term: "quick"},
			{Type: "TERM", Index: "body", Term: "fox"},
		},
		"near_with_gap": {
			{Type: "ONEAR", Arity: 2, NearDistance: uintp(3), ElementGap: uintp(1)},
			{Type: "TERM", Index: "title", Term: "a"},
			{Type: "TERM", Index: "title", Term: "b"},
		},
		"same_element": {
			{Type: "SAME_ELEMENT", Arity: 2, Index: "persons"},
			{Type: "TERM", Index: "first", Term: "ada"},
			{Type: "TERM", Index: "last", Term: "lovelace"},
		},
		"and_not_hides_negatives": {
			{Type: "AND_NOT", Arity: 2},
			{Type: "TERM", Index: "title", Term: "keep"},
			{Type: "TERM", Index: "title", Term: "drop"},
		},
		"numeric_rewrite": {
			{Type: "TERM", Index: "title", Term: "3.14"},
		},
		"weighted_set": {
			{Type: "WEIGHTED_SET", Arity: 2, Index: "tags"},
			{Type: "TERM", Index: "tags", Term: "x", Weight: weight(10)},
			{Type: "TERM", Index: "tags", Term: "y", Weight: weight(20)},
		},
	}

	for name, desc := range cases {
		t.Run(name, func(t *testing.T) {
			first, err := Build(desc, AllTextFields{})
			require.NoError(t, err)

			second, err := Build(Dump(first), AllTextFields{})
			require.NoError(t, err)

			assertTreeEqual(t, first, second)
		})
	}
}

func TestDumpSddocnameTrueNode(t *testing.T) {
	tree, err := Build([]NodeDescriptor{{Type: "TERM", Index: "sddocname", Term: "music"}}, AllTextFields{})
	require.NoError(t, err)
	require.Equal(t, KindTrue, tree.Kind)

	again, err := Build(Dump(tree), AllTextFields{})
	require.NoError(t, err)
	assert.Equal(t, KindTrue, again.Kind)
}

func assertTreeEqual(t *testing.T, a, b *Node) {
	t.Helper()
	require.Equal(t, a.Kind, b.Kind)
	assert.Equal(t, a.Index, b.Index)
	assert.Equal(t, a.TermText, b.TermText)
	assert.Equal(t, a.TermType, b.TermType)
	assert.Equal(t, a.Weight, b.Weight)
	assert.Equal(t, a.UniqueID, b.UniqueID)
	assert.Equal(t, a.Ranked, b.Ranked)
	assert.Equal(t, a.MultiKind, b.MultiKind)
	assert.Equal(t, a.NearDistance, b.NearDistance)
	assert.Equal(t, a.ElementGap, b.ElementGap)
	require.Len(t, b.Children, len(a.Children))
	for i := range a.Children {
		assertTreeEqual(t, a.Children[i], b.Children[i])
	}
}
