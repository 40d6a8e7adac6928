package querytree

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeDescriptor is one entry of the depth-first query-stack
// serialization, deserialized from the opaque wire blob by an external
// collaborator before reaching Build.
type NodeDescriptor struct {
	Type     string
	Arity    int
	Index    string
	Weight   *int32
	UniqueID *uint32

	Term        string
	IntegerTerm *int64

	NearDistance     *uint32
	ElementGap       *uint32
	TargetHits       *uint32
	ScoreThreshold   *float64
	FuzzyEdits       *uint32
	FuzzyPrefix      *uint32
	DistanceThreshold *float64
}

// FieldTypeConfig answers whether an index is configured as text-matching,
// used for the numeric-string rewrite rule. The field-searcher map
// supplies the real answer; tests may use a trivial always-true/false
// stub.
type FieldTypeConfig interface {
	IsTextMatching(index string) bool
}

// AllTextFields is a FieldTypeConfig stub treating every index as text.
type AllTextFields struct{}

func (AllTextFields) IsTextMatching(string) bool { return true }

type builder struct {
	desc []NodeDescriptor
	pos  int
	cfg  FieldTypeConfig
}

// Build constructs a query tree from a flat depth-first descriptor stack.
// Unknown node types cause their subtree to be skipped (with the caller
// expected to log a warning) rather than failing the whole build.
func Build(desc []NodeDescriptor, cfg FieldTypeConfig) (*Node, error) {
	if cfg == nil {
		cfg = AllTextFields{}
	}
	b := &builder{desc: desc, cfg: cfg}
	if len(desc) == 0 {
		return nil, fmt.Errorf("querytree: empty descriptor stack")
	}
	n, skipped, err := b.next(false, false, "")
	if err != nil {
		return nil, err
	}
	if skipped {
		return nil, fmt.Errorf("querytree: root node type %q is unknown", desc[0].Type)
	}
	if b.pos != len(b.desc) {
		return nil, fmt.Errorf("querytree: %d trailing descriptor(s) after build", len(b.desc)-b.pos)
	}
	return n, nil
}

// next consumes one descriptor (and its arity-many children), returning
// (node, skipped, err). skipped is true when the node type was unknown and
// its subtree was dropped; node is nil in that case.
//
// sameElementIndex, when non-empty, is the enclosing SameElement's index P;
// a Term child's index C becomes "P.C".
func (b *builder) next(rewriteDisabled, hidden bool, sameElementIndex string) (*Node, bool, error) {
	if b.pos >= len(b.desc) {
		return nil, false, fmt.Errorf("querytree: descriptor stack exhausted")
	}
	d := b.desc[b.pos]
	b.pos++

	switch strings.ToUpper(d.Type) {
	case "AND":
		return b.buildConnector(KindAnd, d, rewriteDisabled)
	case "OR":
		return b.buildConnector(KindOr, d, rewriteDisabled)
	case "AND_NOT", "ANDNOT":
		return b.buildAndNot(d, rewriteDisabled)
	case "RANK":
		return b.buildConnector(KindRankWith, d, rewriteDisabled)
	case "NEAR":
		return b.buildNear(KindNear, d)
	case "ONEAR":
		return b.buildNear(KindONear, d)
	case "PHRASE":
		return b.buildFixedArity(KindPhrase, d, true, hidden, sameElementIndex)
	case "SAME_ELEMENT", "SAMEELEMENT":
		return b.buildSameElement(d, hidden)
	case "EQUIV":
		n, _, err := b.buildFixedArity(KindMultiTerm, d, true, hidden, sameElementIndex)
		if n != nil {
			n.MultiKind = MultiEquiv
		}
		return n, false, err
	case "WEIGHTED_SET":
		n, _, err := b.buildFixedArity(KindMultiTerm, d, rewriteDisabled, hidden, sameElementIndex)
		if n != nil {
			n.MultiKind = MultiWeightedSet
		}
		return n, false, err
	case "DOT_PRODUCT":
		n, _, err := b.buildFixedArity(KindMultiTerm, d, rewriteDisabled, hidden, sameElementIndex)
		if n != nil {
			n.MultiKind = MultiDotProduct
		}
		return n, false, err
	case "WAND":
		n, _, err := b.buildFixedArity(KindMultiTerm, d, rewriteDisabled, hidden, sameElementIndex)
		if n != nil {
			n.MultiKind = MultiWAND
		}
		return n, false, err
	case "IN":
		n, _, err := b.buildFixedArity(KindMultiTerm, d, rewriteDisabled, hidden, sameElementIndex)
		if n != nil {
			n.MultiKind = MultiIn
		}
		return n, false, err
	case "WORD_ALTERNATIVES":
		n, _, err := b.buildFixedArity(KindMultiTerm, d, rewriteDisabled, hidden, sameElementIndex)
		if n != nil {
			n.MultiKind = MultiWordAlternatives
		}
		return n, false, err
	case "TERM", "WORD":
		return b.buildTerm(d, TermWord, rewriteDisabled, hidden, sameElementIndex)
	case "PREFIX":
		return b.buildTerm(d, TermPrefix, true, hidden, sameElementIndex)
	case "SUFFIX":
		return b.buildTerm(d, TermSuffix, true, hidden, sameElementIndex)
	case "SUBSTRING":
		return b.buildTerm(d, TermSubstring, true, hidden, sameElementIndex)
	case "EXACT":
		return b.buildTerm(d, TermExact, true, hidden, sameElementIndex)
	case "REGEX":
		return b.buildTerm(d, TermRegex, true, hidden, sameElementIndex)
	case "FUZZY":
		return b.buildTerm(d, TermFuzzy, true, hidden, sameElementIndex)
	case "RANGE":
		return b.buildTerm(d, TermRange, true, hidden, sameElementIndex)
	case "GEO_LOCATION":
		return b.buildTerm(d, TermGeoLocation, true, hidden, sameElementIndex)
	case "NUMERIC":
		return b.buildTerm(d, TermNumeric, true, hidden, sameElementIndex)
	case "NEAREST_NEIGHBOR":
		return b.buildTerm(d, TermNearestNeighbor, true, hidden, sameElementIndex)
	case "TRUE":
		return &Node{Kind: KindTrue}, false, nil
	default:
		// Unknown node: skip its subtree entirely but keep the cursor valid.
		if err := b.skipChildren(d.Arity); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}
}

func (b *builder) skipChildren(arity int) error {
	for i := 0; i < arity; i++ {
		if _, _, err := b.next(true, false, ""); err != nil {
			return err
		}
	}
	return nil
}

// buildConnector builds AND/OR/RANK with same-kind flattening: a direct
// child of the same kind has its children spliced in rather than nested.
func (b *builder) buildConnector(kind NodeKind, d NodeDescriptor, rewriteDisabled bool) (*Node, bool, error) {
	n := &Node{Kind: kind}
	for i := 0; i < d.Arity; i++ {
		child, skipped, err := b.next(rewriteDisabled, false, "")
		if err != nil {
			return nil, false, err
		}
		if skipped {
			continue
		}
		if isFlattenable(kind, child.Kind) {
			n.Children = append(n.Children, child.Children...)
		} else {
			n.Children = append(n.Children, child)
		}
	}
	return n, false, nil
}

// isFlattenable reports whether a child of kind childKind should have its
// children spliced directly into a parent of kind parentKind: AND into
// AND, OR into OR.
func isFlattenable(parentKind, childKind NodeKind) bool {
	return (parentKind == KindAnd && childKind == KindAnd) ||
		(parentKind == KindOr && childKind == KindOr)
}

// buildAndNot builds AND-NOT: children at position >= 1 are hidden
// (ranked=false), since they never contribute to ranking.
func (b *builder) buildAndNot(d NodeDescriptor, rewriteDisabled bool) (*Node, bool, error) {
	n := &Node{Kind: KindAndNot}
	for i := 0; i < d.Arity; i++ {
		hidden := i >= 1
		child, skipped, err := b.next(rewriteDisabled, hidden, "")
		if err != nil {
			return nil, false, err
		}
		if skipped {
			continue
		}
		markHidden(child, hidden)
		n.Children = append(n.Children, child)
	}
	return n, false, nil
}

func markHidden(n *Node, hidden bool) {
	if !hidden {
		return
	}
	if n.Kind == KindTerm {
		n.Ranked = false
		return
	}
	for _, c := range n.Children {
		markHidden(c, true)
	}
}

// buildNear builds NEAR/ONEAR: children are built with rewrite disabled.
func (b *builder) buildNear(kind NodeKind, d NodeDescriptor) (*Node, bool, error) {
	n := &Node{Kind: kind}
	if d.NearDistance != nil {
		n.NearDistance = *d.NearDistance
	}
	n.ElementGap = d.ElementGap
	for i := 0; i < d.Arity; i++ {
		child, skipped, err := b.next(true, false, "")
		if err != nil {
			return nil, false, err
		}
		if !skipped {
			n.Children = append(n.Children, child)
		}
	}
	return n, false, nil
}

// buildFixedArity builds Phrase/Equiv/other MultiTerm-shaped nodes whose
// children are built with the given rewrite-disabled flag and, for a
// SameElement parent, composed index names.
func (b *builder) buildFixedArity(kind NodeKind, d NodeDescriptor, rewriteDisabled, hidden bool, sameElementIndex string) (*Node, bool, error) {
	n := &Node{Kind: kind, Index: d.Index}
	for i := 0; i < d.Arity; i++ {
		child, skipped, err := b.next(rewriteDisabled, hidden, sameElementIndex)
		if err != nil {
			return nil, false, err
		}
		if !skipped {
			n.Children = append(n.Children, child)
		}
	}
	return n, false, nil
}

// buildSameElement builds SameElement: each child's index P.C is composed
// from the parent's index P and the child's own index C.
func (b *builder) buildSameElement(d NodeDescriptor, hidden bool) (*Node, bool, error) {
	n := &Node{Kind: KindSameElement, Index: d.Index}
	for i := 0; i < d.Arity; i++ {
		child, skipped, err := b.next(true, hidden, d.Index)
		if err != nil {
			return nil, false, err
		}
		if !skipped {
			n.Children = append(n.Children, child)
		}
	}
	return n, false, nil
}

// buildTerm builds a Term leaf, applying the sddocname-to-TRUE rule,
// SameElement index composition, and numeric-string rewriting.
func (b *builder) buildTerm(d NodeDescriptor, tt TermType, rewriteDisabled, hidden bool, sameElementIndex string) (*Node, bool, error) {
	index := d.Index
	if sameElementIndex != "" {
		index = sameElementIndex + "." + index
	}

	if index == "sddocname" {
		return &Node{Kind: KindTrue}, false, nil
	}

	weight := int32(1)
	if d.Weight != nil {
		weight = *d.Weight
	}
	var uid uint32
	if d.UniqueID != nil {
		uid = *d.UniqueID
	}

	n := &Node{
		Kind:        KindTerm,
		Index:       index,
		TermType:    tt,
		TermText:    d.Term,
		IntegerTerm: d.IntegerTerm,
		Weight:      weight,
		UniqueID:    uid,
		Ranked:      !hidden,
	}

	if !rewriteDisabled && tt == TermWord && b.cfg.IsTextMatching(index) {
		if rewritten := rewriteNumericString(n, weight, uid); rewritten != nil {
			return rewritten, false, nil
		}
	}

	return n, false, nil
}

// rewriteNumericString rewrites numeric-looking word terms:
// a word term whose text parses as a non-integer number containing '.' or
// '-' becomes EQUIV(original, phrase-of-numeric-parts). Returns nil if the
// term doesn't qualify.
func rewriteNumericString(original *Node, weight int32, uid uint32) *Node {
	text := original.TermText
	if !strings.ContainsAny(text, ".-") {
		return nil
	}
	if _, err := strconv.ParseInt(text, 10, 64); err == nil {
		return nil // plain integer: no rewrite
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return nil // not numeric at all
	}

	parts := splitNumericParts(text)
	if len(parts) < 2 {
		return nil
	}

	phrase := &Node{Kind: KindPhrase}
	for _, p := range parts {
		phrase.Children = append(phrase.Children, &Node{
			Kind: KindTerm, Index: original.Index, TermText: p, TermType: TermWord,
			Weight: weight, UniqueID: uid, Ranked: original.Ranked,
		})
	}

	return &Node{
		Kind:      KindMultiTerm,
		MultiKind: MultiEquiv,
		Index:     original.Index,
		Children:  []*Node{original, phrase},
	}
}

// splitNumericParts splits "3.14" into ["3", "14"] and "12-34" into
// ["12", "34"], discarding empty parts from leading signs/separators.
func splitNumericParts(text string) []string {
	var parts []string
	var cur strings.Builder
	for _, r := range text {
		if r == '.' || r == '-' {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
