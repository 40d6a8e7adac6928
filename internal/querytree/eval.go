package querytree

import "github.com/RoaringBitmap/roaring/v2"

// EvalContext carries the per-document state threaded through Evaluate: the
// set of element ids currently forbidden by an enclosing AND-NOT's negative
// children, consulted by the NEAR/ONEAR window filter.
type EvalContext struct {
	forbidden *roaring.Bitmap
}

// NewEvalContext returns an empty context (no forbidden elements).
func NewEvalContext() *EvalContext {
	return &EvalContext{}
}

func (c *EvalContext) isForbidden(elementID uint32) bool {
	return c != nil && c.forbidden != nil && c.forbidden.Contains(elementID)
}

// withForbidden returns a child context with the given element ids added to
// the forbidden set, leaving the receiver untouched.
func (c *EvalContext) withForbidden(ids *roaring.Bitmap) *EvalContext {
	if ids == nil || ids.IsEmpty() {
		return c
	}
	merged := ids.Clone()
	if c != nil && c.forbidden != nil {
		merged.Or(c.forbidden)
	}
	return &EvalContext{forbidden: merged}
}

// Evaluate computes the node's boolean match result against the document,
// memoizing so repeated references (e.g. RANK's first child feeding both the
// filter and the ranking pass) only walk the subtree once per document.
func (n *Node) Evaluate(ctx *EvalContext) bool {
	if n.evaluated {
		return n.evalResult
	}
	n.evalResult = n.evaluate(ctx)
	n.evaluated = true
	return n.evalResult
}

func (n *Node) evaluate(ctx *EvalContext) bool {
	switch n.Kind {
	case KindTrue:
		return true

	case KindTerm:
		return n.hitsValid && len(n.hits) > 0

	case KindAnd:
		for _, c := range n.Children {
			if !c.Evaluate(ctx) {
				return false
			}
		}
		return len(n.Children) > 0

	case KindOr:
		for _, c := range n.Children {
			if c.Evaluate(ctx) {
				return true
			}
		}
		return false

	case KindAndNot:
		if len(n.Children) == 0 {
			return false
		}
		if !n.Children[0].Evaluate(ctx) {
			return false
		}
		forbidden := collectElementIDs(n.Children[1:], ctx)
		negCtx := ctx.withForbidden(forbidden)
		for _, c := range n.Children[1:] {
			if c.Evaluate(negCtx) {
				return false
			}
		}
		return true

	case KindRankWith:
		if len(n.Children) == 0 {
			return false
		}
		return n.Children[0].Evaluate(ctx)

	case KindPhrase:
		return len(n.EvaluateHits(ctx)) > 0

	case KindSameElement:
		return len(n.EvaluateHits(ctx)) > 0

	case KindNear:
		return n.evaluateNear(ctx, false)

	case KindONear:
		return n.evaluateNear(ctx, true)

	case KindMultiTerm:
		switch n.MultiKind {
		case MultiEquiv, MultiWordAlternatives, MultiIn:
			for _, c := range n.Children {
				if c.Evaluate(ctx) {
					return true
				}
			}
			return false
		default: // WeightedSet, DotProduct, WAND: any matching member counts
			for _, c := range n.Children {
				if c.Evaluate(ctx) {
					return true
				}
			}
			return false
		}

	default:
		return false
	}
}

// collectElementIDs gathers the union of element ids any of the given
// subtrees match, used to build the AND-NOT forbidden set.
func collectElementIDs(children []*Node, ctx *EvalContext) *roaring.Bitmap {
	out := roaring.New()
	for _, c := range children {
		for _, h := range c.EvaluateHits(ctx) {
			out.Add(h.ElementID)
		}
	}
	return out
}

// EvaluateHits computes the node's contributing hit list, memoized
// alongside the boolean result. Connectors that don't naturally produce a
// combined positional hit list (AND, OR, RANK) return the concatenation of
// their children's hits, sorted and deduplicated, for rank-feature purposes.
func (n *Node) EvaluateHits(ctx *EvalContext) HitList {
	if n.hitsValid {
		return n.hits
	}
	n.hits = n.computeHits(ctx)
	n.hitsValid = true
	return n.hits
}

func (n *Node) computeHits(ctx *EvalContext) HitList {
	switch n.Kind {
	case KindTerm:
		return n.hits // set externally via SetHits; already valid if present

	case KindTrue:
		return nil

	case KindPhrase:
		return phraseHits(n.Children, ctx)

	case KindSameElement:
		return sameElementHits(n.Children, ctx)

	case KindAndNot:
		if len(n.Children) == 0 {
			return nil
		}
		if !n.Children[0].Evaluate(ctx) {
			return nil
		}
		forbidden := collectElementIDs(n.Children[1:], ctx)
		positive := n.Children[0].EvaluateHits(ctx)
		if forbidden.IsEmpty() {
			return positive
		}
		var out HitList
		for _, h := range positive {
			if !forbidden.Contains(h.ElementID) {
				out = append(out, h)
			}
		}
		return out

	case KindMultiTerm:
		var all HitList
		for _, c := range n.Children {
			all = append(all, c.EvaluateHits(ctx)...)
		}
		return all.Sort()

	case KindNear, KindONear:
		var all HitList
		for _, c := range n.Children {
			all = append(all, c.EvaluateHits(ctx)...)
		}
		return all.Sort()

	default: // AND, OR, RANK
		var all HitList
		for _, c := range n.Children {
			all = append(all, c.EvaluateHits(ctx)...)
		}
		return all.Sort()
	}
}

// phraseHits returns, for each field/element where every child term occurs
// at consecutive positions (child i at position base+i), one synthetic hit
// at the last term's position. Children must already carry sorted hits.
func phraseHits(children []*Node, ctx *EvalContext) HitList {
	if len(children) == 0 {
		return nil
	}
	first := children[0].EvaluateHits(ctx)
	var out HitList
	for _, base := range first {
		matched := true
		for i := 1; i < len(children); i++ {
			want := Hit{FieldID: base.FieldID, ElementID: base.ElementID, Position: base.Position + uint32(i)}
			if !hasHitAt(children[i].EvaluateHits(ctx), want) {
				matched = false
				break
			}
		}
		if matched {
			// Emit the matching position of the last term.
			last := base
			last.Position = base.Position + uint32(len(children)-1)
			out = append(out, last)
		}
	}
	return out.Sort()
}

func hasHitAt(hits HitList, want Hit) bool {
	// hits is sorted by (field, element, position); linear scan is fine at
	// the per-document hit-list sizes this operates over.
	for _, h := range hits {
		if h.FieldID == want.FieldID && h.ElementID == want.ElementID && h.Position == want.Position {
			return true
		}
	}
	return false
}

// sameElementHits returns one hit per element id in which every child term
// occurs (under the composed "parent.child" index set up at build time).
func sameElementHits(children []*Node, ctx *EvalContext) HitList {
	if len(children) == 0 {
		return nil
	}
	common := roaring.New()
	for _, h := range children[0].EvaluateHits(ctx) {
		common.Add(h.ElementID)
	}
	for _, c := range children[1:] {
		ids := roaring.New()
		for _, h := range c.EvaluateHits(ctx) {
			ids.Add(h.ElementID)
		}
		common.And(ids)
	}
	if common.IsEmpty() {
		return nil
	}
	var out HitList
	for _, h := range children[0].EvaluateHits(ctx) {
		if common.Contains(h.ElementID) {
			out = append(out, h)
		}
	}
	return out.Sort()
}
