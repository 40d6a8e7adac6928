// Package rank implements the per-document match-data unpack and rank
// program evaluation stage that sits between query tree evaluation
// (package querytree) and the top-K collector (package collector).
package rank

import (
	"math"

	"github.com/streamsearch/engine/internal/collector"
	"github.com/streamsearch/engine/internal/querytree"
)

// Stage names the rank processor's state machine positions: MatchData is
// built once per query (NewMatchData), refreshed per document (Unpack) and
// scored (Run). Nothing in this package records or checks the current Stage.
type Stage int

const (
	StageBuilding Stage = iota
	StageMatching
	StageSecondPhase
	StageEmitting
)

// FieldInfo describes a field the ranker reads: its configured length (for
// interleaved field_length features) used when a term's own hit doesn't
// carry an element length.
type FieldInfo struct {
	FieldID uint32
	Length  int
}

// TermFieldMatchData is one (element_id, position, weight, element_length)
// entry copied from a term's HitList during unpack.
type TermFieldMatchData struct {
	ElementID     uint32
	Position      uint32
	Weight        int32
	ElementLength int
}

// TermMatchData is the per-(term, field) match state the rank program
// reads. RawScore is set instead of Entries for nearest-neighbor terms.
type TermMatchData struct {
	TermID      uint32
	Index       string
	FieldID     uint32
	Weight      int32
	PhraseLen   int
	Entries     []TermFieldMatchData
	FieldLength int
	NumOccs     int
	RawScore    *float64
}

// MatchData is the shared structure built once per query (Building stage)
// and refreshed once per document (Matching stage).
type MatchData struct {
	Terms  []*TermMatchData
	fields map[uint32]FieldInfo
}

// NewMatchData walks the query tree's ranked, non-hidden term leaves and
// allocates one TermMatchData per term, binding field-length info from
// fields. Phrase-continuation children (index 1..n of a Phrase) are
// excluded; the phrase's first term keeps its slot.
func NewMatchData(root *querytree.Node, fields []FieldInfo) *MatchData {
	md := &MatchData{fields: make(map[uint32]FieldInfo, len(fields))}
	for _, f := range fields {
		md.fields[f.FieldID] = f
	}
	walkRankedTerms(root, false, md)
	return md
}

func walkRankedTerms(n *querytree.Node, insidePhrase bool, md *MatchData) {
	if n == nil {
		return
	}
	if n.Kind == querytree.KindTerm {
		if n.Ranked && !insidePhrase {
			md.Terms = append(md.Terms, &TermMatchData{
				TermID: n.UniqueID,
				Index:  n.Index,
				Weight: n.Weight,
			})
		}
		return
	}
	for i, c := range n.Children {
		walkRankedTerms(c, insidePhrase || (n.Kind == querytree.KindPhrase && i > 0), md)
	}
}

// Unpack copies each ranked term's current-document HitList into its
// TermMatchData, recomputing field_length/num_occs interleaved features.
// nearestNeighborScores supplies raw scores for terms of nearest-neighbor
// type, keyed by unique id, bypassing HitList entirely.
func Unpack(root *querytree.Node, md *MatchData, ctx *querytree.EvalContext, nearestNeighborScores map[uint32]float64) {
	byID := make(map[uint32]*TermMatchData, len(md.Terms))
	for _, t := range md.Terms {
		byID[t.TermID] = t
		t.Entries = t.Entries[:0]
		t.NumOccs = 0
		t.RawScore = nil
	}
	unpackWalk(root, ctx, byID, md, nearestNeighborScores)
}

func unpackWalk(n *querytree.Node, ctx *querytree.EvalContext, byID map[uint32]*TermMatchData, md *MatchData, nn map[uint32]float64) {
	if n == nil {
		return
	}
	if n.Kind == querytree.KindTerm {
		td, ok := byID[n.UniqueID]
		if !ok {
			return
		}
		if score, ok := nn[n.UniqueID]; ok {
			v := score
			td.RawScore = &v
			return
		}
		for _, h := range n.EvaluateHits(ctx) {
			fieldLen := int(h.Position) + 1
			if fi, ok := md.fields[h.FieldID]; ok {
				fieldLen = fi.Length
			}
			td.Entries = append(td.Entries, TermFieldMatchData{
				ElementID:     h.ElementID,
				Position:      h.Position,
				Weight:        h.ElementWeight,
				ElementLength: fieldLen,
			})
			td.NumOccs++
			td.FieldLength = fieldLen
			td.FieldID = h.FieldID
		}
		return
	}
	for _, c := range n.Children {
		unpackWalk(c, ctx, byID, md, nn)
	}
}

// Program computes a score from the current match-data snapshot. Separate
// Program values are configured for first-phase, second-phase,
// summary-features, match-features, and an optional dump program, mirroring
// the distinct rank expressions a real deployment binds per query profile.
type Program func(md *MatchData) float64

// Run evaluates program against md, clamping non-finite results to -Inf
// per the unpack/run contract.
func Run(program Program, md *MatchData) float64 {
	score := program(md)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return math.Inf(-1)
	}
	return score
}

// FeatureProgram computes named feature values from a match-data snapshot,
// used for summary-features/match-features extraction from collector.Hit.
type FeatureProgram func(md *MatchData, names []string) map[string]float64

// Adapter satisfies collector.RankProgram by running a FeatureProgram
// against a MatchData captured as a collector.MatchData payload.
type Adapter struct {
	Features FeatureProgram
}

// Run implements collector.RankProgram.
func (a Adapter) Run(match collector.MatchData, names []string) (map[string]float64, error) {
	md, ok := match.(*MatchData)
	if !ok || md == nil {
		return map[string]float64{}, nil
	}
	return a.Features(md, names), nil
}

// Snapshot deep-copies the term entries of md so it can be captured by the
// collector independent of later documents' unpack calls overwriting the
// live structure.
func Snapshot(md *MatchData) *MatchData {
	out := &MatchData{fields: md.fields}
	out.Terms = make([]*TermMatchData, len(md.Terms))
	for i, t := range md.Terms {
		cp := *t
		cp.Entries = append([]TermFieldMatchData(nil), t.Entries...)
		if t.RawScore != nil {
			v := *t.RawScore
			cp.RawScore = &v
		}
		out.Terms[i] = &cp
	}
	return out
}
