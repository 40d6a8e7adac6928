// Package collector implements the bounded top-K hit collector: while fewer
// than K hits are held it is an unordered slice, and once full it behaves as
// a max-heap over whichever comparator is configured (rank-descending or
// sort-key-ascending), so a losing challenger is discarded in O(log K)
// instead of forcing a full re-sort.
package collector

import "container/heap"

// MatchData is an opaque, per-document snapshot captured at add-time so a
// later second-phase rank pass can recompute features without re-walking
// the query tree against the live (and by-then-overwritten) match state.
type MatchData interface{}

// Hit is one retained top-K record.
type Hit struct {
	Lid       uint32
	Score     float64
	SortKey   []byte
	MatchData MatchData
}

// Collector owns at most Capacity Hit records.
type Collector struct {
	capacity  int
	useSortKey bool
	hits      []Hit
	isHeap    bool
}

// New constructs a collector bounded to capacity hits, ordered by rank
// score. Capacity 0 is legal: AddHit always returns false and the
// collector stays empty.
func New(capacity int) *Collector {
	return &Collector{capacity: capacity}
}

// NewSortKeyed constructs a collector ordered by ascending sort-key bytes
// instead of rank score.
func NewSortKeyed(capacity int) *Collector {
	return &Collector{capacity: capacity, useSortKey: true}
}

// Len reports the number of currently retained hits.
func (c *Collector) Len() int { return len(c.hits) }

// AddHit offers a candidate hit to the collector, returning whether it was
// retained. match is copied in by reference (the caller guarantees the
// value itself won't mutate once passed, since the live matching
// structures are overwritten on every document).
func (c *Collector) AddHit(lid uint32, score float64, sortKey []byte, match MatchData) bool {
	if c.capacity <= 0 {
		return false
	}
	cand := Hit{Lid: lid, Score: score, SortKey: sortKey, MatchData: match}

	if len(c.hits) < c.capacity {
		c.hits = append(c.hits, cand)
		c.isHeap = false
		if len(c.hits) == c.capacity {
			heap.Init((*hitHeap)(c))
			c.isHeap = true
		}
		return true
	}

	worst := c.hits[0]
	beats := false
	if c.useSortKey {
		beats = cmpSort(cand, worst) < 0
	} else {
		beats = cmpRank(cand, worst) < 0
	}
	if !beats {
		return false
	}
	c.hits[0] = cand
	heap.Fix((*hitHeap)(c), 0)
	return true
}

// SortByDocID restores ascending-lid order, required before emission; the
// container is no longer usable as a heap afterward (matching AddHit
// would require re-heapifying, which callers don't do post-emission).
func (c *Collector) SortByDocID() {
	hits := c.hits
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && hits[j-1].Lid > hits[j].Lid {
			hits[j-1], hits[j] = hits[j], hits[j-1]
			j--
		}
	}
	c.isHeap = false
}

// Hits returns the retained hits in their current container order (heap
// order before SortByDocID, lid-ascending after).
func (c *Collector) Hits() []Hit { return c.hits }

// RankProgram computes one or more named feature values for a hit's
// captured match-data; the real implementation lives in package rank.
type RankProgram interface {
	Run(match MatchData, featureNames []string) (map[string]float64, error)
}

// GetFeatureSet runs the rank program once per retained hit (in current
// container order) and extracts the requested features into a matrix
// indexed [hit][feature].
func (c *Collector) GetFeatureSet(program RankProgram, featureNames []string) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(c.hits))
	for i, h := range c.hits {
		features, err := program.Run(h.MatchData, featureNames)
		if err != nil {
			return nil, err
		}
		out[i] = features
	}
	return out, nil
}

// GetMatchFeatures runs the rank program over every retained hit and
// returns the flattened per-hit feature maps, an alias of GetFeatureSet
// kept distinct to mirror the two call sites in spec: one used for the
// final feature set served to callers, one for match-feature-only output.
func (c *Collector) GetMatchFeatures(program RankProgram, featureNames []string) ([]map[string]float64, error) {
	return c.GetFeatureSet(program, featureNames)
}

// ResultSink receives the sorted hits during FillResult; it is external to
// this package (the search result assembler).
type ResultSink interface {
	AddResult(lid uint32, score float64, matchFeatures map[string]float64)
}

// FillResult sorts by lid and writes every retained hit into sink,
// optionally attaching its match-feature set when program is non-nil.
func (c *Collector) FillResult(sink ResultSink, program RankProgram, featureNames []string) error {
	c.SortByDocID()
	for _, h := range c.hits {
		var features map[string]float64
		if program != nil {
			f, err := program.Run(h.MatchData, featureNames)
			if err != nil {
				return err
			}
			features = f
		}
		sink.AddResult(h.Lid, h.Score, features)
	}
	return nil
}

// cmpRank orders by higher score first, ties broken by smaller lid.
func cmpRank(a, b Hit) int {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}
	if a.Lid != b.Lid {
		if a.Lid < b.Lid {
			return -1
		}
		return 1
	}
	return 0
}

// cmpSort orders by ascending sort-key bytes (memcmp semantics, shorter
// wins on a common prefix tie), falling back to lid.
func cmpSort(a, b Hit) int {
	n := len(a.SortKey)
	if len(b.SortKey) < n {
		n = len(b.SortKey)
	}
	for i := 0; i < n; i++ {
		if a.SortKey[i] != b.SortKey[i] {
			if a.SortKey[i] < b.SortKey[i] {
				return -1
			}
			return 1
		}
	}
	if len(a.SortKey) != len(b.SortKey) {
		if len(a.SortKey) < len(b.SortKey) {
			return -1
		}
		return 1
	}
	if a.Lid != b.Lid {
		if a.Lid < b.Lid {
			return -1
		}
		return 1
	}
	return 0
}

// hitHeap implements container/heap over Collector.hits as a max-heap of
// "worst" elements at the root: the element that should be evicted first
// sorts greatest under the configured comparator.
type hitHeap Collector

func (h *hitHeap) Len() int { return len(h.hits) }

func (h *hitHeap) Less(i, j int) bool {
	var cmp int
	if h.useSortKey {
		cmp = cmpSort(h.hits[i], h.hits[j])
	} else {
		cmp = cmpRank(h.hits[i], h.hits[j])
	}
	// Root must be the worst hit, i.e. the one that sorts greatest by the
	// comparator (cmpRank/cmpSort return <0 for "better").
	return cmp > 0
}

func (h *hitHeap) Swap(i, j int) { h.hits[i], h.hits[j] = h.hits[j], h.hits[i] }

func (h *hitHeap) Push(x interface{}) { h.hits = append(h.hits, x.(Hit)) }

func (h *hitHeap) Pop() interface{} {
	n := len(h.hits)
	x := h.hits[n-1]
	h.hits = h.hits[:n-1]
	return x
}
