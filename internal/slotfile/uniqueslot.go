package slotfile

import "github.com/streamsearch/engine/internal/slotfile/planner"

// UniqueLocation groups the live slots pointing at one distinct on-disk
// location of a part, the primitive the full rewrite uses to write shared
// (content-addressed) chunks exactly once.
type UniqueLocation struct {
	Loc   planner.Location
	Slots []int
}

// uniqueLocations enumerates each distinct location in first-appearance
// (timestamp) order with the indexes of the slots referencing it.
// Zero-size locations and indexes in skip (pending in-memory content) are
// excluded.
func uniqueLocations(locs []planner.Location, skip map[int]bool) []UniqueLocation {
	var out []UniqueLocation
	byLoc := make(map[planner.Location]int, len(locs))
	for i, l := range locs {
		if l.Size == 0 || skip[i] {
			continue
		}
		if at, ok := byLoc[l]; ok {
			out[at].Slots = append(out[at].Slots, i)
			continue
		}
		byLoc[l] = len(out)
		out = append(out, UniqueLocation{Loc: l, Slots: []int{i}})
	}
	return out
}

// UniqueHeaderLocations enumerates the distinct header-chunk locations of
// the given slots.
func UniqueHeaderLocations(slots []Slot) []UniqueLocation {
	locs := make([]planner.Location, len(slots))
	for i, s := range slots {
		locs[i] = planner.Location{Pos: int64(s.HeaderPos), Size: int64(s.HeaderLen)}
	}
	return uniqueLocations(locs, nil)
}

// UniqueBodyLocations enumerates the distinct body-chunk locations of the
// given slots, skipping slots without a body.
func UniqueBodyLocations(slots []Slot) []UniqueLocation {
	locs := make([]planner.Location, len(slots))
	for i, s := range slots {
		locs[i] = planner.Location{Pos: int64(s.BodyPos), Size: int64(s.BodyLen)}
	}
	return uniqueLocations(locs, nil)
}
