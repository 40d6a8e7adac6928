// Package planner implements the slot file engine's range planner: given a
// set of uncached (pos, size) locations, it coalesces neighbours separated
// by no more than a configured gap and rounds each resulting range to
// 512-byte boundaries, so the caller issues one pread per coalesced range
// instead of one per requested location.
package planner

import "sort"

const alignment = 512

// Location is a byte-range request: pos bytes in, size bytes long.
type Location struct {
	Pos  int64
	Size int64
}

// End returns the exclusive end offset of the location.
func (l Location) End() int64 { return l.Pos + l.Size }

// Coalesce sorts locations by position and merges any two whose gap is no
// larger than maxGap, then rounds each merged range outward to 512-byte
// boundaries. The returned ranges cover every input location.
func Coalesce(locations []Location, maxGap int64) []Location {
	if len(locations) == 0 {
		return nil
	}
	sorted := append([]Location(nil), locations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pos < sorted[j].Pos })

	var merged []Location
	cur := sorted[0]
	for _, l := range sorted[1:] {
		gap := l.Pos - cur.End()
		if gap <= maxGap {
			if l.End() > cur.End() {
				cur.Size = l.End() - cur.Pos
			}
			continue
		}
		merged = append(merged, cur)
		cur = l
	}
	merged = append(merged, cur)

	for i := range merged {
		merged[i] = alignOut(merged[i])
	}
	return merged
}

// alignOut rounds a location outward to the nearest enclosing 512-byte
// aligned range.
func alignOut(l Location) Location {
	start := (l.Pos / alignment) * alignment
	end := ((l.End() + alignment - 1) / alignment) * alignment
	return Location{Pos: start, Size: end - start}
}

// Split extracts the byte range belonging to one original location from a
// coalesced range's already-read data, given that coalesced.Pos <= want.Pos
// and coalesced.End() >= want.End().
func Split(data []byte, coalesced, want Location) []byte {
	offset := want.Pos - coalesced.Pos
	return data[offset : offset+want.Size]
}
