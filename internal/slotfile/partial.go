package slotfile

import (
	"fmt"
	"sort"

	"github.com/streamsearch/engine/internal/errors"
	"github.com/streamsearch/engine/internal/slotfile/iow"
	"github.com/streamsearch/engine/internal/slotfile/planner"
)

// FlushResult reports which write path a Flush took.
type FlushResult int

const (
	// FlushUnaltered means no slot was altered; nothing was written.
	FlushUnaltered FlushResult = iota
	// FlushPartial means modified chunks were appended in place and the
	// metadata table rewritten, with the file size unchanged.
	FlushPartial
	// FlushRewritten means the file was fully rewritten and compacted.
	FlushRewritten
)

func (r FlushResult) String() string {
	switch r {
	case FlushUnaltered:
		return "unaltered"
	case FlushPartial:
		return "partial"
	default:
		return "rewritten"
	}
}

// Flush persists pending in-memory modifications: the in-place partial
// write when the trailing free space fits them and utilisation stays above
// the configured fill rate, the compacting full rewrite otherwise. Appends
// always take the rewrite path since they change the file size.
func (sf *File) Flush() (FlushResult, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if !sf.slotsAltered && len(sf.modifiedHeader) == 0 && len(sf.modifiedBody) == 0 {
		return FlushUnaltered, nil
	}
	if !sf.appended {
		ok, err := sf.partialWrite()
		if err != nil {
			return FlushUnaltered, err
		}
		if ok {
			return FlushPartial, nil
		}
	}
	if err := sf.rewriteLocked(); err != nil {
		return FlushUnaltered, err
	}
	return FlushRewritten, nil
}

// partialWrite attempts the fast path, reporting false (and no error) when
// the modified chunks do not fit in the trailing free bytes or utilisation
// would fall below the configured minimum.
func (sf *File) partialWrite() (bool, error) {
	headerExtent := sf.usedExtent(PartHeader)
	bodyExtent := sf.usedExtent(PartBody)

	var neededHeader, neededBody int64
	for _, chunk := range sf.modifiedHeader {
		neededHeader += align512(int64(len(chunk)))
	}
	for _, chunk := range sf.modifiedBody {
		neededBody += align512(int64(len(chunk)))
	}
	if headerExtent+neededHeader > sf.blockSize(PartHeader) {
		return false, nil
	}
	if bodyExtent+neededBody > sf.blockSize(PartBody) {
		return false, nil
	}

	if sf.utilisationAfter() < float64(sf.cfg.MinFillRate) {
		return false, nil
	}

	w, err := iow.New(sf.f, true)
	if err != nil {
		return false, errors.New(errors.ErrCodeIOFailure, "position buffered writer", err)
	}

	if err := sf.appendModified(w, PartHeader, sf.modifiedHeader, headerExtent); err != nil {
		return false, err
	}
	if err := sf.appendModified(w, PartBody, sf.modifiedBody, bodyExtent); err != nil {
		return false, err
	}
	if err := w.Flush(); err != nil {
		return false, errors.New(errors.ErrCodeIOFailure, "flush partial write data", err)
	}

	if err := sf.writeMetaRegion(); err != nil {
		return false, err
	}
	if err := sf.f.Sync(); err != nil {
		return false, errors.New(errors.ErrCodeIOFailure, "sync partial write", err)
	}

	sf.modifiedHeader = make(map[int][]byte)
	sf.modifiedBody = make(map[int][]byte)
	sf.slotsAltered = false
	return true, nil
}

// usedExtent is the 512-aligned end of the furthest on-disk chunk within a
// part's block, excluding slots whose content is pending in memory.
func (sf *File) usedExtent(part Part) int64 {
	var extent int64
	for i, s := range sf.slots {
		pos, size, pending := sf.slotLocation(part, i, s)
		if pending || size == 0 {
			continue
		}
		if end := align512(pos + size); end > extent {
			extent = end
		}
	}
	return extent
}

func (sf *File) slotLocation(part Part, i int, s Slot) (pos, size int64, pending bool) {
	if part == PartHeader {
		_, pending = sf.modifiedHeader[i]
		return int64(s.HeaderPos), int64(s.HeaderLen), pending
	}
	_, pending = sf.modifiedBody[i]
	return int64(s.BodyPos), int64(s.BodyLen), pending
}

// utilisationAfter estimates live-data share of the data blocks once the
// pending chunks land.
func (sf *File) utilisationAfter() float64 {
	var live int64
	for i, s := range sf.slots {
		if chunk, ok := sf.modifiedHeader[i]; ok {
			live += align512(int64(len(chunk)))
		} else {
			live += align512(int64(s.HeaderLen))
		}
		if chunk, ok := sf.modifiedBody[i]; ok {
			live += align512(int64(len(chunk)))
		} else {
			live += align512(int64(s.BodyLen))
		}
	}
	total := sf.blockSize(PartHeader) + sf.blockSize(PartBody)
	if total == 0 {
		return 0
	}
	return float64(live) / float64(total)
}

// appendModified writes each pending chunk after the part's current extent,
// 512-aligned and 0xFF padded, updating its slot's position and pinning the
// bytes in the cache.
func (sf *File) appendModified(w *iow.BufferedWriter, part Part, modified map[int][]byte, extent int64) error {
	if len(modified) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(modified))
	for i := range modified {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	base := sf.blockOffset(part)
	if err := w.SetFilePosition(base + extent); err != nil {
		return errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("seek %s block extent", part), err)
	}
	for _, i := range indexes {
		chunk := modified[i]
		newPos := w.Position() - base
		if _, err := w.Write(chunk); err != nil {
			return errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("append %s chunk", part), err)
		}
		w.AlignUp()

		if part == PartHeader {
			sf.slots[i].HeaderPos = uint32(newPos)
			sf.slots[i].HeaderLen = uint32(len(chunk))
		} else {
			sf.slots[i].BodyPos = uint64(newPos)
			sf.slots[i].BodyLen = uint64(len(chunk))
		}
		sf.cache[cacheKey{part, newPos, int64(len(chunk))}] = append([]byte(nil), chunk...)
	}
	return nil
}

// writeMetaRegion rewrites the header prefix and metadata table in place,
// refreshing the file checksum and the loaded-bytes echo.
func (sf *File) writeMetaRegion() error {
	region := sf.encodeMetaRegion()
	if _, err := sf.f.WriteAt(region, 0); err != nil {
		return errors.New(errors.ErrCodeIOFailure, "write metadata table", err)
	}
	sf.firstHeaderBytes = region
	return nil
}

// encodeMetaRegion serializes the header and full metadata table for the
// current slot set. With no modifications since load it reproduces the
// loaded bytes exactly.
func (sf *File) encodeMetaRegion() []byte {
	sf.header.FileChecksum = fileChecksumOf(sf.slots)
	return encodeMetaRegionFor(sf.header, sf.slots)
}

// MetaRegionEquals reports whether the current in-memory metadata encodes
// byte-identically to the region loaded from disk, the echo property an
// unmodified open must preserve.
func (sf *File) MetaRegionEquals() bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	region := sf.encodeMetaRegion()
	if len(region) != len(sf.firstHeaderBytes) {
		return false
	}
	for i := range region {
		if region[i] != sf.firstHeaderBytes[i] {
			return false
		}
	}
	return true
}

// locationsOf lists the live on-disk locations of a part, excluding
// pending-in-memory slots, for cache warm-up.
func (sf *File) locationsOf(part Part) []planner.Location {
	var locs []planner.Location
	for i, s := range sf.slots {
		pos, size, pending := sf.slotLocation(part, i, s)
		if pending || size == 0 {
			continue
		}
		locs = append(locs, planner.Location{Pos: pos, Size: size})
	}
	return locs
}
