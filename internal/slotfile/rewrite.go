package slotfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/streamsearch/engine/internal/errors"
	"github.com/streamsearch/engine/internal/slotfile/iow"
	"github.com/streamsearch/engine/internal/slotfile/planner"
)

// writeUnit is one chunk the rewrite emits: either a distinct on-disk
// location shared by one or more slots, or a single slot's pending
// in-memory content. Units are ordered by their first referencing slot so
// the new file lays chunks out in timestamp order.
type writeUnit struct {
	firstSlot int
	loc       planner.Location // on-disk source; Size 0 when pending
	pending   []byte
	slots     []int
}

// rewriteLocked writes the compacted file to "<path>.new" and atomically
// renames it over the original. Content-addressed deduplication writes
// each distinct location once; every slot referencing it is repointed.
func (sf *File) rewriteLocked() error {
	if err := sf.ensureCachedLocked(PartHeader, sf.locationsOf(PartHeader)); err != nil {
		return err
	}
	if err := sf.ensureCachedLocked(PartBody, sf.locationsOf(PartBody)); err != nil {
		return err
	}

	headerUnits := sf.writeUnits(PartHeader)
	bodyUnits := sf.writeUnits(PartBody)
	usedHeader := unitBytes(headerUnits)
	usedBody := unitBytes(bodyUnits)

	cfg := sf.cfg
	newMetaCount := int(clampInt64(
		int64(float64(len(sf.slots))*cfg.GrowFactor*cfg.OverrepresentMetaDataFactor),
		int64(cfg.MinimumFileMetaSlots), int64(cfg.MaximumFileMetaSlots)))
	if len(sf.slots) > newMetaCount {
		return errors.New(errors.ErrCodeFileFull,
			fmt.Sprintf("%d live slots exceed maximum meta capacity %d", len(sf.slots), newMetaCount), nil)
	}

	newHeaderBlockSize := clampInt64(
		alignUpTo(int64(float64(usedHeader)*cfg.GrowFactor*cfg.OverrepresentHeaderBlockFactor), Alignment),
		int64(cfg.MinimumFileHeaderBlockSize), int64(cfg.MaximumFileHeaderBlockSize))
	if usedHeader > newHeaderBlockSize {
		return errors.New(errors.ErrCodeFileFull,
			fmt.Sprintf("%d used header bytes exceed maximum header block size %d", usedHeader, newHeaderBlockSize), nil)
	}

	newBodyBlockSize := alignUpTo(int64(float64(usedBody)*cfg.GrowFactor), int64(cfg.FileBlockSize))
	if newBodyBlockSize < int64(cfg.FileBlockSize) {
		newBodyBlockSize = int64(cfg.FileBlockSize)
	}
	bodyStart := headerBlockStart(newMetaCount) + newHeaderBlockSize
	if bodyStart+newBodyBlockSize < int64(cfg.MinimumFileSize) {
		newBodyBlockSize = alignUpTo(int64(cfg.MinimumFileSize)-bodyStart, int64(cfg.FileBlockSize))
	}
	newFileSize := bodyStart + newBodyBlockSize
	if newFileSize > int64(cfg.MaximumFileSize) {
		return errors.New(errors.ErrCodeFileFull,
			fmt.Sprintf("rewrite would need %d bytes, exceeding maximum file size %d", newFileSize, cfg.MaximumFileSize), nil)
	}

	newPath := sf.path + ".new"
	nf, err := os.OpenFile(newPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("create %s", newPath), err)
	}
	cleanup := func(e error) error {
		nf.Close()
		os.Remove(newPath)
		return e
	}

	w, err := iow.New(nf, false)
	if err != nil {
		return cleanup(errors.New(errors.ErrCodeIOFailure, "position rewrite writer", err))
	}
	w.WriteGarbage(int(headerBlockStart(newMetaCount)))

	newSlots := append([]Slot(nil), sf.slots...)
	newCache := make(map[cacheKey][]byte)

	if err := sf.writeBlock(w, PartHeader, headerUnits, headerBlockStart(newMetaCount), newHeaderBlockSize, newSlots, newCache); err != nil {
		return cleanup(err)
	}
	if err := sf.writeBlock(w, PartBody, bodyUnits, bodyStart, newBodyBlockSize, newSlots, newCache); err != nil {
		return cleanup(err)
	}
	for i := range newSlots {
		if newSlots[i].BodyLen == 0 {
			newSlots[i].BodyPos = 0
		}
	}
	if err := w.Flush(); err != nil {
		return cleanup(errors.New(errors.ErrCodeIOFailure, "flush rewrite data", err))
	}

	newHeader := Header{Version: 1, MetaCount: uint32(newMetaCount), HeaderBlockSize: uint32(newHeaderBlockSize)}
	region := encodeMetaRegionFor(newHeader, newSlots)
	if _, err := nf.WriteAt(region, 0); err != nil {
		return cleanup(errors.New(errors.ErrCodeIOFailure, "write rewrite metadata table", err))
	}
	if err := nf.Sync(); err != nil {
		return cleanup(errors.New(errors.ErrCodeIOFailure, "sync rewrite", err))
	}
	if err := nf.Close(); err != nil {
		os.Remove(newPath)
		return errors.New(errors.ErrCodeIOFailure, "close rewrite", err)
	}
	if err := os.Rename(newPath, sf.path); err != nil {
		os.Remove(newPath)
		return errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("rename %s over %s", newPath, sf.path), err)
	}

	reopened, err := os.OpenFile(sf.path, os.O_RDWR, 0o644)
	if err != nil {
		return errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("reopen %s after rewrite", sf.path), err)
	}
	sf.f.Close()
	sf.f = reopened

	delta := newFileSize - sf.fileSize
	newHeader.FileChecksum = fileChecksumOf(newSlots)
	sf.header = newHeader
	sf.slots = newSlots
	sf.fileSize = newFileSize
	sf.cache = newCache
	sf.firstHeaderBytes = region
	sf.modifiedHeader = make(map[int][]byte)
	sf.modifiedBody = make(map[int][]byte)
	sf.appended = false
	sf.slotsAltered = false
	sf.needsRepair = false

	sf.log.Info("slot file rewritten", "file", sf.path, "slots", len(newSlots),
		"size", newFileSize, "delta", delta)
	if sf.OnSizeChange != nil {
		sf.OnSizeChange(delta)
	}
	return nil
}

// writeUnits plans a part's rewrite: one unit per distinct on-disk
// location (via the unique-slot generator) plus one per pending in-memory
// chunk, ordered by first referencing slot.
func (sf *File) writeUnits(part Part) []writeUnit {
	modified := sf.modifiedHeader
	if part == PartBody {
		modified = sf.modifiedBody
	}
	skip := make(map[int]bool, len(modified))
	for i := range modified {
		skip[i] = true
	}

	locs := make([]planner.Location, len(sf.slots))
	for i, s := range sf.slots {
		pos, size, _ := sf.slotLocation(part, i, s)
		locs[i] = planner.Location{Pos: pos, Size: size}
	}

	var units []writeUnit
	for _, ul := range uniqueLocations(locs, skip) {
		units = append(units, writeUnit{firstSlot: ul.Slots[0], loc: ul.Loc, slots: ul.Slots})
	}
	for i, chunk := range modified {
		if len(chunk) == 0 {
			continue
		}
		units = append(units, writeUnit{firstSlot: i, pending: chunk, slots: []int{i}})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].firstSlot < units[j].firstSlot })
	return units
}

// unitBytes sums the 512-aligned sizes of a part's write units.
func unitBytes(units []writeUnit) int64 {
	var n int64
	for _, u := range units {
		n += align512(u.size())
	}
	return n
}

func (u writeUnit) size() int64 {
	if u.pending != nil {
		return int64(len(u.pending))
	}
	return u.loc.Size
}

// writeBlock emits a part's units into the new file, repoints every
// referencing slot, pins the bytes in the new cache, and pads the block to
// its announced size.
func (sf *File) writeBlock(w *iow.BufferedWriter, part Part, units []writeUnit, blockStart, blockSize int64, newSlots []Slot, newCache map[cacheKey][]byte) error {
	for _, u := range units {
		data := u.pending
		if data == nil {
			data = sf.cache[cacheKey{part, u.loc.Pos, u.loc.Size}]
			if data == nil {
				return errors.New(errors.ErrCodeInternal,
					fmt.Sprintf("%s location %d+%d missing from cache during rewrite", part, u.loc.Pos, u.loc.Size), nil)
			}
		}
		newPos := w.Position() - blockStart
		if _, err := w.Write(data); err != nil {
			return errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("write %s chunk", part), err)
		}
		w.AlignUp()

		for _, i := range u.slots {
			if part == PartHeader {
				newSlots[i].HeaderPos = uint32(newPos)
				newSlots[i].HeaderLen = uint32(len(data))
			} else {
				newSlots[i].BodyPos = uint64(newPos)
				newSlots[i].BodyLen = uint64(len(data))
			}
		}
		newCache[cacheKey{part, newPos, int64(len(data))}] = append([]byte(nil), data...)
	}

	pad := blockStart + blockSize - w.Position()
	if pad < 0 {
		return errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("%s block overflow by %d bytes during rewrite", part, -pad), nil)
	}
	w.WriteGarbage(int(pad))
	return nil
}

// encodeMetaRegionFor serializes a header and slot set into the metadata
// region bytes, computing the file checksum.
func encodeMetaRegionFor(h Header, slots []Slot) []byte {
	h.FileChecksum = fileChecksumOf(slots)
	region := make([]byte, int64(HeaderSize)+int64(h.MetaCount)*SlotSize)
	copy(region, h.Encode())
	empty := Slot{}.Encode()
	for i := 0; i < int(h.MetaCount); i++ {
		if i < len(slots) {
			copy(region[HeaderSize+i*SlotSize:], slots[i].Encode())
		} else {
			copy(region[HeaderSize+i*SlotSize:], empty)
		}
	}
	return region
}
