package slotfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/streamsearch/engine/internal/config"
	"github.com/streamsearch/engine/internal/errors"
)

// VerifyOptions selects the verifier's optional passes.
type VerifyOptions struct {
	// CheckBlocks also CRC-checks every surviving slot's header and body
	// chunks, not just the metadata table.
	CheckBlocks bool
	// Repair writes the surviving slot set back as the new metadata table.
	// Body data is never touched; a bad header unlinks the file.
	Repair bool
}

// Problem is one verifier finding, tied to a slot index where applicable.
type Problem struct {
	Slot   int
	Code   string
	Detail string
}

// VerifyReport summarises a verify/repair pass.
type VerifyReport struct {
	Path      string
	MetaCount int
	LiveSlots int
	Surviving int
	Problems  []Problem
	HeaderBad bool
	Unlinked  bool
	Repaired  bool
}

// Verify runs the verifier pass sequence over a slot file: header checksum,
// metadata walk (slot checksums, in-use-after-unused, timestamp order),
// bounds, optional chunk CRCs, overlap, duplicate timestamps. With Repair
// set the surviving slots are persisted; a corrupt header unlinks the file.
func Verify(path string, cfg config.SlotFileConfig, opts VerifyOptions, log *slog.Logger) (*VerifyReport, error) {
	if log == nil {
		log = slog.Default()
	}
	report := &VerifyReport{Path: path}

	mode := os.O_RDONLY
	if opts.Repair {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(path, mode, 0o644)
	if err != nil {
		return nil, errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("open %s for verify", path), err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errors.New(errors.ErrCodeIOFailure, "stat slot file", err)
	}
	fileSize := st.Size()

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, HeaderSize), headerBuf); err != nil {
		report.HeaderBad = true
	}
	header, ok := DecodeHeader(headerBuf)
	if !ok || report.HeaderBad || fileSize < headerBlockStart(int(header.MetaCount))+int64(header.HeaderBlockSize) {
		report.HeaderBad = true
		report.Problems = append(report.Problems, Problem{Slot: -1, Code: errors.ErrCodeCorruptHeader, Detail: "header checksum or size invalid"})
		if opts.Repair {
			f.Close()
			if err := os.Remove(path); err != nil {
				return report, errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("unlink corrupt %s", path), err)
			}
			report.Unlinked = true
			log.Warn("unlinked slot file with corrupt header", "file", path)
		}
		return report, nil
	}
	report.MetaCount = int(header.MetaCount)

	metaBuf := make([]byte, int64(header.MetaCount)*SlotSize)
	if _, err := f.ReadAt(metaBuf, HeaderSize); err != nil {
		return nil, errors.New(errors.ErrCodeIOFailure, "read metadata table", err)
	}

	type entry struct {
		index int
		slot  Slot
	}
	var live []entry
	drop := func(idx int, code, detail string) {
		report.Problems = append(report.Problems, Problem{Slot: idx, Code: code, Detail: detail})
	}

	endSeen := false
	lastTS := uint64(0)
	for i := 0; i < int(header.MetaCount); i++ {
		s, ok := DecodeSlot(metaBuf[i*SlotSize : (i+1)*SlotSize])
		if !ok {
			drop(i, errors.ErrCodeCorruptSlot, "slot checksum mismatch")
			continue
		}
		if !s.InUse() {
			endSeen = true
			continue
		}
		report.LiveSlots++
		if endSeen {
			drop(i, errors.ErrCodeCorruptSlot, "in-use slot after unused slot")
			continue
		}
		if s.Timestamp == lastTS && lastTS != 0 {
			drop(i, errors.ErrCodeDuplicateSlot, fmt.Sprintf("duplicate timestamp %d", s.Timestamp))
			continue
		}
		if s.Timestamp < lastTS {
			drop(i, errors.ErrCodeCorruptSlot, fmt.Sprintf("timestamp %d breaks monotonic order", s.Timestamp))
			continue
		}
		lastTS = s.Timestamp
		live = append(live, entry{index: i, slot: s})
	}

	// In-bounds pass.
	hdrStart := headerBlockStart(int(header.MetaCount))
	bodyStart := hdrStart + int64(header.HeaderBlockSize)
	inBounds := live[:0]
	for _, e := range live {
		s := e.slot
		if int64(s.HeaderPos)+int64(s.HeaderLen) > int64(header.HeaderBlockSize) ||
			hdrStart+int64(s.HeaderPos)+int64(s.HeaderLen) > fileSize ||
			bodyStart+int64(s.BodyPos)+int64(s.BodyLen) > fileSize {
			drop(e.index, errors.ErrCodeCorruptSlot, "slot location out of bounds")
			continue
		}
		inBounds = append(inBounds, e)
	}
	live = inBounds

	// Optional chunk CRC pass.
	if opts.CheckBlocks {
		checked := live[:0]
		for _, e := range live {
			s := e.slot
			chunk := make([]byte, s.HeaderLen)
			if _, err := f.ReadAt(chunk, hdrStart+int64(s.HeaderPos)); err != nil {
				drop(e.index, errors.ErrCodeIOFailure, "header chunk unreadable")
				continue
			}
			if _, _, ok := DecodeHeaderChunk(chunk); !ok {
				drop(e.index, errors.ErrCodeCorruptSlot, "header chunk CRC mismatch")
				continue
			}
			if s.BodyLen > 0 {
				body := make([]byte, s.BodyLen)
				if _, err := f.ReadAt(body, bodyStart+int64(s.BodyPos)); err != nil {
					drop(e.index, errors.ErrCodeIOFailure, "body chunk unreadable")
					continue
				}
				if _, ok := DecodeBodyChunk(body); !ok {
					drop(e.index, errors.ErrCodeCorruptSlot, "body chunk CRC mismatch")
					continue
				}
			}
			checked = append(checked, e)
		}
		live = checked
	}

	// Overlap pass: slots claiming overlapping 512-byte blocks of the same
	// part are all dropped unless they share an identical gid
	// (content-addressed deduplication).
	dropped := make(map[int]bool)
	for _, part := range []Part{PartHeader, PartBody} {
		claimed := roaring.New()
		owner := make(map[uint32]entry)
		for _, e := range live {
			var pos, size int64
			if part == PartHeader {
				pos, size = int64(e.slot.HeaderPos), int64(e.slot.HeaderLen)
			} else {
				pos, size = int64(e.slot.BodyPos), int64(e.slot.BodyLen)
			}
			if size == 0 {
				continue
			}
			blocks := roaring.New()
			for b := uint32(pos / Alignment); b <= uint32((pos+size-1)/Alignment); b++ {
				blocks.Add(b)
			}
			conflict := roaring.And(claimed, blocks)
			it := conflict.Iterator()
			for it.HasNext() {
				prev := owner[it.Next()]
				if prev.slot.GID != e.slot.GID {
					if !dropped[e.index] {
						dropped[e.index] = true
						drop(e.index, errors.ErrCodeOverlappingSlot, fmt.Sprintf("%s range overlaps slot %d", part, prev.index))
					}
					if !dropped[prev.index] {
						dropped[prev.index] = true
						drop(prev.index, errors.ErrCodeOverlappingSlot, fmt.Sprintf("%s range overlaps slot %d", part, e.index))
					}
				}
			}
			claimed.Or(blocks)
			bit := blocks.Iterator()
			for bit.HasNext() {
				b := bit.Next()
				if _, taken := owner[b]; !taken {
					owner[b] = e
				}
			}
		}
	}
	if len(dropped) > 0 {
		kept := live[:0]
		for _, e := range live {
			if !dropped[e.index] {
				kept = append(kept, e)
			}
		}
		live = kept
	}

	report.Surviving = len(live)

	if opts.Repair && (len(report.Problems) > 0 || report.LiveSlots != report.Surviving) {
		surviving := make([]Slot, len(live))
		for i, e := range live {
			surviving[i] = e.slot
		}
		region := encodeMetaRegionFor(header, surviving)
		if _, err := f.WriteAt(region, 0); err != nil {
			return report, errors.New(errors.ErrCodeIOFailure, "write repaired metadata table", err)
		}
		if err := f.Sync(); err != nil {
			return report, errors.New(errors.ErrCodeIOFailure, "sync repaired metadata table", err)
		}
		report.Repaired = true
		log.Info("slot file repaired", "file", path, "live", report.LiveSlots, "surviving", report.Surviving)
	}

	return report, nil
}
