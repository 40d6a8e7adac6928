// Package slotfile implements the content-addressed slot file format (v1):
// a fixed header, a metadata table of per-document slots, a header block of
// document-id-framed header chunks and a body block of CRC-framed body
// chunks, all 512-byte aligned at their boundaries. The engine supports
// cached reads through a coalescing range planner, an in-place partial
// write for modified slots, a compacting full rewrite with content-
// addressed deduplication, and a verify/repair pass that drops corrupt
// slots at the metadata level.
package slotfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gofrs/flock"

	"github.com/streamsearch/engine/internal/config"
	"github.com/streamsearch/engine/internal/errors"
	"github.com/streamsearch/engine/internal/slotfile/planner"
)

// Part selects one of the two document storage regions.
type Part int

const (
	PartHeader Part = iota
	PartBody
)

func (p Part) String() string {
	if p == PartHeader {
		return "header"
	}
	return "body"
}

type cacheKey struct {
	part Part
	pos  int64
	size int64
}

// File is an open slot file. Mutation is single-threaded; concurrent
// readers are permitted only between structural writes, which the internal
// mutex enforces for in-process callers.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
	lock *flock.Flock
	cfg  config.SlotFileConfig
	log  *slog.Logger

	header   Header
	slots    []Slot
	fileSize int64

	// firstHeaderBytes echoes the header+meta region exactly as loaded, so
	// an unmodified flush can reproduce it byte-identically.
	firstHeaderBytes []byte

	cache map[cacheKey][]byte

	// Copy-on-write chunk content not yet on disk, keyed by slot index.
	modifiedHeader map[int][]byte
	modifiedBody   map[int][]byte

	appended     bool
	slotsAltered bool
	needsRepair  bool

	// OnSizeChange, when set, receives the file-size delta after every full
	// rewrite, feeding the host's partition-size monitor.
	OnSizeChange func(delta int64)
}

// Create writes a new, empty slot file sized from the configured minimums
// and returns it opened.
func Create(path string, cfg config.SlotFileConfig, log *slog.Logger) (*File, error) {
	metaCount := cfg.MinimumFileMetaSlots
	headerBlockSize := int64(cfg.MinimumFileHeaderBlockSize)
	bodyStart := headerBlockStart(metaCount) + headerBlockSize
	bodySize := int64(cfg.MinimumFileSize) - bodyStart
	if bodySize < int64(cfg.FileBlockSize) {
		bodySize = int64(cfg.FileBlockSize)
	}
	bodySize = alignUpTo(bodySize, int64(cfg.FileBlockSize))

	buf := make([]byte, bodyStart+bodySize)
	for i := range buf {
		buf[i] = 0xFF
	}
	h := Header{Version: 1, MetaCount: uint32(metaCount), HeaderBlockSize: uint32(headerBlockSize)}
	copy(buf, h.Encode())
	empty := Slot{}.Encode()
	for i := 0; i < metaCount; i++ {
		copy(buf[HeaderSize+i*SlotSize:], empty)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("create slot file %s", path), err)
	}
	return Open(path, cfg, log)
}

// Open maps an existing slot file: reads and validates the header, loads
// the metadata table, and takes the writer's advisory lock. Invalid slots
// are skipped and flagged for deferred repair; the good slots are exposed.
func Open(path string, cfg config.SlotFileConfig, log *slog.Logger) (*File, error) {
	if log == nil {
		log = slog.Default()
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("slot file %s is locked by another writer", path), err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, errors.New(errors.ErrCodeIOFailure, fmt.Sprintf("open slot file %s", path), err)
	}

	sf := &File{
		path:           path,
		f:              f,
		lock:           lock,
		cfg:            cfg,
		log:            log,
		cache:          make(map[cacheKey][]byte),
		modifiedHeader: make(map[int][]byte),
		modifiedBody:   make(map[int][]byte),
	}
	if err := sf.load(); err != nil {
		sf.Close()
		return nil, err
	}
	return sf, nil
}

func (sf *File) load() error {
	st, err := sf.f.Stat()
	if err != nil {
		return errors.New(errors.ErrCodeIOFailure, "stat slot file", err)
	}
	sf.fileSize = st.Size()

	readSize := int64(sf.cfg.InitialIndexRead)
	if readSize < HeaderSize {
		readSize = HeaderSize
	}
	if readSize > sf.fileSize {
		readSize = sf.fileSize
	}
	buf := make([]byte, readSize)
	if _, err := io.ReadFull(io.NewSectionReader(sf.f, 0, readSize), buf); err != nil {
		return errors.New(errors.ErrCodeIOFailure, "read slot file index", err)
	}

	h, ok := DecodeHeader(buf)
	if !ok {
		return errors.New(errors.ErrCodeCorruptHeader, fmt.Sprintf("slot file %s: header checksum mismatch", sf.path), nil)
	}
	sf.header = h

	metaEnd := int64(HeaderSize) + int64(h.MetaCount)*SlotSize
	if sf.fileSize < headerBlockStart(int(h.MetaCount))+int64(h.HeaderBlockSize) {
		return errors.New(errors.ErrCodeCorruptHeader,
			fmt.Sprintf("slot file %s: file size %d shorter than header claims", sf.path, sf.fileSize), nil)
	}
	if int64(len(buf)) < metaEnd {
		grown := make([]byte, metaEnd)
		copy(grown, buf)
		if _, err := sf.f.ReadAt(grown[len(buf):], int64(len(buf))); err != nil {
			return errors.New(errors.ErrCodeIOFailure, "read slot file metadata table", err)
		}
		buf = grown
	}
	sf.firstHeaderBytes = append([]byte(nil), buf[:metaEnd]...)

	sf.slots = sf.slots[:0]
	lastTS := uint64(0)
	for i := 0; i < int(h.MetaCount); i++ {
		raw := buf[HeaderSize+int64(i)*SlotSize : HeaderSize+int64(i+1)*SlotSize]
		s, ok := DecodeSlot(raw)
		if !ok {
			sf.needsRepair = true
			sf.log.Warn("slot checksum mismatch, deferring repair", "file", sf.path, "slot", i)
			continue
		}
		if !s.InUse() {
			break
		}
		if s.Timestamp <= lastTS && lastTS != 0 {
			sf.needsRepair = true
			sf.log.Warn("non-monotonic slot timestamp, deferring repair", "file", sf.path, "slot", i, "timestamp", s.Timestamp)
			continue
		}
		if !sf.slotInBounds(s) {
			sf.needsRepair = true
			sf.log.Warn("slot out of bounds, deferring repair", "file", sf.path, "slot", i)
			continue
		}
		lastTS = s.Timestamp
		sf.slots = append(sf.slots, s)
	}

	if got := fileChecksumOf(sf.slots); got != h.FileChecksum {
		sf.needsRepair = true
		sf.log.Warn("file checksum mismatch, deferring repair", "file", sf.path,
			"stored", h.FileChecksum, "computed", got)
	}
	return nil
}

func (sf *File) slotInBounds(s Slot) bool {
	hs := sf.headerBlockOffset()
	bs := sf.bodyBlockOffset()
	if int64(s.HeaderPos)+int64(s.HeaderLen) > int64(sf.header.HeaderBlockSize) {
		return false
	}
	if hs+int64(s.HeaderPos)+int64(s.HeaderLen) > sf.fileSize {
		return false
	}
	if bs+int64(s.BodyPos)+int64(s.BodyLen) > sf.fileSize {
		return false
	}
	return true
}

// headerBlockStart is the absolute offset of the header block for a file
// with the given meta-table capacity.
func headerBlockStart(metaCount int) int64 {
	return align512(HeaderSize + int64(metaCount)*SlotSize)
}

func (sf *File) headerBlockOffset() int64 {
	return headerBlockStart(int(sf.header.MetaCount))
}

func (sf *File) bodyBlockOffset() int64 {
	return sf.headerBlockOffset() + int64(sf.header.HeaderBlockSize)
}

func (sf *File) blockSize(part Part) int64 {
	if part == PartHeader {
		return int64(sf.header.HeaderBlockSize)
	}
	return sf.fileSize - sf.bodyBlockOffset()
}

func (sf *File) blockOffset(part Part) int64 {
	if part == PartHeader {
		return sf.headerBlockOffset()
	}
	return sf.bodyBlockOffset()
}

// NumSlots reports the number of live slots.
func (sf *File) NumSlots() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return len(sf.slots)
}

// SlotAt returns a copy of the i'th live slot.
func (sf *File) SlotAt(i int) Slot {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.slots[i]
}

// NeedsRepair reports whether load deferred any slot-level repair.
func (sf *File) NeedsRepair() bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.needsRepair
}

// EnsureCached reads any of the given block-relative locations not already
// in the cache, coalescing neighbours within the configured max read gap
// into single preads and pinning each requested location's bytes.
func (sf *File) EnsureCached(part Part, locations []planner.Location) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.ensureCachedLocked(part, locations)
}

func (sf *File) ensureCachedLocked(part Part, locations []planner.Location) error {
	var missing []planner.Location
	for _, l := range locations {
		if l.Size == 0 {
			continue
		}
		if _, ok := sf.cache[cacheKey{part, l.Pos, l.Size}]; !ok {
			missing = append(missing, l)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	base := sf.blockOffset(part)
	limit := sf.blockSize(part)
	for _, r := range planner.Coalesce(missing, int64(sf.cfg.MaxReadGap)) {
		if r.End() > limit {
			r.Size = limit - r.Pos
		}
		data := make([]byte, r.Size)
		if _, err := sf.f.ReadAt(data, base+r.Pos); err != nil && err != io.EOF {
			return errors.New(errors.ErrCodeIOFailure,
				fmt.Sprintf("read %s block range at %d+%d", part, r.Pos, r.Size), err)
		}
		for _, want := range missing {
			if want.Pos >= r.Pos && want.End() <= r.End() {
				chunk := planner.Split(data, r, want)
				sf.cache[cacheKey{part, want.Pos, want.Size}] = append([]byte(nil), chunk...)
			}
		}
	}
	return nil
}

// readLocation returns the cached bytes for one location, reading through
// on a miss.
func (sf *File) readLocation(part Part, loc planner.Location) ([]byte, error) {
	if err := sf.ensureCachedLocked(part, []planner.Location{loc}); err != nil {
		return nil, err
	}
	return sf.cache[cacheKey{part, loc.Pos, loc.Size}], nil
}

// Document is one decoded slot's content.
type Document struct {
	Timestamp  uint64
	DocID      string
	HeaderBlob []byte
	Body       []byte
	Remove     bool
}

// ReadDocument decodes the i'th live slot's header chunk (and body chunk,
// when present), preferring in-memory modified content over disk.
func (sf *File) ReadDocument(i int) (*Document, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if i < 0 || i >= len(sf.slots) {
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("slot index %d out of range", i), nil)
	}
	s := sf.slots[i]

	headerChunk, ok := sf.modifiedHeader[i]
	if !ok {
		var err error
		headerChunk, err = sf.readLocation(PartHeader, planner.Location{Pos: int64(s.HeaderPos), Size: int64(s.HeaderLen)})
		if err != nil {
			return nil, err
		}
	}
	blob, docID, ok := DecodeHeaderChunk(headerChunk)
	if !ok {
		return nil, errors.New(errors.ErrCodeCorruptSlot,
			fmt.Sprintf("header chunk CRC mismatch for slot %d", i), nil)
	}

	doc := &Document{Timestamp: s.Timestamp, DocID: docID, HeaderBlob: blob, Remove: s.Flags&FlagRemoveEntry != 0}
	if bodyChunk, ok := sf.modifiedBody[i]; ok {
		body, ok := DecodeBodyChunk(bodyChunk)
		if !ok {
			return nil, errors.New(errors.ErrCodeCorruptSlot, fmt.Sprintf("pending body chunk CRC mismatch for slot %d", i), nil)
		}
		doc.Body = body
	} else if s.BodyLen > 0 {
		bodyChunk, err := sf.readLocation(PartBody, planner.Location{Pos: int64(s.BodyPos), Size: int64(s.BodyLen)})
		if err != nil {
			return nil, err
		}
		body, ok := DecodeBodyChunk(bodyChunk)
		if !ok {
			return nil, errors.New(errors.ErrCodeCorruptSlot, fmt.Sprintf("body chunk CRC mismatch for slot %d", i), nil)
		}
		doc.Body = body
	}
	return doc, nil
}

// AddDocument appends a new slot holding the document. Timestamps must be
// strictly increasing; the data stays in memory until Flush.
func (sf *File) AddDocument(timestamp uint64, docID string, headerBlob, body []byte) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if n := len(sf.slots); n > 0 && timestamp <= sf.slots[n-1].Timestamp {
		return errors.New(errors.ErrCodeDuplicateSlot,
			fmt.Sprintf("timestamp %d not greater than last slot's %d", timestamp, sf.slots[n-1].Timestamp), nil)
	}

	i := len(sf.slots)
	s := Slot{Timestamp: timestamp, GID: ComputeGID([]byte(docID))}
	s.SetInUse(true)
	sf.slots = append(sf.slots, s)
	sf.modifiedHeader[i] = EncodeHeaderChunk(headerBlob, docID)
	if body != nil {
		sf.modifiedBody[i] = EncodeBodyChunk(body)
	}
	sf.appended = true
	sf.slotsAltered = true
	return nil
}

// AddRemoveEntry appends a remove tombstone for docID. When the configured
// default remove doc type is non-empty a backwards-compatible empty body
// chunk is written alongside it.
func (sf *File) AddRemoveEntry(timestamp uint64, docID string) error {
	sf.mu.Lock()
	needEmptyBody := sf.cfg.DefaultRemoveDocType != ""
	sf.mu.Unlock()

	var body []byte
	if needEmptyBody {
		body = []byte{}
	}
	if err := sf.AddDocument(timestamp, docID, nil, body); err != nil {
		return err
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.slots[len(sf.slots)-1].Flags |= FlagRemoveEntry
	return nil
}

// UpdateDocument replaces the i'th slot's content in memory (copy-on-write;
// the old on-disk chunk is abandoned at the next flush).
func (sf *File) UpdateDocument(i int, docID string, headerBlob, body []byte) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if i < 0 || i >= len(sf.slots) {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("slot index %d out of range", i), nil)
	}
	sf.slots[i].GID = ComputeGID([]byte(docID))
	sf.modifiedHeader[i] = EncodeHeaderChunk(headerBlob, docID)
	if body != nil {
		sf.modifiedBody[i] = EncodeBodyChunk(body)
	} else {
		delete(sf.modifiedBody, i)
		sf.slots[i].BodyPos = 0
		sf.slots[i].BodyLen = 0
	}
	sf.slotsAltered = true
	return nil
}

// RemoveSlot drops the i'th slot from the live set. Its data bytes stay on
// disk until the next rewrite compacts them away.
func (sf *File) RemoveSlot(i int) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if i < 0 || i >= len(sf.slots) {
		return errors.New(errors.ErrCodeInternal, fmt.Sprintf("slot index %d out of range", i), nil)
	}
	sf.slots = append(sf.slots[:i], sf.slots[i+1:]...)
	sf.remapModified(i)
	sf.slotsAltered = true
	return nil
}

// remapModified shifts pending-modification keys above a removed index down
// by one.
func (sf *File) remapModified(removed int) {
	for _, m := range []map[int][]byte{sf.modifiedHeader, sf.modifiedBody} {
		delete(m, removed)
		for i := removed + 1; i <= len(sf.slots); i++ {
			if data, ok := m[i]; ok {
				delete(m, i)
				m[i-1] = data
			}
		}
	}
}

// Path returns the file's path.
func (sf *File) Path() string { return sf.path }

// Close releases the file handle and the writer lock. Pending in-memory
// modifications are discarded; call Flush first to persist them.
func (sf *File) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	var err error
	if sf.f != nil {
		err = sf.f.Close()
		sf.f = nil
	}
	if sf.lock != nil {
		sf.lock.Unlock()
		sf.lock = nil
	}
	return err
}

// fileChecksumOf XOR-folds the live slots' checksums, the value stored in
// the header's file_checksum field.
func fileChecksumOf(slots []Slot) uint32 {
	var x uint32
	for _, s := range slots {
		x ^= uint32(s.ChecksumValue())
	}
	return x
}

// alignUpTo rounds n up to a multiple of unit.
func alignUpTo(n, unit int64) int64 {
	if unit <= 0 {
		return n
	}
	return ((n + unit - 1) / unit) * unit
}

// clampInt64 bounds n to [min, max].
func clampInt64(n, min, max int64) int64 {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
