package slotfile

import (
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
)

// Byte layout constants. HeaderSize is a multiple of the 512-byte
// alignment every region boundary respects; the SlotSize-entry metadata
// table after it is padded up to the next 512-byte boundary.
const (
	HeaderSize = 512
	SlotSize   = 56
	Alignment  = 512

	flagInUse = uint32(1) << 0

	// FlagRemoveEntry marks a slot as a remove tombstone rather than a
	// stored document.
	FlagRemoveEntry = uint32(1) << 1
)

// GIDSize is the global-id length: a SHA-1 digest truncated to 12 bytes.
const GIDSize = 12

// GID identifies document content for dedup purposes.
type GID [GIDSize]byte

// ComputeGID derives the content address of a document's raw bytes.
func ComputeGID(content []byte) GID {
	sum := sha1.Sum(content)
	var g GID
	copy(g[:], sum[:GIDSize])
	return g
}

// Header is the slot file's fixed-size prefix.
type Header struct {
	Version         uint32
	MetaCount       uint32
	HeaderBlockSize uint32
	HeaderChecksum  uint32
	FileChecksum    uint32
}

// Encode serializes the header into a HeaderSize-byte buffer, always
// computing HeaderChecksum over the first 12 bytes; the struct's own
// HeaderChecksum value is ignored.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.MetaCount)
	binary.LittleEndian.PutUint32(buf[8:12], h.HeaderBlockSize)
	binary.LittleEndian.PutUint32(buf[12:16], crc32.ChecksumIEEE(buf[0:12]))
	binary.LittleEndian.PutUint32(buf[16:20], h.FileChecksum)
	for i := 20; i < HeaderSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// DecodeHeader parses a HeaderSize-byte prefix and validates its checksum.
func DecodeHeader(buf []byte) (Header, bool) {
	if len(buf) < HeaderSize {
		return Header{}, false
	}
	h := Header{
		Version:         binary.LittleEndian.Uint32(buf[0:4]),
		MetaCount:       binary.LittleEndian.Uint32(buf[4:8]),
		HeaderBlockSize: binary.LittleEndian.Uint32(buf[8:12]),
		HeaderChecksum:  binary.LittleEndian.Uint32(buf[12:16]),
		FileChecksum:    binary.LittleEndian.Uint32(buf[16:20]),
	}
	want := crc32.ChecksumIEEE(buf[0:12])
	return h, want == h.HeaderChecksum
}

// Slot is one fixed-size metadata-table entry.
type Slot struct {
	Timestamp uint64
	GID       GID
	HeaderPos uint32
	HeaderLen uint32
	BodyPos   uint64
	BodyLen   uint64
	Flags     uint32
}

// InUse reports whether the slot's IN-USE flag is set.
func (s Slot) InUse() bool { return s.Flags&flagInUse != 0 }

// SetInUse sets or clears the IN-USE flag.
func (s *Slot) SetInUse(v bool) {
	if v {
		s.Flags |= flagInUse
	} else {
		s.Flags &^= flagInUse
	}
}

// Encode serializes the slot, appending its truncated CRC-32 checksum.
func (s Slot) Encode() []byte {
	buf := make([]byte, SlotSize)
	binary.LittleEndian.PutUint64(buf[0:8], s.Timestamp)
	copy(buf[8:8+GIDSize], s.GID[:])
	o := 8 + GIDSize
	binary.LittleEndian.PutUint32(buf[o:o+4], s.HeaderPos)
	binary.LittleEndian.PutUint32(buf[o+4:o+8], s.HeaderLen)
	binary.LittleEndian.PutUint64(buf[o+8:o+16], s.BodyPos)
	binary.LittleEndian.PutUint64(buf[o+16:o+24], s.BodyLen)
	binary.LittleEndian.PutUint32(buf[o+24:o+28], s.Flags)
	checksum := slotChecksum(buf[:o+28])
	binary.LittleEndian.PutUint16(buf[o+28:o+30], checksum)
	for i := o + 30; i < SlotSize; i++ {
		buf[i] = 0xFF
	}
	return buf
}

// DecodeSlot parses a SlotSize-byte metadata entry and reports whether its
// checksum is valid.
func DecodeSlot(buf []byte) (Slot, bool) {
	var s Slot
	if len(buf) < SlotSize {
		return s, false
	}
	s.Timestamp = binary.LittleEndian.Uint64(buf[0:8])
	copy(s.GID[:], buf[8:8+GIDSize])
	o := 8 + GIDSize
	s.HeaderPos = binary.LittleEndian.Uint32(buf[o : o+4])
	s.HeaderLen = binary.LittleEndian.Uint32(buf[o+4 : o+8])
	s.BodyPos = binary.LittleEndian.Uint64(buf[o+8 : o+16])
	s.BodyLen = binary.LittleEndian.Uint64(buf[o+16 : o+24])
	s.Flags = binary.LittleEndian.Uint32(buf[o+24 : o+28])
	want := binary.LittleEndian.Uint16(buf[o+28 : o+30])
	got := slotChecksum(buf[:o+28])
	return s, got == want
}

// ChecksumValue computes the slot's truncated CRC-32 checksum, the value
// XOR-folded into the header's file_checksum.
func (s Slot) ChecksumValue() uint16 {
	buf := s.Encode()
	return binary.LittleEndian.Uint16(buf[8+GIDSize+28 : 8+GIDSize+30])
}

// slotChecksum is the CRC-32 of the slot bytes excluding the checksum
// field, truncated to its low 16 bits.
func slotChecksum(buf []byte) uint16 {
	return uint16(crc32.ChecksumIEEE(buf) & 0xFFFF)
}

// align512 rounds n up to the nearest multiple of 512.
func align512(n int64) int64 {
	return ((n + Alignment - 1) / Alignment) * Alignment
}

// chunkChecksum is the CRC-32 used for header/body chunk integrity
// (doc_blob|crc32, body_blob|crc32 framing).
func chunkChecksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
