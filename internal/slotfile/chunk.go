package slotfile

import "encoding/binary"

// Header chunk framing: doc_blob | crc32(doc_blob) | doc_id | len(doc_id)
// u32 | crc32(doc_id || len). Body chunk framing: body_blob | crc32(body_blob).

// EncodeHeaderChunk frames a document's header blob and id for the header
// block.
func EncodeHeaderChunk(docBlob []byte, docID string) []byte {
	id := []byte(docID)
	out := make([]byte, 0, len(docBlob)+4+len(id)+8)
	out = append(out, docBlob...)
	out = binary.LittleEndian.AppendUint32(out, chunkChecksum(docBlob))
	out = append(out, id...)
	idAndLen := binary.LittleEndian.AppendUint32(append([]byte(nil), id...), uint32(len(id)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(id)))
	out = binary.LittleEndian.AppendUint32(out, chunkChecksum(idAndLen))
	return out
}

// DecodeHeaderChunk unframes a header chunk, validating both CRCs. The
// chunk must be the exact slot size (alignment padding excluded).
func DecodeHeaderChunk(chunk []byte) (docBlob []byte, docID string, ok bool) {
	if len(chunk) < 12 {
		return nil, "", false
	}
	idCRC := binary.LittleEndian.Uint32(chunk[len(chunk)-4:])
	idLen := binary.LittleEndian.Uint32(chunk[len(chunk)-8 : len(chunk)-4])
	blobEnd := len(chunk) - 8 - int(idLen) - 4
	if int(idLen) > len(chunk)-12 || blobEnd < 0 {
		return nil, "", false
	}
	id := chunk[blobEnd+4 : blobEnd+4+int(idLen)]
	idAndLen := binary.LittleEndian.AppendUint32(append([]byte(nil), id...), idLen)
	if chunkChecksum(idAndLen) != idCRC {
		return nil, "", false
	}
	blob := chunk[:blobEnd]
	blobCRC := binary.LittleEndian.Uint32(chunk[blobEnd : blobEnd+4])
	if chunkChecksum(blob) != blobCRC {
		return nil, "", false
	}
	return blob, string(id), true
}

// EncodeBodyChunk frames a document's body blob for the body block.
func EncodeBodyChunk(body []byte) []byte {
	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint32(out, chunkChecksum(body))
}

// DecodeBodyChunk unframes a body chunk, validating its CRC.
func DecodeBodyChunk(chunk []byte) ([]byte, bool) {
	if len(chunk) < 4 {
		return nil, false
	}
	body := chunk[:len(chunk)-4]
	want := binary.LittleEndian.Uint32(chunk[len(chunk)-4:])
	if chunkChecksum(body) != want {
		return nil, false
	}
	return body, true
}
