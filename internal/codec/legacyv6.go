package codec

import (
	"encoding/binary"
	"sort"
)

// Legacy v6 framing: hand-written field-by-field encoding with fixed
// widths, length-prefixed strings and network byte order. The v6 wire
// format predates bucket spaces; decoders pin the default space.

type v6Writer struct {
	buf []byte
}

func (w *v6Writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *v6Writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *v6Writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *v6Writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *v6Writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *v6Writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

type v6Reader struct {
	buf  []byte
	pos  int
	fail bool
}

func (r *v6Reader) need(n int) bool {
	if r.fail || r.pos+n > len(r.buf) {
		r.fail = true
		return false
	}
	return true
}

func (r *v6Reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *v6Reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *v6Reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *v6Reader) boolean() bool { return r.u8() != 0 }

func (r *v6Reader) str() string {
	n := int(r.u32())
	if !r.need(n) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *v6Reader) bytes() []byte {
	n := int(r.u32())
	if !r.need(n) {
		return nil
	}
	b := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return b
}

// done reports a fully and exactly consumed body.
func (r *v6Reader) done() bool { return !r.fail && r.pos == len(r.buf) }

type legacyGetFactory struct{}

func (legacyGetFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*GetDocument)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.str(m.DocID)
	w.str(m.FieldSet)
	return w.buf, true
}

func (legacyGetFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &GetDocument{DocID: r.str(), FieldSet: r.str()}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyPutFactory struct{}

func (legacyPutFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*PutDocument)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.str(m.DocID)
	w.bytes(m.DocBlob)
	w.u64(m.Timestamp)
	w.str(m.Condition)
	return w.buf, true
}

func (legacyPutFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &PutDocument{
		DocID:       r.str(),
		DocBlob:     r.bytes(),
		Timestamp:   r.u64(),
		Condition:   r.str(),
		BucketSpace: DefaultBucketSpace,
	}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyRemoveFactory struct{}

func (legacyRemoveFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*RemoveDocument)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.str(m.DocID)
	w.str(m.Condition)
	return w.buf, true
}

func (legacyRemoveFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &RemoveDocument{DocID: r.str(), Condition: r.str(), BucketSpace: DefaultBucketSpace}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyUpdateFactory struct{}

func (legacyUpdateFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*UpdateDocument)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.str(m.DocID)
	w.bytes(m.UpdateBlob)
	w.u64(m.Timestamp)
	w.u64(m.OldTimestamp)
	w.str(m.Condition)
	return w.buf, true
}

func (legacyUpdateFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &UpdateDocument{
		DocID:        r.str(),
		UpdateBlob:   r.bytes(),
		Timestamp:    r.u64(),
		OldTimestamp: r.u64(),
		Condition:    r.str(),
		BucketSpace:  DefaultBucketSpace,
	}
	if !r.done() {
		return nil, false
	}
	return m, true
}

// legacyRemoveLocationFactory discards bucket-space on the wire; decode
// implicitly pins the default space.
type legacyRemoveLocationFactory struct{}

func (legacyRemoveLocationFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*RemoveLocation)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.str(m.Selection)
	return w.buf, true
}

func (legacyRemoveLocationFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &RemoveLocation{Selection: r.str(), BucketSpace: DefaultBucketSpace}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyCreateVisitorFactory struct{}

func (legacyCreateVisitorFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*CreateVisitor)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.str(m.LibraryName)
	w.str(m.InstanceID)
	w.str(m.ControlDestination)
	w.str(m.DataDestination)
	w.str(m.Selection)
	w.u32(m.MaxPendingReplies)
	w.u32(uint32(len(m.Buckets)))
	for _, b := range m.Buckets {
		w.u64(b)
	}
	w.u64(m.FromTimestamp)
	w.u64(m.ToTimestamp)
	w.boolean(m.VisitRemoves)
	w.str(m.FieldSet)
	w.boolean(m.VisitInconsistent)
	w.u32(uint32(len(m.Parameters)))
	for _, k := range sortedKeys(m.Parameters) {
		w.str(k)
		w.str(m.Parameters[k])
	}
	w.u32(m.MaxBucketsPerVisit)
	return w.buf, true
}

func (legacyCreateVisitorFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &CreateVisitor{
		LibraryName:        r.str(),
		InstanceID:         r.str(),
		ControlDestination: r.str(),
		DataDestination:    r.str(),
		Selection:          r.str(),
		MaxPendingReplies:  r.u32(),
		BucketSpace:        DefaultBucketSpace,
	}
	nBuckets := int(r.u32())
	if !r.need(nBuckets * 8) {
		return nil, false
	}
	for i := 0; i < nBuckets; i++ {
		m.Buckets = append(m.Buckets, r.u64())
	}
	m.FromTimestamp = r.u64()
	m.ToTimestamp = r.u64()
	m.VisitRemoves = r.boolean()
	m.FieldSet = r.str()
	m.VisitInconsistent = r.boolean()
	nParams := int(r.u32())
	for i := 0; i < nParams && !r.fail; i++ {
		k := r.str()
		v := r.str()
		if m.Parameters == nil {
			m.Parameters = make(map[string]string, nParams)
		}
		m.Parameters[k] = v
	}
	m.MaxBucketsPerVisit = r.u32()
	if !r.done() {
		return nil, false
	}
	return m, true
}

// sortedKeys gives deterministic parameter encoding order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rejectFactory refuses both directions, used for deprecated messages.
type rejectFactory struct{}

func (rejectFactory) Encode(Routable) ([]byte, bool) { return nil, false }
func (rejectFactory) Decode([]byte) (Routable, bool) { return nil, false }

type legacyGetReplyFactory struct{}

func (legacyGetReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*GetDocumentReply)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.bytes(m.DocBlob)
	w.u64(m.LastModified)
	return w.buf, true
}

func (legacyGetReplyFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &GetDocumentReply{DocBlob: r.bytes(), LastModified: r.u64()}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyPutReplyFactory struct{}

func (legacyPutReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*PutDocumentReply)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.u64(m.HighestModificationTimestamp)
	return w.buf, true
}

func (legacyPutReplyFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &PutDocumentReply{HighestModificationTimestamp: r.u64()}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyRemoveReplyFactory struct{}

func (legacyRemoveReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*RemoveDocumentReply)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.boolean(m.WasFound)
	w.u64(m.HighestModificationTimestamp)
	return w.buf, true
}

func (legacyRemoveReplyFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &RemoveDocumentReply{WasFound: r.boolean(), HighestModificationTimestamp: r.u64()}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyUpdateReplyFactory struct{}

func (legacyUpdateReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*UpdateDocumentReply)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.boolean(m.WasFound)
	w.u64(m.HighestModificationTimestamp)
	return w.buf, true
}

func (legacyUpdateReplyFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &UpdateDocumentReply{WasFound: r.boolean(), HighestModificationTimestamp: r.u64()}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyCreateVisitorReplyFactory struct{}

func (legacyCreateVisitorReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*CreateVisitorReply)
	if !ok {
		return nil, false
	}
	var w v6Writer
	w.u64(m.LastBucket)
	return w.buf, true
}

func (legacyCreateVisitorReplyFactory) Decode(body []byte) (Routable, bool) {
	r := v6Reader{buf: body}
	m := &CreateVisitorReply{LastBucket: r.u64()}
	if !r.done() {
		return nil, false
	}
	return m, true
}

type legacyRemoveLocationReplyFactory struct{}

func (legacyRemoveLocationReplyFactory) Encode(msg Routable) ([]byte, bool) {
	if _, ok := msg.(*RemoveLocationReply); !ok {
		return nil, false
	}
	return []byte{}, true
}

func (legacyRemoveLocationReplyFactory) Decode(body []byte) (Routable, bool) {
	if len(body) != 0 {
		return nil, false
	}
	return &RemoveLocationReply{}, true
}

// legacyFactories maps every v6-covered routable type to its factory.
func legacyFactories() map[uint32]Factory {
	return map[uint32]Factory{
		MessageGetDocument:    legacyGetFactory{},
		MessagePutDocument:    legacyPutFactory{},
		MessageRemoveDocument: legacyRemoveFactory{},
		MessageUpdateDocument: legacyUpdateFactory{},
		MessageCreateVisitor:  legacyCreateVisitorFactory{},
		MessageRemoveLocation: legacyRemoveLocationFactory{},
		MessageStatDocument:   rejectFactory{},
		ReplyGetDocument:      legacyGetReplyFactory{},
		ReplyPutDocument:      legacyPutReplyFactory{},
		ReplyRemoveDocument:   legacyRemoveReplyFactory{},
		ReplyUpdateDocument:   legacyUpdateReplyFactory{},
		ReplyCreateVisitor:    legacyCreateVisitorReplyFactory{},
		ReplyRemoveLocation:   legacyRemoveLocationReplyFactory{},
		ReplyStatDocument:     rejectFactory{},
	}
}
