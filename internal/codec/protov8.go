package codec

import "google.golang.org/protobuf/encoding/protowire"

// Protobuf v8 framing: each routable type maps to one proto message,
// hand-encoded with the protowire package so the small, fixed message set
// needs no generated code. Unknown fields are skipped on decode for
// forward compatibility; malformed input yields absent.

type pbWriter struct {
	buf []byte
}

func (w *pbWriter) str(field protowire.Number, s string) {
	if s == "" {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, s)
}

func (w *pbWriter) bytes(field protowire.Number, b []byte) {
	if len(b) == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, b)
}

func (w *pbWriter) varint(field protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	w.buf = protowire.AppendTag(w.buf, field, protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *pbWriter) boolean(field protowire.Number, v bool) {
	if v {
		w.varint(field, 1)
	}
}

// pbField is one parsed field of a proto message body.
type pbField struct {
	num     protowire.Number
	varint  uint64
	payload []byte
}

// pbParse splits a body into fields, skipping unknown wire types it can
// still frame. Absent on malformed input.
func pbParse(body []byte) ([]pbField, bool) {
	var fields []pbField
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, false
		}
		body = body[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, false
			}
			fields = append(fields, pbField{num: num, varint: v})
			body = body[n:]
		case protowire.BytesType:
			b, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, false
			}
			fields = append(fields, pbField{num: num, payload: append([]byte(nil), b...)})
			body = body[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(body)
			if n < 0 {
				return nil, false
			}
			body = body[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(body)
			if n < 0 {
				return nil, false
			}
			fields = append(fields, pbField{num: num, varint: v})
			body = body[n:]
		default:
			return nil, false
		}
	}
	return fields, true
}

type protoGetFactory struct{}

func (protoGetFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*GetDocument)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.str(1, m.DocID)
	w.str(2, m.FieldSet)
	return w.buf, true
}

func (protoGetFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &GetDocument{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.DocID = string(f.payload)
		case 2:
			m.FieldSet = string(f.payload)
		}
	}
	return m, true
}

type protoPutFactory struct{}

func (protoPutFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*PutDocument)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.str(1, m.DocID)
	w.bytes(2, m.DocBlob)
	w.varint(3, m.Timestamp)
	w.str(4, m.Condition)
	w.str(5, m.BucketSpace)
	return w.buf, true
}

func (protoPutFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &PutDocument{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.DocID = string(f.payload)
		case 2:
			m.DocBlob = f.payload
		case 3:
			m.Timestamp = f.varint
		case 4:
			m.Condition = string(f.payload)
		case 5:
			m.BucketSpace = string(f.payload)
		}
	}
	return m, true
}

type protoRemoveFactory struct{}

func (protoRemoveFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*RemoveDocument)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.str(1, m.DocID)
	w.str(2, m.Condition)
	w.str(3, m.BucketSpace)
	return w.buf, true
}

func (protoRemoveFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &RemoveDocument{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.DocID = string(f.payload)
		case 2:
			m.Condition = string(f.payload)
		case 3:
			m.BucketSpace = string(f.payload)
		}
	}
	return m, true
}

type protoUpdateFactory struct{}

func (protoUpdateFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*UpdateDocument)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.str(1, m.DocID)
	w.bytes(2, m.UpdateBlob)
	w.varint(3, m.Timestamp)
	w.varint(4, m.OldTimestamp)
	w.str(5, m.Condition)
	w.str(6, m.BucketSpace)
	return w.buf, true
}

func (protoUpdateFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &UpdateDocument{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.DocID = string(f.payload)
		case 2:
			m.UpdateBlob = f.payload
		case 3:
			m.Timestamp = f.varint
		case 4:
			m.OldTimestamp = f.varint
		case 5:
			m.Condition = string(f.payload)
		case 6:
			m.BucketSpace = string(f.payload)
		}
	}
	return m, true
}

// protoRemoveLocationFactory carries bucket-space on the wire, unlike the
// legacy framing.
type protoRemoveLocationFactory struct{}

func (protoRemoveLocationFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*RemoveLocation)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.str(1, m.Selection)
	w.str(2, m.BucketSpace)
	return w.buf, true
}

func (protoRemoveLocationFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &RemoveLocation{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.Selection = string(f.payload)
		case 2:
			m.BucketSpace = string(f.payload)
		}
	}
	return m, true
}

type protoCreateVisitorFactory struct{}

func (protoCreateVisitorFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*CreateVisitor)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.str(1, m.LibraryName)
	w.str(2, m.InstanceID)
	w.str(3, m.ControlDestination)
	w.str(4, m.DataDestination)
	w.str(5, m.Selection)
	w.str(6, m.FieldSet)
	w.str(7, m.BucketSpace)
	for _, b := range m.Buckets {
		w.buf = protowire.AppendTag(w.buf, 8, protowire.Fixed64Type)
		w.buf = protowire.AppendFixed64(w.buf, b)
	}
	w.varint(9, m.FromTimestamp)
	w.varint(10, m.ToTimestamp)
	w.boolean(11, m.VisitRemoves)
	w.boolean(12, m.VisitInconsistent)
	w.varint(13, uint64(m.MaxPendingReplies))
	w.varint(14, uint64(m.MaxBucketsPerVisit))
	for _, k := range sortedKeys(m.Parameters) {
		var kv pbWriter
		kv.str(1, k)
		kv.str(2, m.Parameters[k])
		w.bytes(15, kv.buf)
	}
	return w.buf, true
}

func (protoCreateVisitorFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &CreateVisitor{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.LibraryName = string(f.payload)
		case 2:
			m.InstanceID = string(f.payload)
		case 3:
			m.ControlDestination = string(f.payload)
		case 4:
			m.DataDestination = string(f.payload)
		case 5:
			m.Selection = string(f.payload)
		case 6:
			m.FieldSet = string(f.payload)
		case 7:
			m.BucketSpace = string(f.payload)
		case 8:
			m.Buckets = append(m.Buckets, f.varint)
		case 9:
			m.FromTimestamp = f.varint
		case 10:
			m.ToTimestamp = f.varint
		case 11:
			m.VisitRemoves = f.varint != 0
		case 12:
			m.VisitInconsistent = f.varint != 0
		case 13:
			m.MaxPendingReplies = uint32(f.varint)
		case 14:
			m.MaxBucketsPerVisit = uint32(f.varint)
		case 15:
			kvFields, ok := pbParse(f.payload)
			if !ok {
				return nil, false
			}
			var k, v string
			for _, kv := range kvFields {
				switch kv.num {
				case 1:
					k = string(kv.payload)
				case 2:
					v = string(kv.payload)
				}
			}
			if m.Parameters == nil {
				m.Parameters = make(map[string]string)
			}
			m.Parameters[k] = v
		}
	}
	return m, true
}

type protoGetReplyFactory struct{}

func (protoGetReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*GetDocumentReply)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.bytes(1, m.DocBlob)
	w.varint(2, m.LastModified)
	return w.buf, true
}

func (protoGetReplyFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &GetDocumentReply{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.DocBlob = f.payload
		case 2:
			m.LastModified = f.varint
		}
	}
	return m, true
}

type protoPutReplyFactory struct{}

func (protoPutReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*PutDocumentReply)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.varint(1, m.HighestModificationTimestamp)
	return w.buf, true
}

func (protoPutReplyFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &PutDocumentReply{}
	for _, f := range fields {
		if f.num == 1 {
			m.HighestModificationTimestamp = f.varint
		}
	}
	return m, true
}

type protoRemoveReplyFactory struct{}

func (protoRemoveReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*RemoveDocumentReply)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.boolean(1, m.WasFound)
	w.varint(2, m.HighestModificationTimestamp)
	return w.buf, true
}

func (protoRemoveReplyFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &RemoveDocumentReply{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.WasFound = f.varint != 0
		case 2:
			m.HighestModificationTimestamp = f.varint
		}
	}
	return m, true
}

type protoUpdateReplyFactory struct{}

func (protoUpdateReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*UpdateDocumentReply)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.boolean(1, m.WasFound)
	w.varint(2, m.HighestModificationTimestamp)
	return w.buf, true
}

func (protoUpdateReplyFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &UpdateDocumentReply{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.WasFound = f.varint != 0
		case 2:
			m.HighestModificationTimestamp = f.varint
		}
	}
	return m, true
}

type protoCreateVisitorReplyFactory struct{}

func (protoCreateVisitorReplyFactory) Encode(msg Routable) ([]byte, bool) {
	m, ok := msg.(*CreateVisitorReply)
	if !ok {
		return nil, false
	}
	var w pbWriter
	w.varint(1, m.LastBucket)
	return w.buf, true
}

func (protoCreateVisitorReplyFactory) Decode(body []byte) (Routable, bool) {
	fields, ok := pbParse(body)
	if !ok {
		return nil, false
	}
	m := &CreateVisitorReply{}
	for _, f := range fields {
		if f.num == 1 {
			m.LastBucket = f.varint
		}
	}
	return m, true
}

type protoRemoveLocationReplyFactory struct{}

func (protoRemoveLocationReplyFactory) Encode(msg Routable) ([]byte, bool) {
	if _, ok := msg.(*RemoveLocationReply); !ok {
		return nil, false
	}
	return []byte{}, true
}

func (protoRemoveLocationReplyFactory) Decode(body []byte) (Routable, bool) {
	if _, ok := pbParse(body); !ok {
		return nil, false
	}
	return &RemoveLocationReply{}, true
}

// protoFactories maps every v8-covered routable type to its factory.
func protoFactories() map[uint32]Factory {
	return map[uint32]Factory{
		MessageGetDocument:    protoGetFactory{},
		MessagePutDocument:    protoPutFactory{},
		MessageRemoveDocument: protoRemoveFactory{},
		MessageUpdateDocument: protoUpdateFactory{},
		MessageCreateVisitor:  protoCreateVisitorFactory{},
		MessageRemoveLocation: protoRemoveLocationFactory{},
		MessageStatDocument:   rejectFactory{},
		ReplyGetDocument:      protoGetReplyFactory{},
		ReplyPutDocument:      protoPutReplyFactory{},
		ReplyRemoveDocument:   protoRemoveReplyFactory{},
		ReplyUpdateDocument:   protoUpdateReplyFactory{},
		ReplyCreateVisitor:    protoCreateVisitorReplyFactory{},
		ReplyRemoveLocation:   protoRemoveLocationReplyFactory{},
		ReplyStatDocument:     rejectFactory{},
	}
}

// RegisterDefaults binds the legacy framing at protocol 6 and the
// protobuf framing at protocol 8. Requests in between resolve down to
// the legacy factories.
func RegisterDefaults(r *Registry) {
	for typeID, f := range legacyFactories() {
		r.Register(typeID, NewVersionSpec(6, Any, Any), f)
	}
	for typeID, f := range protoFactories() {
		r.Register(typeID, NewVersionSpec(8, Any, Any), f)
	}
}
