package codec

import (
	"encoding/binary"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Factory encodes and decodes one routable type's body for one wire
// format. Decode returns absent (false) on malformed input, never an
// error.
type Factory interface {
	Encode(msg Routable) ([]byte, bool)
	Decode(body []byte) (Routable, bool)
}

type registration struct {
	spec    VersionSpec
	factory Factory
}

type lookupKey struct {
	generation uint64
	version    Version
	typeID     uint32
}

// Registry maps (routable type id, version) to a factory. Registration
// and lookup share one mutex; factory calls run outside it. The lookup
// cache is keyed by a generation counter bumped on every registration, so
// stale entries become unreachable instead of being swept, and concurrent
// readers see a monotone view.
type Registry struct {
	mu         sync.Mutex
	factories  map[uint32][]registration
	cache      *lru.Cache[lookupKey, Factory]
	generation uint64
	log        *slog.Logger
}

// NewRegistry builds an empty registry with a bounded lookup cache.
func NewRegistry(cacheSize int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, _ := lru.New[lookupKey, Factory](cacheSize)
	return &Registry{
		factories: make(map[uint32][]registration),
		cache:     cache,
		log:       log,
	}
}

// Register binds a factory to a type at a version spec, replacing any
// previous registration at the same spec and invalidating the cache.
func (r *Registry) Register(typeID uint32, spec VersionSpec, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.factories[typeID]
	for i := range regs {
		if regs[i].spec == spec {
			regs[i].factory = f
			r.generation++
			return
		}
	}
	r.factories[typeID] = append(regs, registration{spec: spec, factory: f})
	r.generation++
}

// Lookup resolves the factory registered under the greatest spec at most
// the requested version, consulting the cache first. Absent when no
// registered spec qualifies.
func (r *Registry) Lookup(typeID uint32, v Version) (Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lookupKey{generation: r.generation, version: v, typeID: typeID}
	if f, ok := r.cache.Get(key); ok {
		return f, true
	}

	var best *registration
	for i := range r.factories[typeID] {
		reg := &r.factories[typeID][i]
		if !reg.spec.AtMost(v) {
			continue
		}
		if best == nil || reg.spec.Compare(best.spec) > 0 {
			best = reg
		}
	}
	if best == nil {
		return nil, false
	}
	r.cache.Add(key, best.factory)
	return best.factory, true
}

// EncodeMessage frames a message: priority u8, type u32, factory body.
// Absent when no factory covers the type at the version or the factory
// rejects the message.
func (r *Registry) EncodeMessage(v Version, msg Routable) ([]byte, bool) {
	f, ok := r.Lookup(msg.Type(), v)
	if !ok {
		r.log.Warn("no codec factory for message", "type", msg.Type(), "version", v.String())
		return nil, false
	}
	body, ok := safeEncode(f, msg)
	if !ok {
		return nil, false
	}
	out := make([]byte, 0, 5+len(body))
	out = append(out, msg.Priority())
	out = binary.BigEndian.AppendUint32(out, msg.Type())
	return append(out, body...), true
}

// DecodeMessage unframes a message. Malformed input and unknown types log
// and return absent rather than propagate.
func (r *Registry) DecodeMessage(v Version, frame []byte) (Routable, bool) {
	if len(frame) < 5 {
		r.log.Warn("message frame too short", "len", len(frame))
		return nil, false
	}
	priority := frame[0]
	typeID := binary.BigEndian.Uint32(frame[1:5])
	f, ok := r.Lookup(typeID, v)
	if !ok {
		r.log.Warn("no codec factory for message", "type", typeID, "version", v.String())
		return nil, false
	}
	msg, ok := safeDecode(r.log, f, frame[5:])
	if !ok {
		return nil, false
	}
	msg.SetPriority(priority)
	return msg, true
}

// EncodeReply frames a reply: priority u8, factory body. The type is not
// on the wire; the requester knows it from its pending message.
func (r *Registry) EncodeReply(v Version, reply Routable) ([]byte, bool) {
	f, ok := r.Lookup(reply.Type(), v)
	if !ok {
		r.log.Warn("no codec factory for reply", "type", reply.Type(), "version", v.String())
		return nil, false
	}
	body, ok := safeEncode(f, reply)
	if !ok {
		return nil, false
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, reply.Priority())
	return append(out, body...), true
}

// DecodeReply unframes a reply of a known type.
func (r *Registry) DecodeReply(v Version, typeID uint32, frame []byte) (Routable, bool) {
	if len(frame) < 1 {
		r.log.Warn("reply frame too short")
		return nil, false
	}
	f, ok := r.Lookup(typeID, v)
	if !ok {
		r.log.Warn("no codec factory for reply", "type", typeID, "version", v.String())
		return nil, false
	}
	reply, ok := safeDecode(r.log, f, frame[1:])
	if !ok {
		return nil, false
	}
	reply.SetPriority(frame[0])
	return reply, true
}

func safeEncode(f Factory, msg Routable) (body []byte, ok bool) {
	defer func() {
		if recover() != nil {
			body, ok = nil, false
		}
	}()
	return f.Encode(msg)
}

// safeDecode shields callers from decoder panics on malformed input: they
// log and yield absent.
func safeDecode(log *slog.Logger, f Factory, body []byte) (msg Routable, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("codec decode panicked on malformed input", "panic", r)
			msg, ok = nil, false
		}
	}()
	return f.Decode(body)
}
