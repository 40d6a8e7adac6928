package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct {
	name string
}

func (f stubFactory) Encode(Routable) ([]byte, bool) { return []byte(f.name), true }
func (f stubFactory) Decode([]byte) (Routable, bool) { return nil, false }

// Lookup returns the factory registered under the greatest spec <= the
// request version, absent when none qualifies.
func TestVersionResolutionPicksGreatestFloor(t *testing.T) {
	r := NewRegistry(16, nil)
	r.Register(MessageGetDocument, NewVersionSpec(5, 0, 0), stubFactory{name: "v5"})
	r.Register(MessageGetDocument, NewVersionSpec(6, 2, 0), stubFactory{name: "v62"})

	f, ok := r.Lookup(MessageGetDocument, Version{Major: 6, Minor: 1})
	require.True(t, ok)
	assert.Equal(t, "v5", f.(stubFactory).name)

	f, ok = r.Lookup(MessageGetDocument, Version{Major: 6, Minor: 2})
	require.True(t, ok)
	assert.Equal(t, "v62", f.(stubFactory).name)

	_, ok = r.Lookup(MessageGetDocument, Version{Major: 4})
	assert.False(t, ok)

	_, ok = r.Lookup(MessagePutDocument, Version{Major: 6, Minor: 2})
	assert.False(t, ok)
}

func TestRegistrationInvalidatesLookupCache(t *testing.T) {
	r := NewRegistry(16, nil)
	r.Register(MessageGetDocument, NewVersionSpec(5, 0, 0), stubFactory{name: "v5"})

	f, ok := r.Lookup(MessageGetDocument, Version{Major: 6})
	require.True(t, ok)
	assert.Equal(t, "v5", f.(stubFactory).name)

	// A better factory arrives; the cached (6, type) entry must not win.
	r.Register(MessageGetDocument, NewVersionSpec(6, 0, 0), stubFactory{name: "v6"})
	f, ok = r.Lookup(MessageGetDocument, Version{Major: 6})
	require.True(t, ok)
	assert.Equal(t, "v6", f.(stubFactory).name)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("6.221")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 6, Minor: 221}, v)

	_, err = ParseVersion("6.x")
	assert.Error(t, err)
	_, err = ParseVersion("1.2.3.4")
	assert.Error(t, err)
}

func defaultRegistry() *Registry {
	r := NewRegistry(64, nil)
	RegisterDefaults(r)
	return r
}

// decode(encode(x)) == x for every registered (type, version), modulo
// fields the legacy framing declares unused: the v6 codecs discard
// bucket-space and pin the default space on decode.
func TestMessageRoundTrips(t *testing.T) {
	r := defaultRegistry()

	messages := []Routable{
		&GetDocument{DocID: "id:music:song::1", FieldSet: "[all]"},
		&PutDocument{DocID: "id:music:song::1", DocBlob: []byte{1, 2, 3}, Timestamp: 12345, Condition: "music.year > 2000", BucketSpace: DefaultBucketSpace},
		&RemoveDocument{DocID: "id:music:song::1", Condition: "true", BucketSpace: DefaultBucketSpace},
		&UpdateDocument{DocID: "id:music:song::1", UpdateBlob: []byte{9, 8}, Timestamp: 100, OldTimestamp: 50, Condition: "", BucketSpace: DefaultBucketSpace},
		&RemoveLocation{Selection: "music.year < 1990", BucketSpace: DefaultBucketSpace},
		&CreateVisitor{
			LibraryName:        "DumpVisitor",
			InstanceID:         "visitor-1",
			ControlDestination: "ctrl",
			DataDestination:    "data",
			Selection:          "music",
			FieldSet:           "[document]",
			BucketSpace:        DefaultBucketSpace,
			Buckets:            []uint64{0x8000000000000001, 0x8000000000000002},
			FromTimestamp:      1,
			ToTimestamp:        2,
			VisitRemoves:       true,
			VisitInconsistent:  true,
			MaxPendingReplies:  16,
			MaxBucketsPerVisit: 4,
			Parameters:         map[string]string{"a": "x", "b": "y"},
		},
	}

	for _, version := range []Version{{Major: 6}, {Major: 8}} {
		for _, msg := range messages {
			msg.SetPriority(3)
			frame, ok := r.EncodeMessage(version, msg)
			require.True(t, ok, "encode type %d at %s", msg.Type(), version)

			decoded, ok := r.DecodeMessage(version, frame)
			require.True(t, ok, "decode type %d at %s", msg.Type(), version)
			assert.Equal(t, msg, decoded, "type %d at %s", msg.Type(), version)
		}
	}
}

func TestReplyRoundTrips(t *testing.T) {
	r := defaultRegistry()

	replies := []Routable{
		&GetDocumentReply{DocBlob: []byte{5, 5}, LastModified: 777},
		&PutDocumentReply{HighestModificationTimestamp: 9},
		&RemoveDocumentReply{WasFound: true, HighestModificationTimestamp: 8},
		&UpdateDocumentReply{WasFound: false, HighestModificationTimestamp: 7},
		&CreateVisitorReply{LastBucket: 0x42},
		&RemoveLocationReply{},
	}

	for _, version := range []Version{{Major: 6}, {Major: 8}} {
		for _, reply := range replies {
			reply.SetPriority(1)
			frame, ok := r.EncodeReply(version, reply)
			require.True(t, ok, "encode reply type %d at %s", reply.Type(), version)

			decoded, ok := r.DecodeReply(version, reply.Type(), frame)
			require.True(t, ok, "decode reply type %d at %s", reply.Type(), version)
			assert.Equal(t, reply, decoded, "reply type %d at %s", reply.Type(), version)
		}
	}
}

// The legacy RemoveLocation codec discards bucket-space on the wire and
// pins decode to the default space.
func TestRemoveLocationLegacyPinsDefaultSpace(t *testing.T) {
	r := defaultRegistry()

	msg := &RemoveLocation{Selection: "music.year < 1990", BucketSpace: "global"}
	frame, ok := r.EncodeMessage(Version{Major: 6}, msg)
	require.True(t, ok)

	decoded, ok := r.DecodeMessage(Version{Major: 6}, frame)
	require.True(t, ok)
	assert.Equal(t, DefaultBucketSpace, decoded.(*RemoveLocation).BucketSpace)

	// The protobuf framing round-trips the space.
	frame, ok = r.EncodeMessage(Version{Major: 8}, msg)
	require.True(t, ok)
	decoded, ok = r.DecodeMessage(Version{Major: 8}, frame)
	require.True(t, ok)
	assert.Equal(t, "global", decoded.(*RemoveLocation).BucketSpace)
}

// StatDocument is deprecated: both framings reject encode and decode.
func TestStatDocumentRejected(t *testing.T) {
	r := defaultRegistry()

	for _, version := range []Version{{Major: 6}, {Major: 8}} {
		_, ok := r.EncodeMessage(version, &StatDocument{DocID: "id:x:y::1"})
		assert.False(t, ok, "encode at %s", version)
		_, ok = r.EncodeReply(version, &StatDocumentReply{})
		assert.False(t, ok, "encode reply at %s", version)

		frame := append([]byte{0}, 0x00, 0x01, 0x86, 0xB1) // priority + type 100017
		_, ok = r.DecodeMessage(version, frame)
		assert.False(t, ok, "decode at %s", version)
	}
}

func TestMalformedInputYieldsAbsent(t *testing.T) {
	r := defaultRegistry()

	msg := &GetDocument{DocID: "id:music:song::1", FieldSet: "[all]"}
	frame, ok := r.EncodeMessage(Version{Major: 6}, msg)
	require.True(t, ok)

	// Truncated v6 body.
	_, ok = r.DecodeMessage(Version{Major: 6}, frame[:len(frame)-3])
	assert.False(t, ok)

	// Unknown type id.
	bad := append([]byte(nil), frame...)
	bad[4] = 0xFF
	_, ok = r.DecodeMessage(Version{Major: 6}, bad)
	assert.False(t, ok)

	// Garbage protobuf body.
	garbage := append([]byte{0, 0x00, 0x01, 0x86, 0xA3}, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	_, ok = r.DecodeMessage(Version{Major: 8}, garbage)
	assert.False(t, ok)
}

func TestReplyMergerPrefersFoundResource(t *testing.T) {
	m := NewReplyMerger()
	m.Merge(0, &GetDocumentReply{LastModified: 0})
	m.Merge(1, &GetDocumentReply{LastModified: 42})
	m.Merge(2, &GetDocumentReply{LastModified: 0})

	res := m.Result()
	require.True(t, res.Successful())
	assert.Equal(t, 1, res.SuccessIndex)
}

func TestReplyMergerPropagatesAllErrors(t *testing.T) {
	m := NewReplyMerger()
	m.Merge(0, &GetDocumentReply{LastModified: 42})

	bad1 := &EmptyReply{}
	bad1.AddError(Error{Code: ErrBucketNotFound, Message: "bucket gone"})
	bad2 := &EmptyReply{}
	bad2.AddError(Error{Code: ErrDiskFailure, Message: "disk gone"})
	m.Merge(1, bad1)
	m.Merge(2, bad2)

	res := m.Result()
	require.False(t, res.Successful())
	require.Len(t, res.Generated.Errors(), 2)
	assert.Equal(t, ErrBucketNotFound, res.Generated.Errors()[0].Code)
	assert.Equal(t, ErrDiskFailure, res.Generated.Errors()[1].Code)
}

func TestReplyMergerSoftIgnores(t *testing.T) {
	ignored := &EmptyReply{}
	ignored.AddError(Error{Code: ErrMessageIgnored, Message: "not for me"})

	// With a success present, ignored-only replies vanish.
	m := NewReplyMerger()
	m.Merge(0, ignored)
	m.Merge(1, &RemoveDocumentReply{WasFound: true})
	res := m.Result()
	require.True(t, res.Successful())
	assert.Equal(t, 1, res.SuccessIndex)

	// With no success, the ignored reply surfaces.
	m = NewReplyMerger()
	m.Merge(0, ignored)
	res = m.Result()
	require.False(t, res.Successful())
	require.Len(t, res.Generated.Errors(), 1)
	assert.Equal(t, ErrMessageIgnored, res.Generated.Errors()[0].Code)
}
