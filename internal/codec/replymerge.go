package codec

// ReplyMerger folds the child replies of a fan-out message into one
// outcome: the best successful reply wins (preferring replies whose
// resource was found), any hard error generates a fresh empty reply
// carrying every child error, and replies failed only with
// MESSAGE_IGNORED are soft-ignored, surfaced only when nothing
// succeeded.
type ReplyMerger struct {
	errorReply   *EmptyReply
	ignoredReply *EmptyReply
	success      Reply
	successIndex int
}

// NewReplyMerger returns an empty merger.
func NewReplyMerger() *ReplyMerger {
	return &ReplyMerger{}
}

// Merge folds in one child reply at its fan-out index.
func (m *ReplyMerger) Merge(idx int, r Reply) {
	if len(r.Errors()) > 0 {
		m.mergeErrors(r)
		return
	}
	if m.success == nil || (resourceWasFound(r) && !resourceWasFound(m.success)) {
		m.success = r
		m.successIndex = idx
	}
}

func (m *ReplyMerger) mergeErrors(r Reply) {
	if hasOnlyErrorsOfType(r, ErrMessageIgnored) {
		if m.ignoredReply == nil {
			m.ignoredReply = &EmptyReply{}
		}
		m.ignoredReply.AddError(r.Errors()[0])
		return
	}
	if m.errorReply == nil {
		m.errorReply = &EmptyReply{}
	}
	for _, e := range r.Errors() {
		m.errorReply.AddError(e)
	}
}

// Result is the merger's outcome: either the index of the winning child
// reply, or a generated reply replacing them all.
type Result struct {
	Generated    Reply
	SuccessIndex int
}

// Successful reports whether a child reply won outright.
func (r Result) Successful() bool { return r.Generated == nil }

// Result computes the merged outcome over every reply seen so far.
func (m *ReplyMerger) Result() Result {
	if m.errorReply != nil {
		return Result{Generated: m.errorReply}
	}
	if m.success == nil {
		if m.ignoredReply != nil {
			return Result{Generated: m.ignoredReply}
		}
		return Result{Generated: &EmptyReply{}}
	}
	return Result{SuccessIndex: m.successIndex}
}

// resourceWasFound is the per-type "was found" predicate used to prefer
// one successful reply over another.
func resourceWasFound(r Reply) bool {
	switch reply := r.(type) {
	case *RemoveDocumentReply:
		return reply.WasFound
	case *UpdateDocumentReply:
		return reply.WasFound
	case *GetDocumentReply:
		return reply.LastModified != 0
	default:
		return false
	}
}
