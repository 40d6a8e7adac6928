// Package fieldsearch defines the external collaborator boundary between
// the query tree (package querytree) and whatever attribute/posting-list
// storage actually answers "does this term occur in this field, and
// where". Real tokenization and indexing are out of scope; this package
// only specifies the interface a real field searcher must satisfy and
// provides a small in-memory implementation, which the worker (package
// worker) searches its documents with.
package fieldsearch

import (
	"strings"
	"unicode"

	"github.com/streamsearch/engine/internal/querytree"
)

// Searcher answers per-term hit lookups for one document at a time.
// SetDocument must be called before Lookup; Lookup results are only valid
// until the next SetDocument call.
type Searcher interface {
	SetDocument(lid uint32, fields map[string]string)
	Lookup(index, text string) querytree.HitList
}

// TokenSearcher is a case-folded, punctuation-splitting exact-match
// searcher. It indexes whole fields by name (not "field.subfield"
// composition; SameElement callers are expected to pre-flatten element
// fields into a single string per element, joined by a sentinel the real
// field searcher would use its own element boundaries for instead).
type TokenSearcher struct {
	fields map[string][]token
}

type token struct {
	elementID uint32
	position  uint32
	text      string
}

// NewTokenSearcher constructs an empty searcher.
func NewTokenSearcher() *TokenSearcher {
	return &TokenSearcher{}
}

// SetDocument tokenizes each field's text into position-ordered, case-
// folded tokens, replacing any previously indexed document.
func (s *TokenSearcher) SetDocument(lid uint32, fields map[string]string) {
	s.fields = make(map[string][]token, len(fields))
	for name, text := range fields {
		s.fields[name] = tokenize(text)
	}
}

// LookupWithFieldID returns a sorted, deduplicated HitList of every occurrence of
// text (case-insensitive, exact token match) in the named field, tagged
// with the given synthetic field id.
func (s *TokenSearcher) LookupWithFieldID(fieldID uint32, index, text string) querytree.HitList {
	toks := s.fields[index]
	want := strings.ToLower(text)
	var hits querytree.HitList
	for _, tok := range toks {
		if tok.text == want {
			hits = append(hits, querytree.Hit{
				FieldID:       fieldID,
				ElementID:     tok.elementID,
				Position:      tok.position,
				ElementWeight: 1,
			})
		}
	}
	return hits.Sort()
}

// Lookup implements Searcher using field id 0; callers needing distinct
// field ids per index name should use LookupWithFieldID directly.
func (s *TokenSearcher) Lookup(index, text string) querytree.HitList {
	return s.LookupWithFieldID(0, index, text)
}

// tokenize splits on whitespace and punctuation, case-folding every token,
// assigning element id 0 and ascending positions.
func tokenize(text string) []token {
	var toks []token
	var cur strings.Builder
	pos := uint32(0)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		toks = append(toks, token{elementID: 0, position: pos, text: cur.String()})
		cur.Reset()
		pos++
	}
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			flush()
			continue
		}
		cur.WriteRune(unicode.ToLower(r))
	}
	flush()
	return toks
}
