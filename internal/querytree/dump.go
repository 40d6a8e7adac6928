package querytree

// Dump serializes a built tree back into the depth-first descriptor stack
// Build consumes. Build(Dump(tree)) reproduces the tree: connector
// flattening is idempotent, terms inside Phrase/Equiv/NEAR dump with
// rewriting already applied, and SameElement children dump with the
// parent's index prefix stripped so Build's re-composition restores it.
func Dump(n *Node) []NodeDescriptor {
	var out []NodeDescriptor
	dump(n, "", &out)
	return out
}

func dump(n *Node, sameElementIndex string, out *[]NodeDescriptor) {
	d := NodeDescriptor{Type: typeName(n), Arity: len(n.Children)}

	switch n.Kind {
	case KindTerm:
		d.Index = stripIndexPrefix(n.Index, sameElementIndex)
		d.Term = n.TermText
		d.IntegerTerm = n.IntegerTerm
		w := n.Weight
		d.Weight = &w
		u := n.UniqueID
		d.UniqueID = &u
	case KindTrue:
		d.Arity = 0
	case KindNear, KindONear:
		dist := n.NearDistance
		d.NearDistance = &dist
		d.ElementGap = n.ElementGap
	case KindSameElement:
		d.Index = n.Index
		sameElementIndex = n.Index
	case KindMultiTerm:
		d.Index = n.Index
	}

	*out = append(*out, d)
	for _, c := range n.Children {
		dump(c, sameElementIndex, out)
	}
}

// stripIndexPrefix undoes the "P.C" composition a SameElement parent
// applies at build time, so rebuilding re-applies it exactly once.
func stripIndexPrefix(index, parent string) string {
	if parent == "" {
		return index
	}
	prefix := parent + "."
	if len(index) > len(prefix) && index[:len(prefix)] == prefix {
		return index[len(prefix):]
	}
	return index
}

func typeName(n *Node) string {
	switch n.Kind {
	case KindAnd:
		return "AND"
	case KindOr:
		return "OR"
	case KindAndNot:
		return "AND_NOT"
	case KindRankWith:
		return "RANK"
	case KindNear:
		return "NEAR"
	case KindONear:
		return "ONEAR"
	case KindPhrase:
		return "PHRASE"
	case KindSameElement:
		return "SAME_ELEMENT"
	case KindTrue:
		return "TRUE"
	case KindMultiTerm:
		switch n.MultiKind {
		case MultiWeightedSet:
			return "WEIGHTED_SET"
		case MultiDotProduct:
			return "DOT_PRODUCT"
		case MultiWAND:
			return "WAND"
		case MultiIn:
			return "IN"
		case MultiEquiv:
			return "EQUIV"
		case MultiWordAlternatives:
			return "WORD_ALTERNATIVES"
		}
	case KindTerm:
		switch n.TermType {
		case TermWord:
			return "TERM"
		case TermPrefix:
			return "PREFIX"
		case TermSuffix:
			return "SUFFIX"
		case TermSubstring:
			return "SUBSTRING"
		case TermExact:
			return "EXACT"
		case TermRegex:
			return "REGEX"
		case TermFuzzy:
			return "FUZZY"
		case TermRange:
			return "RANGE"
		case TermGeoLocation:
			return "GEO_LOCATION"
		case TermNumeric:
			return "NUMERIC"
		case TermNearestNeighbor:
			return "NEAREST_NEIGHBOR"
		}
	}
	return "UNKNOWN"
}
