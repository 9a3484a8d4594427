package pathtemplate

type segmentKind int

const (
	kindLiteral segmentKind = iota + 1
	kindCustomVerb
	kindWildcard
	kindPathWildcard
	kindBinding
	kindEndBinding
)

type segment struct {
	kind  segmentKind
	value string
}

// separator is written before the segment when it follows another one.
func (s segment) separator() string {
	switch s.kind {
	case kindCustomVerb:
		return ":"
	case kindEndBinding:
		return ""
	default:
		return "/"
	}
}

// matchesInput reports whether the segment consumes an input segment.
func (s segment) matchesInput() bool {
	return s.kind == kindLiteral || s.kind == kindWildcard || s.kind == kindPathWildcard
}

//nolint:gochecknoglobals // immutable segment values
var (
	wildcardSegment     = segment{kind: kindWildcard, value: "*"}
	pathWildcardSegment = segment{kind: kindPathWildcard, value: "**"}
	endBindingSegment   = segment{kind: kindEndBinding}
)
