package pathtemplate

import (
	"strings"
)

// HostnameVar is the variable holding the host name of a full resource
// name, such as "//library.googleapis.com".
const HostnameVar = "$hostname"

// PathTemplate is a parsed resource name template. It is immutable and
// safe for concurrent use.
type PathTemplate struct {
	segments []segment
	bindings []string
}

// Parse parses template.
func Parse(template string) (*PathTemplate, error) {
	segments, err := parse(template)
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		return nil, validationErrorf("template cannot be empty")
	}

	seen := make(map[string]struct{})
	bindings := make([]string, 0, len(segments))

	for _, seg := range segments {
		if seg.kind != kindBinding {
			continue
		}

		if _, dup := seen[seg.value]; dup {
			return nil, validationErrorf("duplicate binding %q in %q", seg.value, template)
		}

		seen[seg.value] = struct{}{}
		bindings = append(bindings, seg.value)
	}

	return &PathTemplate{segments: segments, bindings: bindings}, nil
}

// MustParse is like [Parse] but panics on error. It is meant for templates
// known at compile time.
func MustParse(template string) *PathTemplate {
	t, err := Parse(template)
	if err != nil {
		panic(err)
	}

	return t
}

// Bindings returns the variable names of the template in order of
// appearance.
func (t *PathTemplate) Bindings() []string {
	return append([]string(nil), t.bindings...)
}

// String returns the template in its canonical syntax: implicit bindings
// render as bare wildcards and "{name=*}" renders as "{name}".
func (t *PathTemplate) String() string {
	var b strings.Builder

	segs := t.segments
	continueLast := true

	for i := 0; i < len(segs); i++ {
		seg := segs[i]

		if !continueLast {
			b.WriteString(seg.separator())
		}

		continueLast = false

		switch seg.kind {
		case kindBinding:
			if strings.HasPrefix(seg.value, "$") {
				b.WriteString(segs[i+1].value)
				i += 2

				continue
			}

			b.WriteString("{" + seg.value)

			if i+2 < len(segs) && segs[i+1].kind == kindWildcard && segs[i+2].kind == kindEndBinding {
				b.WriteString("}")
				i += 2

				continue
			}

			b.WriteString("=")

			continueLast = true
		case kindEndBinding:
			b.WriteString("}")
		default:
			b.WriteString(seg.value)
		}
	}

	return b.String()
}

// Match returns the variables bound by matching path, with values
// unescaped, or nil if path does not match. A path starting with "//" has
// its first segment bound to [HostnameVar].
func (t *PathTemplate) Match(path string) map[string]string {
	values, err := t.match(path, false)
	if err != nil {
		return nil
	}

	return values
}

// MatchFromFullName is like [PathTemplate.Match] but always treats the
// first segment of path as the host name.
func (t *PathTemplate) MatchFromFullName(path string) map[string]string {
	values, err := t.match(path, true)
	if err != nil {
		return nil
	}

	return values
}

// Validate is like [PathTemplate.Match] but reports why path does not
// match.
func (t *PathTemplate) Validate(path string) (map[string]string, error) {
	return t.match(path, false)
}

func (t *PathTemplate) match(path string, forceHost bool) (map[string]string, error) {
	orig := path

	if last := t.segments[len(t.segments)-1]; last.kind == kindCustomVerb {
		loc := customVerbPattern.FindStringSubmatchIndex(path)
		if loc == nil || unescape(path[loc[2]:loc[3]]) != last.value {
			return nil, validationErrorf("path %q does not end with custom verb %q", orig, last.value)
		}

		path = path[:loc[0]]
	}

	withHost := strings.HasPrefix(path, "//")
	if withHost {
		path = path[2:]
	}

	input := strings.Split(path, "/")
	for i := range input {
		input[i] = strings.TrimSpace(input[i])
	}

	values := make(map[string]string)
	pos := 0

	if withHost || forceHost {
		host := input[0]
		if withHost {
			host = "//" + host
		}

		values[HostnameVar] = host
		pos++
	}

	if err := t.matchSegments(input, pos, values); err != nil {
		return nil, validationErrorf("path %q does not match template %q: %v", orig, t.String(), err)
	}

	return values, nil
}

type mismatch string

func (m mismatch) Error() string { return string(m) }

func (t *PathTemplate) matchSegments(input []string, pos int, values map[string]string) error {
	var current string

	for segPos := 0; segPos < len(t.segments); {
		seg := t.segments[segPos]
		segPos++

		switch seg.kind {
		case kindEndBinding:
			current = ""

			continue
		case kindBinding:
			current = seg.value

			continue
		case kindCustomVerb:
			segPos = len(t.segments)

			continue
		}

		if pos >= len(input) {
			return mismatch("path has fewer segments than the template")
		}

		next := unescape(input[pos])
		pos++

		if seg.kind == kindLiteral && seg.value != next {
			return mismatch("segment " + next + " does not match literal " + seg.value)
		}

		if current != "" {
			if values[current] == "" {
				values[current] = next
			} else {
				values[current] += "/" + next
			}
		}

		if seg.kind == kindPathWildcard {
			remaining := 0

			for _, s := range t.segments[segPos:] {
				if s.matchesInput() {
					remaining++
				}
			}

			for available := len(input) - pos - remaining; available > 0; available-- {
				values[current] += "/" + unescape(input[pos])
				pos++
			}
		}
	}

	if pos != len(input) {
		return mismatch("path has more segments than the template")
	}

	return nil
}

// Instantiate renders the template from key/value pairs. Every variable
// must be bound; implicit wildcards are bound through "$0", "$1" and so on.
// Values are escaped, except that the components of a value bound to a
// multi-segment pattern keep their slashes.
func (t *PathTemplate) Instantiate(kv ...string) (string, error) {
	if len(kv)%2 != 0 {
		return "", validationErrorf("odd number of key/value arguments: %d", len(kv))
	}

	values := make(map[string]string, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		values[kv[i]] = kv[i+1]
	}

	return t.instantiate(values, false)
}

// InstantiatePartial renders the template from values, leaving unbound
// variables in template syntax. The result may be parsed as a new template.
func (t *PathTemplate) InstantiatePartial(values map[string]string) (string, error) {
	return t.instantiate(values, true)
}

// Render renders the template from bindings and checks that the result
// matches the template.
func (t *PathTemplate) Render(bindings map[string]string) (string, error) {
	path, err := t.instantiate(bindings, false)
	if err != nil {
		return "", err
	}

	if _, err := t.Validate(path); err != nil {
		return "", err
	}

	return path, nil
}

func (t *PathTemplate) instantiate(values map[string]string, partial bool) (string, error) {
	var b strings.Builder

	if host, ok := values[HostnameVar]; ok {
		b.WriteString(host + "/")
	}

	segs := t.segments
	continueLast := true
	skip := false

	for i := 0; i < len(segs); i++ {
		seg := segs[i]

		if !skip && !continueLast {
			b.WriteString(seg.separator())
		}

		continueLast = false

		switch seg.kind {
		case kindBinding:
			value, ok := values[seg.value]
			if !ok {
				if !partial {
					return "", validationErrorf("unbound variable %q", seg.value)
				}

				if strings.HasPrefix(seg.value, "$") {
					b.WriteString(segs[i+1].value)
					i += 2

					continue
				}

				b.WriteString("{" + seg.value + "=")

				continueLast = true

				continue
			}

			if segs[i+1].kind == kindPathWildcard || segs[i+2].kind != kindEndBinding {
				for j, part := range strings.Split(value, "/") {
					if j > 0 {
						b.WriteString("/")
					}

					b.WriteString(escape(strings.TrimSpace(part)))
				}
			} else {
				b.WriteString(escape(value))
			}

			skip = true
		case kindEndBinding:
			if !skip {
				b.WriteString("}")
			}

			skip = false
		default:
			if !skip {
				b.WriteString(seg.value)
			}
		}
	}

	return b.String(), nil
}
