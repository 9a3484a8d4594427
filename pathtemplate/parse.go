package pathtemplate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrValidation is wrapped by every parse, match and render error.
var ErrValidation = errors.New("pathtemplate: validation failed")

//nolint:gochecknoglobals // compiled once
var customVerbPattern = regexp.MustCompile(`:([^/*}{=]+)$`)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// parse splits template into segments, wrapping each free wildcard in an
// implicit binding.
func parse(template string) ([]segment, error) {
	src := template
	template = strings.TrimPrefix(template, "/")

	var verb string
	if loc := customVerbPattern.FindStringSubmatchIndex(template); loc != nil {
		verb = template[loc[2]:loc[3]]
		template = template[:loc[0]]
	}

	var (
		segments      []segment
		inBinding     bool
		free          int
		pathWildcards int
	)

	for _, raw := range strings.Split(template, "/") {
		seg := strings.TrimSpace(raw)
		implicit := false

		if strings.HasPrefix(seg, "{") {
			if inBinding {
				return nil, validationErrorf("nested binding in %q", src)
			}

			seg = seg[1:]

			var name string

			if i := strings.IndexByte(seg, '='); i > 0 {
				name = strings.TrimSpace(seg[:i])
				seg = strings.TrimSpace(seg[i+1:])
			} else {
				if i == 0 || !strings.HasSuffix(seg, "}") {
					return nil, validationErrorf("invalid binding syntax in %q", src)
				}

				implicit = true
				name = strings.TrimSpace(seg[:len(seg)-1])
				seg = "}"
			}

			if name == "" {
				return nil, validationErrorf("invalid binding syntax in %q", src)
			}

			inBinding = true

			segments = append(segments, segment{kind: kindBinding, value: name})
		}

		ends := strings.HasSuffix(seg, "}")
		if ends {
			if !inBinding {
				return nil, validationErrorf("unbalanced '}' in %q", src)
			}

			seg = strings.TrimSpace(seg[:len(seg)-1])
		}

		switch seg {
		case "*", "**":
			wildcard := wildcardSegment
			if seg == "**" {
				wildcard = pathWildcardSegment
				pathWildcards++
			}

			if inBinding {
				segments = append(segments, wildcard)
			} else {
				segments = append(segments,
					segment{kind: kindBinding, value: "$" + strconv.Itoa(free)},
					wildcard,
					endBindingSegment,
				)
				free++
			}
		case "":
			switch {
			case implicit:
			case ends && segments[len(segments)-1].kind == kindBinding:
				return nil, validationErrorf("empty binding pattern in %q", src)
			default:
				return nil, validationErrorf("empty segment not allowed in %q", src)
			}
		default:
			segments = append(segments, segment{kind: kindLiteral, value: seg})
		}

		if ends {
			inBinding = false

			if implicit {
				segments = append(segments, wildcardSegment)
			}

			segments = append(segments, endBindingSegment)
		}

		if pathWildcards > 1 {
			return nil, validationErrorf("more than one path wildcard ('**') in %q", src)
		}
	}

	if inBinding {
		return nil, validationErrorf("unexpected end of input in %q", src)
	}

	if verb != "" {
		segments = append(segments, segment{kind: kindCustomVerb, value: verb})
	}

	return segments, nil
}
