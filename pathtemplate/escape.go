package pathtemplate

import (
	"net/url"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// escape percent-encodes every byte of s except the unreserved characters
// A-Z a-z 0-9 '-' '.' '_' '~'. Slashes are encoded too.
func escape(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for i := range len(s) {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)

			continue
		}

		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	default:
		return c == '-' || c == '.' || c == '_' || c == '~'
	}
}

// unescape decodes percent-encoded bytes. Malformed input is returned
// unchanged.
func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}

	return decoded
}
