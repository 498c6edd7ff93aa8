// Package address splits free-text German address blocks into street,
// postal code and city.
package address

import (
	"regexp"
	"strings"
	"unicode"
)

// Address holds the parsed components. Empty strings mean "not found".
type Address struct {
	Street     string
	PostalCode string
	City       string
}

var (
	postalLine   = regexp.MustCompile(`^(?:D-?\s?)?(\d{5})\s+(.+)$`)
	postalInline = regexp.MustCompile(`(?:^|\s)(?:D-?\s?)?(\d{5})\s+(\p{L}[^\d]*)$`)
)

const cityTrim = " .,;:|-–"

// Parse extracts an Address from text. Lines and comma-separated parts are
// treated as segments. The postal code and city come from the last segment
// that starts with a five-digit code; the street is the first other segment
// containing a digit. Without a postal code the whole input becomes the street.
func Parse(text string) Address {
	segs := segments(text)
	if len(segs) == 0 {
		return Address{}
	}

	postalIdx := -1
	var addr Address
	for i := len(segs) - 1; i >= 0; i-- {
		if m := postalLine.FindStringSubmatch(segs[i]); m != nil {
			addr.PostalCode = m[1]
			addr.City = strings.TrimRight(strings.TrimSpace(m[2]), cityTrim)
			postalIdx = i
			break
		}
	}
	if postalIdx < 0 {
		for i := len(segs) - 1; i >= 0; i-- {
			loc := postalInline.FindStringSubmatchIndex(segs[i])
			if loc == nil {
				continue
			}
			seg := segs[i]
			addr.PostalCode = seg[loc[2]:loc[3]]
			addr.City = strings.TrimRight(strings.TrimSpace(seg[loc[4]:loc[5]]), cityTrim)
			prefix := strings.TrimRight(strings.TrimSpace(seg[:loc[0]]), " ,-–|")
			segs[i] = strings.TrimSpace(seg[loc[0]:])
			if prefix != "" {
				segs = append(segs[:i], append([]string{prefix}, segs[i:]...)...)
				i++
			}
			postalIdx = i
			break
		}
	}
	if postalIdx < 0 {
		return Address{Street: strings.Join(strings.Fields(text), " ")}
	}

	for i, seg := range segs {
		if i == postalIdx || postalLine.MatchString(seg) {
			continue
		}
		if strings.IndexFunc(seg, unicode.IsDigit) >= 0 {
			addr.Street = seg
			return addr
		}
	}
	// No numbered line: take the segment right above the postal line.
	if postalIdx > 0 {
		addr.Street = segs[postalIdx-1]
	}
	return addr
}

// Format renders a in the single-line "Street, 12345 City" form.
func Format(a Address) string {
	tail := strings.TrimSpace(a.PostalCode + " " + a.City)
	switch {
	case a.Street == "":
		return tail
	case tail == "":
		return a.Street
	default:
		return a.Street + ", " + tail
	}
}

// HasPostalLine reports whether line starts with a five-digit postal code
// followed by a place name.
func HasPostalLine(line string) bool {
	return postalLine.MatchString(strings.TrimSpace(line))
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return Format(a)
}

// IsZero reports whether nothing was parsed.
func (a Address) IsZero() bool {
	return a == Address{}
}

func segments(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, part := range strings.Split(line, ",") {
			part = strings.Join(strings.Fields(part), " ")
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
