package selfupdate

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// CompareVersions orders release tags such as "v1.10.0" or "1.9.0".
// Returns -1 if a<b, 0 if equal, 1 if a>b.
//
// Semantic versions are ordered by go-version. Anything it rejects falls back
// to a numeric-aware segment comparison, so "1.10" still sorts after "1.9"
// and tags like "2024.03-hotfix2" order sensibly.
func CompareVersions(a, b string) int {
	a = trimVersionPrefix(a)
	b = trimVersionPrefix(b)

	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareSegments(a, b)
}

// IsNewer reports whether latest is strictly newer than current.
func IsNewer(latest, current string) bool {
	return CompareVersions(latest, current) > 0
}

// trimVersionPrefix strips surrounding space and a single leading "v" or "V".
func trimVersionPrefix(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 0 && (v[0] == 'v' || v[0] == 'V') {
		return v[1:]
	}
	return v
}

func splitSegments(v string) []string {
	return strings.FieldsFunc(strings.ToLower(v), func(r rune) bool {
		return r == '.' || r == '-' || r == '+' || r == '_'
	})
}

func compareSegments(a, b string) int {
	as := splitSegments(a)
	bs := splitSegments(b)
	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := naturalCompare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// naturalCompare compares two strings run by run: digit runs by numeric value,
// other runs lexically. A digit run sorts before a non-digit run.
func naturalCompare(a, b string) int {
	for a != "" && b != "" {
		ra, restA := nextRun(a)
		rb, restB := nextRun(b)
		da, db := isDigit(ra[0]), isDigit(rb[0])
		var c int
		switch {
		case da && db:
			c = compareDigits(ra, rb)
		case da:
			c = -1
		case db:
			c = 1
		default:
			c = strings.Compare(ra, rb)
		}
		if c != 0 {
			return c
		}
		a, b = restA, restB
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func nextRun(s string) (run string, rest string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

// compareDigits compares decimal strings of any length without overflow.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
