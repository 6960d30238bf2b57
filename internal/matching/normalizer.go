package matching

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// removeDiacritics decomposes accented characters and drops the combining
// marks, so "Volcán" becomes "Volcan" while the base letters survive. The
// transform chain carries internal buffers, so it is built per call; sharing
// one across goroutines would break the no-coordination contract.
func removeDiacritics(s string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(stripAccents, s)
	if err != nil {
		return s
	}
	return out
}

// Prefix/suffix words that roasters prepend or append to farm names. At most
// one prefix and one suffix are removed, first match wins. Never iterate to a
// fixed point: compound names like "Finca La Fazenda" must keep their body.
var (
	farmPrefixes = []string{
		"finca ",
		"hacienda ",
		"fazenda ",
	}
	farmSuffixes = []string{
		" coffee processing center",
		" coffee farm",
		" washing station",
		" drying station",
		" community farmers",
		" coffee",
		" station",
		" farm",
		" village",
	}
)

// NormalizeFarmName canonicalizes a scraped farm name for matching: strip
// diacritics, lowercase, trim, then remove at most one known prefix and one
// known suffix. Empty input yields the empty string. The result is stable
// under re-normalization.
func NormalizeFarmName(name string) string {
	if name == "" {
		return ""
	}
	n := strings.TrimSpace(strings.ToLower(removeDiacritics(name)))
	for _, p := range farmPrefixes {
		if strings.HasPrefix(n, p) {
			n = n[len(p):]
			break
		}
	}
	for _, s := range farmSuffixes {
		if strings.HasSuffix(n, s) {
			n = n[:len(n)-len(s)]
			break
		}
	}
	return strings.TrimSpace(n)
}

// SurnameSet holds lowercase alphabetic tokens extracted from a producer
// string, used as approximate human-name evidence during matching.
type SurnameSet map[string]struct{}

// Contains reports whether the token is in the set.
func (s SurnameSet) Contains(tok string) bool {
	_, ok := s[tok]
	return ok
}

// Tokens that are organizational noise rather than names. The "&" entry
// predates the letters-only tokenizer and can never match; kept for
// compatibility with historic alias data.
var surnameStopwords = map[string]struct{}{
	"and":          {},
	"&":            {},
	"family":       {},
	"families":     {},
	"brothers":     {},
	"sisters":      {},
	"smallholder":  {},
	"smallholders": {},
	"farmers":      {},
	"producers":    {},
	"various":      {},
	"regional":     {},
	"lot":          {},
	"collective":   {},
	"community":    {},
	"cooperative":  {},
	"coop":         {},
	"coffee":       {},
	"farm":         {},
	"finca":        {},
	"proyecto":     {},
	"project":      {},
	"small":        {},
	"farming":      {},
}

var letterRuns = regexp.MustCompile(`[a-z]+`)

// ExtractSurnames pulls probable human-name tokens out of a producer string:
// diacritics stripped, lowercased, maximal ASCII-letter runs of length >= 3,
// minus the stopword list. Initials and digits are discarded. Empty input
// yields an empty set.
func ExtractSurnames(producer string) SurnameSet {
	out := make(SurnameSet)
	if producer == "" {
		return out
	}
	lowered := strings.ToLower(removeDiacritics(producer))
	for _, tok := range letterRuns.FindAllString(lowered, -1) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := surnameStopwords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}
