package matching

import (
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"coffee-catalog/internal/models"
)

// MatchConfig carries the matcher thresholds. Values are caller-overridable
// so the dedup job can be tuned without code changes.
type MatchConfig struct {
	// NameThreshold is the similarity bar for the primary rule, where a
	// shared producer surname corroborates the name match.
	NameThreshold float64
	// ExactThreshold is the near-exact bar for merging on name alone when
	// no producer evidence exists on either side.
	ExactThreshold float64
}

// DefaultMatchConfig returns the thresholds used by the production dedup job.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		NameThreshold:  0.90,
		ExactThreshold: 0.99,
	}
}

// MatchResult is the outcome of comparing two farm records. Confidence is in
// [0,1] and is exactly 0 when ShouldMerge is false.
type MatchResult struct {
	ShouldMerge    bool    `json:"should_merge"`
	Confidence     float64 `json:"confidence"`
	NameSimilarity float64 `json:"name_similarity"`
	SharedNames    int     `json:"shared_names"`
	Rule           string  `json:"rule,omitempty"` // "name_and_producer" or "exact_name"
}

// Rule names reported in MatchResult.
const (
	RuleNameAndProducer = "name_and_producer"
	RuleExactName       = "exact_name"
)

// lev is a reusable Levenshtein similarity metric. The struct is read-only
// after construction, so sharing it across goroutines is safe.
var lev = metrics.NewLevenshtein()

func ratio(a, b string) float64 {
	return strutil.Similarity(a, b, lev)
}

// NameSimilarity computes a token-set similarity between two already
// normalized farm names, in [0,1]. It is robust to word reordering and to one
// side being a superset of the other: the strings are decomposed into common
// and unique tokens, three candidate string pairs are scored with a
// Levenshtein ratio, and the best score wins. Strings with no tokens on
// either side score 0.
func NameSimilarity(name1, name2 string) float64 {
	t1 := tokenSet(name1)
	t2 := tokenSet(name2)
	if len(t1) == 0 || len(t2) == 0 {
		return 0.0
	}

	var common, only1, only2 []string
	for tok := range t1 {
		if _, ok := t2[tok]; ok {
			common = append(common, tok)
		} else {
			only1 = append(only1, tok)
		}
	}
	for tok := range t2 {
		if _, ok := t1[tok]; !ok {
			only2 = append(only2, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(only1)
	sort.Strings(only2)

	base := strings.Join(common, " ")
	c1 := joinTokens(base, only1)
	c2 := joinTokens(base, only2)

	best := ratio(base, c1)
	if r := ratio(base, c2); r > best {
		best = r
	}
	if r := ratio(c1, c2); r > best {
		best = r
	}
	return best
}

// ProducerOverlap counts surnames present in both sets. An empty set on
// either side yields 0: absence of producer data is never match evidence.
func ProducerOverlap(s1, s2 SurnameSet) int {
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}
	n := 0
	for tok := range s1 {
		if _, ok := s2[tok]; ok {
			n++
		}
	}
	return n
}

// ShouldMerge decides whether two farm records denote the same physical farm.
//
// Primary rule: strong name similarity corroborated by at least one shared
// producer surname. Confidence averages the name score with a surname-overlap
// score that saturates at two shared names.
//
// Exception rule: a near-exact name match may merge without producer
// evidence, but only when neither record carries surnames at all; if one side
// names a producer and the other does not, the pair stays unmerged. The
// confidence is discounted to reflect the unverified risk.
//
// Pure function, total over all string inputs. Threshold ranges are not
// validated here; the config layer checks them at the edge.
func ShouldMerge(f1, f2 models.FarmRecord, cfg MatchConfig) MatchResult {
	n1 := NormalizeFarmName(f1.FarmName)
	n2 := NormalizeFarmName(f2.FarmName)
	nameSim := NameSimilarity(n1, n2)

	s1 := ExtractSurnames(f1.ProducerName)
	s2 := ExtractSurnames(f2.ProducerName)
	overlap := ProducerOverlap(s1, s2)

	res := MatchResult{NameSimilarity: nameSim, SharedNames: overlap}

	if nameSim >= cfg.NameThreshold && overlap >= 1 {
		producerScore := float64(overlap) / 2.0
		if producerScore > 1.0 {
			producerScore = 1.0
		}
		res.ShouldMerge = true
		res.Confidence = (nameSim + producerScore) / 2.0
		res.Rule = RuleNameAndProducer
		return res
	}

	if nameSim >= cfg.ExactThreshold && len(s1) == 0 && len(s2) == 0 {
		res.ShouldMerge = true
		res.Confidence = nameSim * 0.8
		res.Rule = RuleExactName
		return res
	}

	return res
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}

func joinTokens(base string, rest []string) string {
	if len(rest) == 0 {
		return base
	}
	joined := strings.Join(rest, " ")
	if base == "" {
		return joined
	}
	return base + " " + joined
}
