// Package title normalizes and compares book titles across the formatting
// styles used by different storefronts.
package title

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the similarity cutoff below which two titles are
// considered different works.
const DefaultThreshold = 0.85

var (
	bracketRe   = regexp.MustCompile(`[【】\[\]（）()「」『』《》〈〉]`)
	longVowelRe = regexp.MustCompile(`[−―‐]`)
	spaceRe     = regexp.MustCompile(`\s+`)

	kanjiVolRe  = regexp.MustCompile(`第(\d+)巻`)
	bareVolRe   = regexp.MustCompile(`(\d+)巻`)
	parenVolRe  = regexp.MustCompile(`[\(（](\d+)[\)）]`)
	volDotRe    = regexp.MustCompile(`(?i)vol\.?\s*(\d+)`)
	volumeRe    = regexp.MustCompile(`(?i)volume\s*(\d+)`)
	circledRe   = regexp.MustCompile(`[①-⑳]`)
	optKanjiRe  = regexp.MustCompile(`第?\d+巻`)
	trailNumRe  = regexp.MustCompile(`\s*\d+\s*$`)
	anyVolDotRe = regexp.MustCompile(`(?i)vol(?:ume)?\.?\s*\d+`)
)

// Normalize folds a title into a canonical comparison form: NFKC, bracket and
// quote symbols stripped, long-vowel marks unified, whitespace collapsed,
// lower-cased. Pure and idempotent.
func Normalize(title string) string {
	if title == "" {
		return ""
	}
	s := norm.NFKC.String(title)
	s = bracketRe.ReplaceAllString(s, "")
	s = longVowelRe.ReplaceAllString(s, "ー")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return strings.ToLower(s)
}

// ExtractVolumeNumber recognizes 第N巻, N巻, circled digits, (N) and vol.N
// markers. The second return is false when no marker is present.
func ExtractVolumeNumber(title string) (int, bool) {
	if title == "" {
		return 0, false
	}
	if n, ok := matchVolume(title); ok {
		return n, true
	}
	// Fullwidth digits only match after compatibility folding.
	if folded := norm.NFKC.String(title); folded != title {
		return matchVolume(folded)
	}
	return 0, false
}

func matchVolume(s string) (int, bool) {
	if m := kanjiVolRe.FindStringSubmatch(s); m != nil {
		return atoiVolume(m[1])
	}
	if m := bareVolRe.FindStringSubmatch(s); m != nil {
		return atoiVolume(m[1])
	}
	for _, r := range s {
		if r >= '①' && r <= '⑳' {
			return int(r-'①') + 1, true
		}
	}
	if m := parenVolRe.FindStringSubmatch(s); m != nil {
		return atoiVolume(m[1])
	}
	if m := volDotRe.FindStringSubmatch(s); m != nil {
		return atoiVolume(m[1])
	}
	if m := volumeRe.FindStringSubmatch(s); m != nil {
		return atoiVolume(m[1])
	}
	return 0, false
}

func atoiVolume(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// StripVolume removes every recognized volume marker, including a bare
// trailing number, and trims the remainder.
func StripVolume(title string) string {
	s := circledRe.ReplaceAllString(title, "")
	s = optKanjiRe.ReplaceAllString(s, "")
	s = parenVolRe.ReplaceAllString(s, "")
	s = anyVolDotRe.ReplaceAllString(s, "")
	s = trailNumRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Notation selects a target volume-marker style for RewriteVolume.
type Notation int

const (
	NotationCircled Notation = iota
	NotationArabic
	NotationKanji
	NotationParen
)

// RewriteVolume rewrites the title's volume marker into the requested
// notation. Titles without a marker come back unchanged, as do circled
// rewrites of volumes past 20 (there is no glyph for those).
func RewriteVolume(title string, n Notation) string {
	vol, ok := ExtractVolumeNumber(title)
	if !ok {
		return title
	}
	base := StripVolume(title)
	switch n {
	case NotationCircled:
		if vol < 1 || vol > 20 {
			return title
		}
		return base + string(rune('①'+vol-1))
	case NotationArabic:
		return fmt.Sprintf("%s %d", base, vol)
	case NotationKanji:
		return fmt.Sprintf("%s 第%d巻", base, vol)
	case NotationParen:
		return fmt.Sprintf("%s(%d)", base, vol)
	}
	return title
}

// Variants generates the search strings tried when the canonical marker form
// for a site is unknown: the title as given, each supported notation, a
// no-space arabic form, and the title with the marker stripped entirely.
// Pure; duplicates are removed preserving first occurrence.
func Variants(title string) []string {
	if title == "" {
		return nil
	}
	vol, ok := ExtractVolumeNumber(title)
	if !ok {
		return []string{title}
	}

	base := StripVolume(title)
	candidates := []string{
		title,
		RewriteVolume(title, NotationCircled),
		RewriteVolume(title, NotationArabic),
		RewriteVolume(title, NotationKanji),
		RewriteVolume(title, NotationParen),
		fmt.Sprintf("%s%d", base, vol),
		base,
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Similarity returns a normalized edit-distance ratio in [0,1] between the
// canonical forms of a and b.
func Similarity(a, b string) float64 {
	return similarityNormalized(Normalize(a), Normalize(b))
}

func similarityNormalized(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	d := matchr.Levenshtein(a, b)
	sim := 1 - float64(d)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// IsMatch decides whether a candidate title denotes the same work as the
// query. Exact normalized equality and containment short-circuit; when both
// sides carry a volume marker the volumes must agree and the marker-stripped
// forms are compared, which lets 件④ match 件 第4巻 despite the notation
// noise. Everything else falls through to the similarity threshold.
func IsMatch(query, candidate string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	q := Normalize(query)
	c := Normalize(candidate)
	if q == "" || c == "" {
		return false
	}
	if q == c {
		return true
	}
	if strings.Contains(c, q) {
		return true
	}

	qv, qok := ExtractVolumeNumber(query)
	cv, cok := ExtractVolumeNumber(candidate)
	if qok && cok {
		if qv != cv {
			return false
		}
		qs := Normalize(StripVolume(query))
		cs := Normalize(StripVolume(candidate))
		if qs != "" && cs != "" {
			if qs == cs || strings.Contains(cs, qs) {
				return true
			}
			if similarityNormalized(qs, cs) >= threshold {
				return true
			}
		}
	}

	return similarityNormalized(q, c) >= threshold
}
