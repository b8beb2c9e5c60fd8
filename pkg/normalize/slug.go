package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	umlauts = strings.NewReplacer(
		"ä", "ae", "Ä", "Ae",
		"ö", "oe", "Ö", "Oe",
		"ü", "ue", "Ü", "Ue",
		"ß", "ss",
	)
	slugInvalid = regexp.MustCompile(`[^a-z0-9\s\-/]`)
	slugSpace   = regexp.MustCompile(`\s+`)
	slugDashes  = regexp.MustCompile(`-{2,}`)
)

// NormalizeUmlauts replaces German umlauts and ß with their two-letter
// transliterations.
func NormalizeUmlauts(s string) string {
	return umlauts.Replace(s)
}

// Slugify lowercases s, transliterates umlauts, strips accents and anything
// that is not [a-z0-9], and joins the remaining words with single dashes.
// Slashes become dashes. "ASV Bergedorf-Lohbrügge e.V." → "asv-bergedorf-lohbruegge-ev".
func Slugify(s string) string {
	s = NormalizeUmlauts(strings.ToLower(s))
	s = norm.NFKD.String(s)
	s = slugInvalid.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.Trim(slugSpace.ReplaceAllString(s, "-"), "-")
	return slugDashes.ReplaceAllString(s, "-")
}

// CleanText collapses all whitespace runs in s to single spaces and trims it.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
