package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/clubindex/clubindex/pkg/types"
)

var (
	postcodeCity = regexp.MustCompile(`\b(\d{5})\b\s+([\p{L}\p{N}_\-.\s(),]+)`)
	countryWord  = regexp.MustCompile(`(?i)\bDeutschland\b`)
	emptyParens  = regexp.MustCompile(`\(\s*\)`)
	multiSpace   = regexp.MustCompile(`\s{2,}`)
)

// ExtractPostcodeCity finds the first five-digit German postcode in address
// and returns it with the city text that follows. Both are empty when no
// postcode is present.
func ExtractPostcodeCity(address string) (postcode, city string) {
	m := postcodeCity.FindStringSubmatch(address)
	if m == nil {
		return "", ""
	}
	city = strings.TrimSpace(m[2])
	city = strings.TrimSpace(countryWord.ReplaceAllString(city, ""))
	city = strings.TrimSpace(emptyParens.ReplaceAllString(city, ""))
	city = multiSpace.ReplaceAllString(city, " ")
	return m[1], city
}

// CleanCity removes a trailing country name, empty parentheses and stray
// separators from a city string.
func CleanCity(city string) string {
	city = countryWord.ReplaceAllString(city, "")
	city = emptyParens.ReplaceAllString(city, "")
	city = multiSpace.ReplaceAllString(city, " ")
	return strings.Trim(city, " ,")
}

// ParseAddress splits a free-text address block into street, postcode and
// city. It returns nil for an empty block.
func ParseAddress(block string) *types.Address {
	block = strings.TrimSpace(multiSpace.ReplaceAllString(block, " "))
	if block == "" {
		return nil
	}
	addr := &types.Address{Full: block}
	postcode, city := ExtractPostcodeCity(block)
	if postcode != "" {
		addr.Postcode = postcode
		street, _, _ := strings.Cut(block, postcode)
		addr.Street = strings.Trim(street, " ,")
	}
	addr.City = CleanCity(city)
	return addr
}

// SanitizeURL returns u if it is an absolute http(s) URL with a host.
// A bare "www." prefix is upgraded to https. Anything else yields "".
func SanitizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	switch strings.ToLower(u) {
	case "http://", "https://":
		return ""
	}
	if strings.HasPrefix(u, "www.") {
		u = "https://" + u
	}
	p, err := url.Parse(u)
	if err != nil {
		return ""
	}
	if (p.Scheme == "http" || p.Scheme == "https") && p.Host != "" {
		return u
	}
	return ""
}
