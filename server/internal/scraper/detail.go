package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/clubindex/clubindex/pkg/normalize"
	"github.com/clubindex/clubindex/pkg/types"
)

var (
	addressBlock  = regexp.MustCompile(`(?is)Anschrift\s*:\s*(.+?)(?:Kontakt|Über uns|Sportschule|Newsletter|Datenschutzerklärung|Impressum|$)`)
	addressLabel  = regexp.MustCompile(`(?i)^Anschrift\s*:?\s*`)
	addressMarker = regexp.MustCompile(`(?i)Anschrift`)
	blockURL      = regexp.MustCompile(`https?://\S+|www\.\S+`)
)

// socialHosts are never taken as a club's own website.
var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"tiktok.com",
	"youtube.com",
	"linkedin.com",
	"x.com",
	"twitter.com",
	"open.spotify.com",
}

// detail is what a club page contributes on top of its list entry.
type detail struct {
	Name    string
	Address *types.Address
	Phone   string
	Email   string
	Website string
}

// parseDetail extracts a club's name, address and contact links. host is
// the association's own domain; links to it are not taken as a website.
func parseDetail(body []byte, host string) (detail, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return detail{}, fmt.Errorf("parse detail html: %w", err)
	}

	var d detail
	if h1 := findFirst(doc, atom.H1); h1 != nil {
		d.Name = normalize.CleanText(textOf(h1, " "))
	}

	addr, addrURL := parseAddress(doc)
	d.Address = addr

	for _, a := range anchors(doc) {
		href := strings.TrimSpace(attr(a, "href"))
		switch {
		case strings.HasPrefix(href, "mailto:"):
			email, _, _ := strings.Cut(strings.TrimPrefix(href, "mailto:"), "?")
			d.Email = strings.TrimSpace(email)
		case strings.HasPrefix(href, "tel:"):
			d.Phone = strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
		case strings.HasPrefix(href, "http"):
			if isExternal(href, host) {
				d.Website = href
			}
		}
		if d.Website != "" {
			break
		}
	}
	if d.Website == "" {
		d.Website = addrURL
	}
	d.Website = normalize.SanitizeURL(d.Website)
	return d, nil
}

// parseAddress finds the address block following "Anschrift:". A URL inside
// the block is cut out and returned separately as a website candidate.
func parseAddress(doc *html.Node) (*types.Address, string) {
	var block string
	if m := addressBlock.FindStringSubmatch(textOf(doc, "\n")); m != nil {
		block = strings.TrimSpace(m[1])
	}
	if block == "" {
		if n := findText(doc, addressMarker.MatchString); n != nil && n.Parent != nil {
			block = addressLabel.ReplaceAllString(textOf(n.Parent, " "), "")
		}
	}
	if block == "" {
		return nil, ""
	}

	var website string
	if u := blockURL.FindString(block); u != "" {
		block = strings.Replace(block, u, "", 1)
		website = normalize.SanitizeURL(u)
	}
	return normalize.ParseAddress(normalize.CleanText(block)), website
}

// isExternal reports whether href points away from host and away from the
// known social networks.
func isExternal(href, host string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.Contains(u.Host, host) {
		return false
	}
	for _, s := range socialHosts {
		if strings.Contains(href, s) {
			return false
		}
	}
	return true
}
