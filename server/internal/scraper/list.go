package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/clubindex/clubindex/pkg/normalize"
	"github.com/clubindex/clubindex/pkg/types"
)

// parseList extracts club links from the list page at base. A link counts
// when it has text, points to a host containing host and its path lies
// strictly below base's path. Links are ordered by the slug of their text and
// deduplicated by id (the last path segment); the first occurrence wins.
func parseList(body []byte, base *url.URL, host string) ([]types.ListItem, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse list html: %w", err)
	}

	listPath := strings.TrimRight(base.Path, "/")
	type link struct{ name, url, slug string }
	seen := make(map[link]bool)
	var links []link

	for _, a := range anchors(doc) {
		name := normalize.CleanText(textOf(a, " "))
		if name == "" {
			continue
		}
		u, err := base.Parse(strings.TrimSpace(attr(a, "href")))
		if err != nil {
			continue
		}
		u.Fragment = ""
		if u.Host == "" || !strings.Contains(u.Host, host) {
			continue
		}
		if !strings.HasPrefix(u.Path, listPath+"/") || strings.TrimRight(u.Path, "/") == listPath {
			continue
		}
		l := link{name: name, url: u.String(), slug: normalize.Slugify(name)}
		if !seen[l] {
			seen[l] = true
			links = append(links, l)
		}
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].slug != links[j].slug {
			return links[i].slug < links[j].slug
		}
		if links[i].name != links[j].name {
			return links[i].name < links[j].name
		}
		return links[i].url < links[j].url
	})

	items := make([]types.ListItem, 0, len(links))
	ids := make(map[string]bool, len(links))
	for _, l := range links {
		id := idFromURL(l.url)
		if id == "" || ids[id] {
			continue
		}
		ids[id] = true
		items = append(items, types.ListItem{ID: id, Name: l.name, URL: l.url})
	}
	return items, nil
}

// idFromURL returns the last non-empty path segment of raw.
func idFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}
