package generic

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/noveld/internal/providers"
)

// IndexURL finds the full chapter index for detail pages that only show a
// latest-chapters teaser. Open Graph hints win over mobile links, which win
// over the site's rewrite rule.
func (a *Adapter) IndexURL(doc *goquery.Document, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	candidates := []func() string{
		func() string { return ogIndex(doc) },
		func() string { return mobileIndex(doc, pageURL) },
		func() string {
			if a.site.IndexRewrite == nil {
				return ""
			}
			root, _ := matchHost(strings.ToLower(u.Hostname()), a.site.Hosts)
			return a.site.IndexRewrite(u, root, doc)
		},
	}

	for _, c := range candidates {
		if v := c(); v != "" && !sameURL(v, pageURL) {
			return v
		}
	}
	return ""
}

func ogIndex(doc *goquery.Document) string {
	for _, prop := range []string{"og:novel:read_url", "og:url"} {
		v := metaContent(doc, prop)
		if strings.Contains(v, "/book/") && strings.HasSuffix(v, "/") {
			return v
		}
	}
	return ""
}

func mobileIndex(doc *goquery.Document, pageURL string) string {
	var out string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		if !strings.Contains(href, "/book/") {
			return true
		}
		abs := resolveURL(pageURL, href)
		u, err := url.Parse(abs)
		if err != nil {
			return true
		}
		if strings.HasPrefix(strings.ToLower(u.Host), "m.") && strings.HasSuffix(abs, "/") {
			out = abs
			return false
		}
		return true
	})
	return out
}

func sameURL(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

var rePagination = regexp.MustCompile(`(?i)(?:^|/)(?:index|list)_(\d+)\.html$`)

// TOCPages lists the further pages of a paginated chapter index, sorted by
// page number. A page-select dropdown is authoritative; otherwise pagination
// anchors in the index directory are used.
func (a *Adapter) TOCPages(doc *goquery.Document, pageURL string) []string {
	pages := collectPages(doc.Find("option[value]"), "value", pageURL, "")
	if len(pages) == 0 {
		pages = collectPages(doc.Find("a[href]"), "href", pageURL, indexDir(pageURL))
	}
	return pages
}

func collectPages(sel *goquery.Selection, attr, pageURL, dir string) []string {
	type page struct {
		n   int
		url string
	}

	var found []page
	seen := map[string]bool{pageURL: true}

	sel.Each(func(_ int, s *goquery.Selection) {
		abs := resolveURL(pageURL, s.AttrOr(attr, ""))
		if abs == "" || seen[abs] {
			return
		}
		u, err := url.Parse(abs)
		if err != nil {
			return
		}
		if dir != "" && !strings.HasPrefix(u.Path, dir) {
			return
		}
		if !rePagination.MatchString(u.Path) {
			return
		}
		n, _ := providers.PageNumber(abs)
		if n < 2 {
			return
		}
		seen[abs] = true
		found = append(found, page{n: n, url: abs})
	})

	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]string, len(found))
	for i, p := range found {
		out[i] = p.url
	}
	return out
}

func indexDir(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	if i := strings.LastIndex(u.Path, "/"); i >= 0 {
		return u.Path[:i+1]
	}
	return ""
}
