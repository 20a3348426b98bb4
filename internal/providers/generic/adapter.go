package generic

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/noveld/internal/providers"
)

// Site configures one adapter built from the generic strategy set.
type Site struct {
	Name     string
	Priority int

	// Hosts pins the adapter to these domains and their subdomains. An
	// empty list accepts any host whose detail page has novel markup.
	Hosts []string

	// Trusted hosts skip the markup check.
	Trusted []string

	// MinBodyLength is the rune count a body candidate needs to be taken
	// over later strategies. Zero means defaultMinBody.
	MinBodyLength int

	// IndexRewrite maps a detail page to its full chapter index when the
	// site follows a known URL scheme. root is the matched entry of Hosts.
	IndexRewrite func(u *url.URL, root string, doc *goquery.Document) string
}

type Adapter struct {
	site Site
}

func New(site Site) *Adapter {
	return &Adapter{site: site}
}

var (
	reTbxsPath   = regexp.MustCompile(`/html/\d+/(\d+)/`)
	reSyvvwIndex = regexp.MustCompile(`^/book/\d+\.html$`)
)

// Sites returns the built-in adapters in registration order.
func Sites(extraHosts []string, minBodyLength int) []providers.Adapter {
	return []providers.Adapter{
		New(Site{
			Name:          "tbxs",
			Priority:      20,
			Hosts:         []string{"tbxsvv.cc", "tbxsw.cc"},
			MinBodyLength: minBodyLength,
			IndexRewrite: func(u *url.URL, root string, _ *goquery.Document) string {
				m := reTbxsPath.FindStringSubmatch(u.Path)
				if m == nil {
					return ""
				}
				return fmt.Sprintf("https://m.%s/book/%s/", root, m[1])
			},
		}),
		New(Site{
			Name:          "syvvw",
			Priority:      20,
			Hosts:         []string{"syvvw.cc"},
			MinBodyLength: minBodyLength,
			IndexRewrite: func(u *url.URL, _ string, doc *goquery.Document) string {
				if doc == nil {
					return ""
				}
				var out string
				doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
					href := strings.TrimSpace(a.AttrOr("href", ""))
					if reSyvvwIndex.MatchString(href) {
						out = resolveURL(u.String(), href)
						return false
					}
					return true
				})
				return out
			},
		}),
		New(Site{
			Name:          "biquge",
			Priority:      10,
			Trusted:       extraHosts,
			MinBodyLength: minBodyLength,
		}),
	}
}

func (a *Adapter) Name() string  { return a.site.Name }
func (a *Adapter) Priority() int { return a.site.Priority }

func (a *Adapter) Match(u *url.URL, doc *goquery.Document) bool {
	host := strings.ToLower(u.Hostname())

	if len(a.site.Hosts) > 0 {
		if _, ok := matchHost(host, a.site.Hosts); !ok {
			return false
		}
		return doc == nil || hasNovelMarkup(doc)
	}
	if _, ok := matchHost(host, a.site.Trusted); ok {
		return true
	}
	return doc != nil && hasNovelMarkup(doc)
}

// matchHost returns the entry of hosts that host equals or is a subdomain of.
func matchHost(host string, hosts []string) (string, bool) {
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return h, true
		}
	}
	return "", false
}

var markupSelectors = []string{
	"#list dl",
	"dl dd a",
	"#allChapters",
	"#allChapters2",
	"ul.chapter",
	"meta[property^='og:novel']",
}

func hasNovelMarkup(doc *goquery.Document) bool {
	for _, sel := range markupSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

var reTitleSuffix = regexp.MustCompile(`\s*[-_—|].*$`)

func (a *Adapter) Meta(doc *goquery.Document) (providers.Meta, error) {
	var m providers.Meta

	m.Title = firstNonEmpty(
		metaContent(doc, "og:novel:book_name"),
		metaContent(doc, "og:title"),
		cleanText(doc.Find("#info h1").First().Text()),
		cleanText(doc.Find("h1").First().Text()),
		reTitleSuffix.ReplaceAllString(cleanText(doc.Find("title").First().Text()), ""),
	)
	m.Author = firstNonEmpty(
		metaContent(doc, "og:novel:author"),
		authorFromInfo(doc),
	)

	if m.Title == "" {
		return m, a.parseErr("meta", docURL(doc), providers.ErrNoMeta)
	}
	return m, nil
}

var reAuthor = regexp.MustCompile(`作\s*者\s*[:：]\s*(\S+)`)

func authorFromInfo(doc *goquery.Document) string {
	var out string
	doc.Find("#info p, .info p, .author").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := reAuthor.FindStringSubmatch(s.Text()); m != nil {
			out = m[1]
			return false
		}
		return true
	})
	return out
}

// Boilerplate matches the site furniture the biquge family injects into
// chapter text.
func (a *Adapter) Boilerplate() []*regexp.Regexp {
	return boilerplate
}

var boilerplate = []*regexp.Regexp{
	regexp.MustCompile(`天才一秒记住\S*`),
	regexp.MustCompile(`(?:最新网址|请记住本书首发域名|本书首发)[:：]?\s*\S*`),
	regexp.MustCompile(`手机用户请浏览\S*阅读[^。]*[。.]?`),
	regexp.MustCompile(`(?i)(?:https?://)?(?:www|m|wap)\.[a-z0-9-]+\.(?:com|cc|net|org|la|info|co)\S*`),
	regexp.MustCompile(`^(?:上一章|上一页|返回目录|章节目录|目录|下一章|下一页|加入书签|投推荐票|返回书页|\s|[|←→])+$`),
}

func (a *Adapter) parseErr(capability, pageURL string, err error) error {
	return &providers.ParseError{
		Adapter:    a.site.Name,
		Capability: capability,
		URL:        pageURL,
		Err:        err,
	}
}

func metaContent(doc *goquery.Document, property string) string {
	v, _ := doc.Find(fmt.Sprintf("meta[property='%s']", property)).First().Attr("content")
	return cleanText(v)
}

func docURL(doc *goquery.Document) string {
	if doc != nil && doc.Url != nil {
		return doc.Url.String()
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func cleanText(s string) string {
	s = strings.NewReplacer("\r", " ", "\t", " ", "\u00a0", " ", "\u3000", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// resolveURL makes href absolute against baseURL and strips the fragment
// and query.
func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		base, err := url.Parse(baseURL)
		if err != nil {
			return ""
		}
		ref = base.ResolveReference(ref)
	}
	ref.Fragment = ""
	ref.RawQuery = ""
	ref.ForceQuery = false

	return ref.String()
}
