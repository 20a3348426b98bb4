package generic

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/noveld/internal/providers"
	"golang.org/x/net/html"
)

type tocStrategy struct {
	name string
	run  func(doc *goquery.Document, pageURL string) []providers.ChapterLink
}

var tocStrategies = []tocStrategy{
	{"dl-volumes", fromVolumes},
	{"all-chapters", fromAllChapters},
	{"main-intro", fromMainIntro},
	{"chapter-ul", fromChapterUL},
	{"page-scan", fromPage},
}

// ChapterList returns the chapter links of one index page in source order,
// de-duplicated by URL.
func (a *Adapter) ChapterList(doc *goquery.Document, pageURL string) ([]providers.ChapterLink, error) {
	for _, s := range tocStrategies {
		if links := dedupe(s.run(doc, pageURL)); len(links) > 0 {
			return links, nil
		}
	}
	return nil, a.parseErr("chapter list", pageURL, providers.ErrNoChapters)
}

var (
	reMainVolume  = regexp.MustCompile(`正文卷|正文|第.*卷`)
	reLatest      = regexp.MustCompile(`最新章节|最新|更新`)
	reAllChapters = regexp.MustCompile(`全部章节|全部章|全部目录`)
	reNavPath     = regexp.MustCompile(`(?i)/sort/|/author/|/fullbook/|/mybook|/cover/|/index|/class\d+-|/quanben|/top|/dll|/user/`)
	reNoiseTitle  = regexp.MustCompile(`直达页面底部|直达底部|直达底|加入书架`)
)

const minListEntries = 5

// fromVolumes reads biquge <dl> tables where <dt> rows head each volume.
// The "latest chapters" block is newest-first and only used when no main
// volume exists.
func fromVolumes(doc *goquery.Document, pageURL string) []providers.ChapterLink {
	var main, latest []providers.ChapterLink

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		var bucket *[]providers.ChapterLink
		dl.Children().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "dt":
				head := cleanText(c.Text())
				switch {
				case reMainVolume.MatchString(head):
					bucket = &main
				case reLatest.MatchString(head):
					bucket = &latest
				default:
					bucket = nil
				}
			case "dd":
				if bucket == nil {
					return
				}
				if l, ok := linkFrom(c.Find("a[href]").First(), pageURL); ok {
					*bucket = append(*bucket, l)
				}
			}
		})
	})

	if len(main) > 0 {
		return main
	}
	if len(latest) > 0 {
		for i, j := 0, len(latest)-1; i < j; i, j = i+1, j-1 {
			latest[i], latest[j] = latest[j], latest[i]
		}
		return latest
	}

	if l := linksIn(doc.Find("#list dl dd a[href]"), pageURL); len(l) >= minListEntries {
		return l
	}
	if l := linksIn(doc.Find("dl dd a[href]"), pageURL); len(l) >= 20 {
		return l
	}
	return nil
}

func fromAllChapters(doc *goquery.Document, pageURL string) []providers.ChapterLink {
	for _, sel := range []string{"ul#allChapters2.chapter", "#allChapters2 ul.chapter", "#allChapters ul.chapter"} {
		if ul := doc.Find(sel).First(); ul.Length() > 0 {
			return linksIn(ul.Find("a[href]"), pageURL)
		}
	}
	return nil
}

// fromMainIntro picks the ul.chapter that follows a "正文" heading on mobile
// index pages, skipping the latest-chapters preview above it.
func fromMainIntro(doc *goquery.Document, pageURL string) []providers.ChapterLink {
	var out []providers.ChapterLink
	doc.Find("div.intro").EachWithBreak(func(_ int, intro *goquery.Selection) bool {
		if strings.TrimSpace(intro.Text()) != "正文" {
			return true
		}
		ul := intro.NextAllFiltered("ul.chapter").First()
		if ul.Length() == 0 {
			return true
		}
		out = linksIn(ul.Find("a[href]"), pageURL)
		return false
	})
	return out
}

func fromChapterUL(doc *goquery.Document, pageURL string) []providers.ChapterLink {
	uls := doc.Find("ul.chapter")
	if uls.Length() == 0 {
		return nil
	}

	var hinted *goquery.Selection
	uls.EachWithBreak(func(_ int, ul *goquery.Selection) bool {
		if reAllChapters.MatchString(ul.PrevAll().Text()) || reAllChapters.MatchString(ownText(ul.Parent())) {
			hinted = ul
			return false
		}
		return true
	})
	if hinted != nil {
		return linksIn(hinted.Find("a[href]"), pageURL)
	}

	var best *goquery.Selection
	uls.Each(func(_ int, ul *goquery.Selection) {
		if best == nil || ul.Find("li").Length() > best.Find("li").Length() {
			best = ul
		}
	})
	if best.Find("li").Length() < minListEntries {
		return nil
	}
	return linksIn(best.Find("a[href]"), pageURL)
}

func fromPage(doc *goquery.Document, pageURL string) []providers.ChapterLink {
	return linksIn(doc.Find("a[href]"), pageURL)
}

// ownText is the text of s excluding its element children.
func ownText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
	}
	return b.String()
}

func linksIn(sel *goquery.Selection, pageURL string) []providers.ChapterLink {
	var out []providers.ChapterLink
	sel.Each(func(_ int, a *goquery.Selection) {
		if l, ok := linkFrom(a, pageURL); ok {
			out = append(out, l)
		}
	})
	return out
}

// linkFrom accepts chapter anchors only: .html targets outside site
// navigation, without page-footer or bookshelf noise.
func linkFrom(a *goquery.Selection, pageURL string) (providers.ChapterLink, bool) {
	href := strings.TrimSpace(a.AttrOr("href", ""))
	if href == "" || noiseHref(href) {
		return providers.ChapterLink{}, false
	}

	abs := resolveURL(pageURL, href)
	u, err := url.Parse(abs)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".html") || reNavPath.MatchString(u.Path) {
		return providers.ChapterLink{}, false
	}

	title := NormalizeTitle(a.Text())
	if reNoiseTitle.MatchString(title) {
		return providers.ChapterLink{}, false
	}

	return providers.ChapterLink{Title: title, URL: abs}, true
}

func noiseHref(href string) bool {
	h := strings.ToLower(href)
	if strings.HasPrefix(h, "#") || strings.HasPrefix(h, "javascript:") {
		return true
	}
	return strings.Contains(h, "#footer") || strings.Contains(h, "#bottom")
}

func dedupe(links []providers.ChapterLink) []providers.ChapterLink {
	seen := make(map[string]bool, len(links))
	out := links[:0]
	for _, l := range links {
		if seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		out = append(out, l)
	}
	return out
}
