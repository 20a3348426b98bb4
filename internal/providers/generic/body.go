package generic

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/noveld/internal/providers"
	"golang.org/x/net/html"
)

var (
	bodyIDs     = []string{"content", "chaptercontent", "contentbox", "read-content", "bookcontent", "txt", "nr1"}
	bodyClasses = []string{"content", "chapter-content", "read-content", "novel-content", "contentbox", "article", "maintext", "nr"}
)

const (
	junkSelector   = "script, style, iframe, noscript, .ads, .advert, .paybox"
	minFallbackLen = 120
	defaultMinBody = 50
)

// Body extracts the chapter title and text of one page. The first candidate
// of at least MinBodyLength runes wins; when none reaches it, the longest
// non-empty candidate is returned, since the last page of a paginated
// chapter may be short. The caller's document is left untouched.
func (a *Adapter) Body(doc *goquery.Document, pageURL string) (providers.Body, error) {
	root := doc.Selection.Clone()

	title := cleanText(root.Find("h1").First().Text())
	if title == "" {
		title = reTitleSuffix.ReplaceAllString(cleanText(root.Find("title").First().Text()), "")
	}
	title = NormalizeTitle(title)

	minLen := a.site.MinBodyLength
	if minLen <= 0 {
		minLen = defaultMinBody
	}

	var short string
	for _, cont := range bodyCandidates(root) {
		cont.Find(junkSelector).Remove()
		text := paragraphs(cont)
		n := utf8.RuneCountInString(text)
		if n >= minLen {
			return providers.Body{Title: title, Text: text}, nil
		}
		if n > utf8.RuneCountInString(short) {
			short = text
		}
	}
	if short != "" {
		return providers.Body{Title: title, Text: short}, nil
	}

	return providers.Body{Title: title}, a.parseErr("body", pageURL, providers.ErrBodyMissing)
}

func bodyCandidates(root *goquery.Selection) []*goquery.Selection {
	var out []*goquery.Selection
	for _, id := range bodyIDs {
		if s := root.Find("#" + id).First(); s.Length() > 0 {
			out = append(out, s)
		}
	}
	for _, cls := range bodyClasses {
		root.Find("." + cls).Each(func(_ int, s *goquery.Selection) {
			out = append(out, s)
		})
	}

	var best *goquery.Selection
	bestLen := 0
	root.Find("div, article, section").Each(func(_ int, s *goquery.Selection) {
		s = s.Clone()
		s.Find(junkSelector).Remove()
		n := len([]rune(strings.TrimSpace(s.Text())))
		if n > minFallbackLen && n > bestLen {
			best, bestLen = s, n
		}
	})
	if best != nil {
		out = append(out, best)
	}
	return out
}

// paragraphs renders <p> children one per line, or the container's text
// split on <br> when there are none.
func paragraphs(cont *goquery.Selection) string {
	var lines []string

	if ps := cont.Find("p"); ps.Length() > 0 {
		ps.Each(func(_ int, p *goquery.Selection) {
			lines = append(lines, textLines(p)...)
		})
	} else {
		lines = textLines(cont)
	}

	return strings.Join(lines, "\n")
}

func textLines(s *goquery.Selection) []string {
	s.Find("br").Each(func(_ int, br *goquery.Selection) {
		for _, n := range br.Nodes {
			if n.Parent != nil {
				n.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: "\n"}, n)
			}
		}
	})

	var out []string
	for _, ln := range strings.Split(s.Text(), "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

var reNextText = regexp.MustCompile(`下一页|下页`)

// NextPage returns the continuation page of the chapter shown at pageURL.
// Only pages named after the same chapter (123_2.html for 123.html) are
// accepted, so a "next" link that points at the following chapter ends the
// chain.
func (a *Adapter) NextPage(doc *goquery.Document, pageURL string) (string, bool) {
	cur, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	dir, stem := path.Split(cur.Path)
	stem = chapterStem(stem)
	if stem == "" {
		return "", false
	}
	reCont := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `[_-]\d+$`)

	var next string
	accept := func(href string) bool {
		abs := resolveURL(pageURL, href)
		u, err := url.Parse(abs)
		if err != nil || abs == "" || sameURL(abs, pageURL) {
			return false
		}
		d, file := path.Split(u.Path)
		if d != dir || !reCont.MatchString(strings.TrimSuffix(file, path.Ext(file))) {
			return false
		}
		next = abs
		return true
	}

	for _, sel := range []string{"a#pb_next", "a#next_url", "a#next"} {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && accept(href) {
			return next, true
		}
	}

	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := cleanText(s.Text())
		if !reNextText.MatchString(text) || strings.Contains(text, "下一章") {
			return true
		}
		found = accept(s.AttrOr("href", ""))
		return !found
	})
	return next, found
}

var reStemPage = regexp.MustCompile(`^(.+?)[_-]\d+$`)

// chapterStem strips the extension and any page suffix from a chapter file
// name.
func chapterStem(file string) string {
	stem := strings.TrimSuffix(file, path.Ext(file))
	if m := reStemPage.FindStringSubmatch(stem); m != nil {
		return m[1]
	}
	return stem
}
