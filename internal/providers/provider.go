package providers

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrUnsupportedSite = errors.New("unsupported site")
	ErrNoMeta          = errors.New("book title not found")
	ErrNoChapters      = errors.New("no chapters found")
	ErrBodyMissing     = errors.New("chapter body missing")
)

// ParseError reports a capability whose every extraction strategy failed.
// Identical markup fails identically, so it is never retried.
type ParseError struct {
	Adapter    string
	Capability string
	URL        string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s failed for %s: %v", e.Adapter, e.Capability, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

type Meta struct {
	Title  string
	Author string
}

// ChapterLink is one table-of-contents entry in source order.
type ChapterLink struct {
	Title string
	URL   string
}

type Body struct {
	Title string
	Text  string
}

// Adapter extracts books from one markup convention.
type Adapter interface {
	Name() string
	Priority() int

	// Match reports whether the adapter handles the page at u. It must be
	// cheap and free of side effects.
	Match(u *url.URL, doc *goquery.Document) bool

	Meta(doc *goquery.Document) (Meta, error)

	// IndexURL locates the full chapter index when the detail page only
	// carries a teaser list. It returns "" when the page itself is the index.
	IndexURL(doc *goquery.Document, pageURL string) string

	// TOCPages lists the further pages of a paginated chapter index.
	TOCPages(doc *goquery.Document, pageURL string) []string

	ChapterList(doc *goquery.Document, pageURL string) ([]ChapterLink, error)
	Body(doc *goquery.Document, pageURL string) (Body, error)

	// NextPage returns the continuation page of the same chapter.
	NextPage(doc *goquery.Document, pageURL string) (string, bool)

	Boilerplate() []*regexp.Regexp
}

var rePageNumber = regexp.MustCompile(`[_-](\d{1,6})\.html?$`)

// PageNumber extracts N from paginated names such as index_N.html or
// 123_N.html.
func PageNumber(rawURL string) (int, bool) {
	if u, err := url.Parse(rawURL); err == nil {
		rawURL = u.Path
	}
	m := rePageNumber.FindStringSubmatch(rawURL)
	if m == nil {
		return 0, false
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	return n, true
}
