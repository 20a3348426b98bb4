package library

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/store"
	"go.uber.org/zap"
)

// SubmitBook resolves a detail URL into a stored book with its manifest and
// returns the book id. Submitting a known URL returns the existing id.
// Nothing is persisted unless the adapter, meta and chapter list all
// resolve.
func (l *Library) SubmitBook(ctx context.Context, detailURL string) (string, error) {
	canon, err := CanonicalURL(detailURL)
	if err != nil {
		return "", err
	}
	id := BookID(canon)

	if _, err := l.opts.Store.Book(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, store.ErrBookNotFound) {
		return "", err
	}

	page, err := l.fetchPage(ctx, canon)
	if err != nil {
		return "", fmt.Errorf("failed to fetch detail page: %w", err)
	}
	doc, err := page.Document()
	if err != nil {
		return "", err
	}

	adapter, err := l.opts.Registry.Select(canon, doc)
	if err != nil {
		return "", err
	}
	meta, err := adapter.Meta(doc)
	if err != nil {
		return "", fmt.Errorf("%w: %w", providers.ErrUnsupportedSite, err)
	}
	l.log.Debug("book resolved",
		zap.String("book", id),
		zap.String("state", string(StateMetaResolved)),
		zap.String("adapter", adapter.Name()),
		zap.String("title", meta.Title),
	)

	links, indexURL, err := l.chapterLinks(ctx, adapter, page.URL, doc)
	if err != nil {
		return "", err
	}

	refs := make([]chapters.Ref, len(links))
	for i, link := range links {
		refs[i] = chapters.Ref{Title: link.Title, URL: link.URL, State: chapters.Pending}
	}
	chapters.Renumber(refs)

	rec := store.Book{
		ID:        id,
		SourceURL: canon,
		IndexURL:  indexURL,
		Title:     meta.Title,
		Author:    meta.Author,
		Adapter:   adapter.Name(),
		State:     string(StateManifestLoaded),
	}
	if err := l.opts.Store.CreateBook(ctx, rec, refs); err != nil {
		if errors.Is(err, store.ErrBookExists) {
			return id, nil
		}
		return "", err
	}

	l.log.Info("book added",
		zap.String("book", id),
		zap.String("title", meta.Title),
		zap.Int("chapters", len(refs)),
	)
	return id, nil
}

// chapterLinks reads the full table of contents: the index page when the
// detail page points at one, then every further TOC page, ordered by page
// number. It returns the index URL used, or "" for the detail page.
func (l *Library) chapterLinks(ctx context.Context, a providers.Adapter, pageURL string, doc *goquery.Document) ([]providers.ChapterLink, string, error) {
	tocURL, tocDoc, indexURL := pageURL, doc, ""

	if u := a.IndexURL(doc, pageURL); u != "" {
		idx, err := l.fetchDocument(ctx, u)
		switch {
		case err == nil:
			tocURL, tocDoc, indexURL = u, idx, u
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		default:
			l.log.Warn("index page unavailable, using detail page", zap.String("url", u), zap.Error(err))
		}
	}

	first, err := a.ChapterList(tocDoc, tocURL)
	if err != nil && tocDoc != doc {
		l.log.Warn("index page has no chapters, using detail page", zap.String("url", tocURL), zap.Error(err))
		tocURL, tocDoc, indexURL = pageURL, doc, ""
		first, err = a.ChapterList(doc, pageURL)
	}
	if err != nil {
		return nil, "", err
	}

	type tocPage struct {
		url   string
		links []providers.ChapterLink
	}
	var pages []tocPage

	visited := map[string]bool{tocURL: true}
	queue := a.TOCPages(tocDoc, tocURL)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		if len(pages)+1 >= l.opts.MaxTOCPages {
			l.log.Warn("table of contents truncated", zap.String("url", tocURL), zap.Int("pages", l.opts.MaxTOCPages))
			break
		}

		d, err := l.fetchDocument(ctx, next)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch toc page %s: %w", next, err)
		}
		links, err := a.ChapterList(d, next)
		if err != nil {
			l.log.Warn("toc page has no chapters", zap.String("url", next), zap.Error(err))
		}
		pages = append(pages, tocPage{url: next, links: links})
		queue = append(queue, a.TOCPages(d, next)...)
	}

	sort.SliceStable(pages, func(i, j int) bool {
		ni, oki := providers.PageNumber(pages[i].url)
		nj, okj := providers.PageNumber(pages[j].url)
		if oki != okj {
			return oki
		}
		return ni < nj
	})

	all := first
	for _, p := range pages {
		all = append(all, p.links...)
	}
	return dedupe(all), indexURL, nil
}

func (l *Library) fetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	page, err := l.fetchPage(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return page.Document()
}

// dedupe keeps the first link per URL, ignoring fragments and queries.
func dedupe(links []providers.ChapterLink) []providers.ChapterLink {
	seen := make(map[string]bool, len(links))
	out := make([]providers.ChapterLink, 0, len(links))
	for _, link := range links {
		key := link.URL
		if u, err := url.Parse(link.URL); err == nil {
			u.Fragment, u.RawQuery = "", ""
			key = u.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, link)
	}
	return out
}

// RefreshManifest re-reads the table of contents and appends chapters that
// appeared upstream. Known chapters keep their index, state and content. It
// returns the number of chapters added.
func (l *Library) RefreshManifest(ctx context.Context, id string) (int, error) {
	if err := l.claim(id); err != nil {
		return 0, err
	}
	defer l.release(id)

	rec, err := l.opts.Store.Book(ctx, id)
	if err != nil {
		return 0, err
	}
	adapter, ok := l.opts.Registry.Lookup(rec.Adapter)
	if !ok {
		return 0, fmt.Errorf("adapter %q is not registered", rec.Adapter)
	}

	page, err := l.fetchPage(ctx, rec.SourceURL)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch detail page: %w", err)
	}
	doc, err := page.Document()
	if err != nil {
		return 0, err
	}
	links, _, err := l.chapterLinks(ctx, adapter, page.URL, doc)
	if err != nil {
		return 0, err
	}

	refs, err := l.opts.Store.Manifest(ctx, id)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(refs))
	for _, r := range refs {
		known[r.URL] = true
	}

	added := 0
	for _, link := range links {
		if known[link.URL] {
			continue
		}
		refs = append(refs, chapters.Ref{Title: link.Title, URL: link.URL, State: chapters.Pending})
		added++
	}
	if added == 0 {
		return 0, nil
	}

	chapters.Renumber(refs)
	if err := l.opts.Store.ReplaceManifest(ctx, id, refs); err != nil {
		return 0, err
	}
	if err := l.opts.Store.SetBookState(ctx, id, string(settledState(refs))); err != nil {
		return added, err
	}

	l.log.Info("manifest refreshed", zap.String("book", id), zap.Int("added", added))
	return added, nil
}
