// Package fetch retrieves pages as decoded markup and enforces per-host
// politeness through a Gate.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultMaxBytes = 8 << 20

// Page is one retrieved document, decoded to UTF-8.
type Page struct {
	URL     string
	Status  int
	Body    string
	Charset string
}

// Document parses the page. The document URL is set so relative links
// resolve against the final (post-redirect) location.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.URL, err)
	}
	if u, err := url.Parse(p.URL); err == nil {
		doc.Url = u
	}
	return doc, nil
}

// Fetcher retrieves a page or fails.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

type HTTPOptions struct {
	Timeout  time.Duration
	MaxBytes int64
}

// HTTPFetcher is a Fetcher over an *http.Client. Each request carries its
// own timeout.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

func NewHTTPFetcher(c *http.Client, opts HTTPOptions) *HTTPFetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &HTTPFetcher{
		client:   c,
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{URL: rawURL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := classifyStatus(rawURL, resp.StatusCode); err != nil {
		return nil, err
	}

	raw, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, errTooLarge) {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		return nil, &TransientError{URL: rawURL, Err: err}
	}

	body, cs := decodeBody(raw, resp.Header.Get("Content-Type"))

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	return &Page{URL: final, Status: resp.StatusCode, Body: body, Charset: cs}, nil
}

var errTooLarge = errors.New("response body exceeds size limit")

func readLimited(src io.Reader, limit int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, errTooLarge
	}
	return out, nil
}

// HostOf returns the lower-cased host name of rawURL.
func HostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid url %q: missing host", rawURL)
	}
	return strings.ToLower(u.Hostname()), nil
}
