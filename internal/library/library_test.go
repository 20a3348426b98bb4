package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/clock"
	"github.com/brogergvhs/noveld/internal/downloader"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/providers"
	"github.com/brogergvhs/noveld/internal/providers/generic"
	"github.com/brogergvhs/noveld/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeSite serves canned pages and injects failures per URL.
type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]int
	status   map[string]int
	block    map[string]chan struct{}
	calls    map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:    map[string]string{},
		failures: map[string]int{},
		status:   map[string]int{},
		block:    map[string]chan struct{}{},
		calls:    map[string]int{},
	}
}

func (s *fakeSite) Fetch(ctx context.Context, u string) (*fetch.Page, error) {
	s.mu.Lock()
	s.calls[u]++
	if n := s.failures[u]; n > 0 {
		s.failures[u] = n - 1
		s.mu.Unlock()
		return nil, &fetch.TransientError{URL: u, Status: 503}
	}
	code, hasCode := s.status[u]
	body, ok := s.pages[u]
	gate := s.block[u]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hasCode {
		return nil, &fetch.StatusError{URL: u, Status: code}
	}
	if !ok {
		return nil, &fetch.StatusError{URL: u, Status: 404}
	}
	return &fetch.Page{URL: u, Status: 200, Body: body, Charset: "utf-8"}, nil
}

func (s *fakeSite) set(u, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[u] = body
}

func (s *fakeSite) fail(u string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[u] = n
}

func (s *fakeSite) hold(u string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.block[u] = ch
	return ch
}

func (s *fakeSite) count(u string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[u]
}

type env struct {
	lib   *Library
	site  *fakeSite
	blobs *store.MemoryBlobs
	clock *clock.Fake
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	fc := clock.NewFake(epoch)

	blobs := store.NewMemoryBlobs()
	st, err := store.Open(ctx, store.Options{
		DBPath: filepath.Join(t.TempDir(), "library.db"),
		Blobs:  blobs,
		Clock:  fc,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sched := downloader.New(downloader.Options{
		Workers:     2,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  4 * time.Second,
		Clock:       fc,
	})
	t.Cleanup(sched.Close)

	gate := fetch.NewGate(fetch.GateOptions{MaxInFlight: 2, MinDelay: 500 * time.Millisecond, Clock: fc})
	site := newFakeSite()

	lib, err := New(Options{
		Store:         st,
		Fetcher:       fetch.Polite(site, gate, nil),
		Registry:      providers.NewRegistry(generic.Sites(nil, 10)...),
		Scheduler:     sched,
		Clock:         fc,
		MinBodyLength: 10,
	})
	require.NoError(t, err)
	t.Cleanup(lib.Close)

	return &env{lib: lib, site: site, blobs: blobs, clock: fc}
}

func detailURL(host string) string {
	return "https://" + host + "/book/1/"
}

func chapterURL(host string, i int) string {
	return fmt.Sprintf("https://%s/book/1/%d.html", host, i)
}

func detailPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>测试之书_笔趣阁</title></head><body>
<div id="info"><h1>测试之书</h1><p>作者：某人</p></div>
<div id="list"><dl><dt>《测试之书》正文</dt>`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<dd><a href="/book/1/%d.html">第%d章 标题%d</a></dd>`, i, i, i)
	}
	b.WriteString(`</dl></div></body></html>`)
	return b.String()
}

func chapterPage(i int, body string) string {
	return fmt.Sprintf(`<html><head><title>第%d章 标题%d_测试之书</title></head><body>
<h1>第%d章 标题%d</h1><div id="content">%s</div></body></html>`, i, i, i, i, body)
}

func defaultBody(i int) string {
	return fmt.Sprintf("第%d章的正文第一段。<br><br>这是第%d章的第二段，内容足够长。", i, i)
}

// serve publishes a book with n chapters on host.
func (e *env) serve(host string, n int) {
	e.site.set(detailURL(host), detailPage(n))
	for i := 1; i <= n; i++ {
		e.site.set(chapterURL(host, i), chapterPage(i, defaultBody(i)))
	}
}

func (e *env) submit(t *testing.T, host string, n int) string {
	t.Helper()
	e.serve(host, n)
	id, err := e.lib.SubmitBook(context.Background(), detailURL(host))
	require.NoError(t, err)
	return id
}

func (e *env) download(t *testing.T, id string, opts DownloadOptions) State {
	t.Helper()
	require.NoError(t, e.lib.StartDownload(context.Background(), id, opts))
	return e.wait(t, id)
}

func (e *env) wait(t *testing.T, id string) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := e.lib.Wait(ctx, id)
	require.NoError(t, err)
	return st
}

func (e *env) manifest(t *testing.T, id string) []chapters.Ref {
	t.Helper()
	refs, err := e.lib.Manifest(context.Background(), id)
	require.NoError(t, err)
	return refs
}

func countStates(refs []chapters.Ref) map[chapters.State]int {
	out := map[chapters.State]int{}
	for _, r := range refs {
		out[r.State]++
	}
	return out
}

func TestSubmitBook_CreatesManifest(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "www.bqg.test", 10)

	canon, err := CanonicalURL(detailURL("www.bqg.test"))
	require.NoError(t, err)
	assert.Equal(t, BookID(canon), id)

	b, err := e.lib.Book(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "测试之书", b.Title)
	assert.Equal(t, "biquge", b.Adapter)
	assert.Equal(t, StateManifestLoaded, b.State)

	refs := e.manifest(t, id)
	require.Len(t, refs, 10)
	assert.True(t, chapters.Contiguous(refs))
	assert.Equal(t, "第1章 标题1", refs[0].Title)
	assert.Equal(t, chapterURL("www.bqg.test", 10), refs[9].URL)
	assert.Equal(t, 10, countStates(refs)[chapters.Pending])
}

func TestSubmitBook_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "www.bqg.test", 3)

	again, err := e.lib.SubmitBook(context.Background(), detailURL("www.bqg.test")+"#top")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, e.site.count(detailURL("www.bqg.test")))

	books, err := e.lib.Books(context.Background())
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestSubmitBook_UnsupportedSitePersistsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.site.set("https://blog.test/post/1/", `<html><body><p>hello</p></body></html>`)

	_, err := e.lib.SubmitBook(ctx, "https://blog.test/post/1/")
	assert.ErrorIs(t, err, providers.ErrUnsupportedSite)

	_, err = e.lib.SubmitBook(ctx, "ftp://blog.test/post/1/")
	assert.ErrorIs(t, err, providers.ErrUnsupportedSite)

	books, err := e.lib.Books(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestSubmitBook_MissingTitleIsUnsupported(t *testing.T) {
	e := newEnv(t)
	e.site.set(detailURL("www.bqg.test"), `<html><body><div id="list"><dl><dd><a href="/book/1/1.html">第1章</a></dd></dl></div></body></html>`)

	_, err := e.lib.SubmitBook(context.Background(), detailURL("www.bqg.test"))
	assert.ErrorIs(t, err, providers.ErrUnsupportedSite)
	assert.ErrorIs(t, err, providers.ErrNoMeta)
}

func TestSubmitBook_EmptyChapterListPersistsNothing(t *testing.T) {
	e := newEnv(t)
	e.site.set(detailURL("www.bqg.test"), `<html><body><div id="info"><h1>空书</h1></div><div id="list"><dl><dt>正文</dt></dl></div></body></html>`)

	_, err := e.lib.SubmitBook(context.Background(), detailURL("www.bqg.test"))
	var pe *providers.ParseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, providers.ErrNoChapters)

	books, err := e.lib.Books(context.Background())
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestSubmitBook_FollowsIndexAndTOCPages(t *testing.T) {
	e := newEnv(t)
	const base = "https://www.bqg.test/book/2/"

	e.site.set(base, `<html><head>
<meta property="og:novel:book_name" content="分页之书">
<meta property="og:novel:read_url" content="https://www.bqg.test/book/2/all/">
</head><body><div id="list"><dl><dt>最新章节</dt><dd><a href="/book/2/6.html">第6章</a></dd></dl></div></body></html>`)

	toc := func(links ...int) string {
		var b strings.Builder
		b.WriteString(`<html><body><select>
<option value="/book/2/all/">1</option>
<option value="/book/2/all/index_3.html">3</option>
<option value="/book/2/all/index_2.html">2</option>
</select><div id="list"><dl><dt>正文</dt>`)
		for _, i := range links {
			fmt.Fprintf(&b, `<dd><a href="/book/2/%d.html">第%d章</a></dd>`, i, i)
		}
		b.WriteString(`</dl></div></body></html>`)
		return b.String()
	}
	e.site.set(base+"all/", toc(1, 2, 3))
	e.site.set(base+"all/index_2.html", toc(3, 4, 5))
	e.site.set(base+"all/index_3.html", toc(6))

	id, err := e.lib.SubmitBook(context.Background(), base)
	require.NoError(t, err)

	refs := e.manifest(t, id)
	require.Len(t, refs, 6)
	for i, r := range refs {
		assert.Equal(t, fmt.Sprintf("https://www.bqg.test/book/2/%d.html", i+1), r.URL)
		assert.Equal(t, i+1, r.Index)
	}

	b, err := e.lib.Book(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, base+"all/", b.IndexURL)
}

func TestSubmitBook_TOCPageFailureAborts(t *testing.T) {
	e := newEnv(t)
	const base = "https://www.bqg.test/book/3/"
	e.site.set(base, `<html><head><meta property="og:novel:book_name" content="书"></head><body>
<select><option value="/book/3/index_2.html">2</option></select>
<div id="list"><dl><dt>正文</dt><dd><a href="/book/3/1.html">第1章</a></dd></dl></div></body></html>`)

	_, err := e.lib.SubmitBook(context.Background(), base)
	assert.ErrorIs(t, err, fetch.ErrNotFound)

	books, err := e.lib.Books(context.Background())
	require.NoError(t, err)
	assert.Empty(t, books)
}

// Chapters 3 and 7 fail twice, then succeed within the retry budget.
func TestDownload_RecoversTransientFailuresWithinBudget(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 10)
	e.site.fail(chapterURL(host, 3), 2)
	e.site.fail(chapterURL(host, 7), 2)

	assert.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	refs := e.manifest(t, id)
	assert.Equal(t, 10, countStates(refs)[chapters.Done])
	for i := 1; i <= 10; i++ {
		c, err := e.lib.ReadChapter(context.Background(), id, i)
		require.NoError(t, err, "chapter %d", i)
		assert.Contains(t, c.Text, fmt.Sprintf("第%d章的正文第一段。", i))
		assert.False(t, c.FetchedAt.Before(epoch))
	}
	assert.Equal(t, 3, e.site.count(chapterURL(host, 3)))
	assert.Equal(t, 3, e.site.count(chapterURL(host, 7)))
	assert.Equal(t, 1, e.site.count(chapterURL(host, 1)))
}

// Chapter 5 exhausts its retry budget; only it is retried afterwards.
func TestDownload_ExhaustedChapterLeavesBookPartiallyFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const host = "www.bqg.test"
	id := e.submit(t, host, 10)
	e.site.fail(chapterURL(host, 5), 100)

	assert.Equal(t, StatePartiallyFailed, e.download(t, id, DownloadOptions{}))

	refs := e.manifest(t, id)
	counts := countStates(refs)
	assert.Equal(t, 1, counts[chapters.Failed])
	assert.Equal(t, 9, counts[chapters.Done])
	assert.Equal(t, chapters.Failed, refs[4].State)
	assert.Equal(t, "transient", refs[4].Reason)
	assert.Equal(t, 3, e.site.count(chapterURL(host, 5)))

	_, err := e.lib.ReadChapter(ctx, id, 5)
	assert.ErrorIs(t, err, store.ErrMissing)
	_, err = e.lib.ReadChapter(ctx, id, 6)
	assert.NoError(t, err)

	e.site.fail(chapterURL(host, 5), 0)
	assert.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))
	assert.Equal(t, 1, e.site.count(chapterURL(host, 1)), "done chapters are not refetched")
	assert.Equal(t, 4, e.site.count(chapterURL(host, 5)))
}

func TestDownload_NotFoundIsTerminal(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 5)
	e.site.mu.Lock()
	e.site.status[chapterURL(host, 4)] = 404
	e.site.mu.Unlock()

	assert.Equal(t, StatePartiallyFailed, e.download(t, id, DownloadOptions{}))

	refs := e.manifest(t, id)
	assert.Equal(t, "not-found", refs[3].Reason)
	assert.Equal(t, 1, e.site.count(chapterURL(host, 4)))
}

func TestDownload_ShortBodyIsParseFailure(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 3)
	e.site.set(chapterURL(host, 2), chapterPage(2, "短"))

	assert.Equal(t, StatePartiallyFailed, e.download(t, id, DownloadOptions{}))

	refs := e.manifest(t, id)
	assert.Equal(t, chapters.Failed, refs[1].State)
	assert.Equal(t, "parse", refs[1].Reason)
	assert.Equal(t, 1, e.site.count(chapterURL(host, 2)))
}

func TestDownload_MergesContinuationPages(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 2)

	e.site.set(chapterURL(host, 1), `<html><body><h1>第1章 标题1</h1>
<div id="content">第一页的内容在这里，很长很长。</div>
<a href="/book/1/1_2.html">下一页</a><a href="/book/1/2.html">下一章</a></body></html>`)
	e.site.set("https://www.bqg.test/book/1/1_2.html", `<html><body><h1>第1章 标题1</h1>
<div id="content">第1章 标题1（2/2）<br>第二页的内容紧随其后。</div>
<a href="/book/1/2.html">下一章</a></body></html>`)

	assert.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	c, err := e.lib.ReadChapter(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, "第一页的内容在这里，很长很长。\n\n第二页的内容紧随其后。", c.Text)
}

// continuationChain publishes chapter 1 of host as n linked pages.
func (e *env) continuationChain(host string, n int) {
	for p := 1; p <= n; p++ {
		u := chapterURL(host, 1)
		if p > 1 {
			u = fmt.Sprintf("https://%s/book/1/1_%d.html", host, p)
		}
		next := ""
		if p < n {
			next = fmt.Sprintf(`<a href="/book/1/1_%d.html">下一页</a>`, p+1)
		}
		e.site.set(u, fmt.Sprintf(`<html><body><h1>第1章 标题1</h1>
<div id="content">第1章的第%d页，正文在此处继续。</div>%s<a href="/book/1/2.html">下一章</a></body></html>`, p, next))
	}
}

func TestDownload_FollowsContinuationPagesUpToLimit(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 2)
	e.continuationChain(host, 20)

	assert.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	c, err := e.lib.ReadChapter(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Contains(t, c.Text, "第1章的第1页")
	assert.Contains(t, c.Text, "第1章的第20页")
}

func TestDownload_PageChainBeyondLimitIsNeverStoredTruncated(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 2)
	e.continuationChain(host, 25)

	assert.Equal(t, StatePartiallyFailed, e.download(t, id, DownloadOptions{}))

	refs := e.manifest(t, id)
	assert.Equal(t, chapters.Failed, refs[0].State)
	assert.Equal(t, "parse", refs[0].Reason)
	assert.Equal(t, chapters.Done, refs[1].State)

	_, err := e.lib.ReadChapter(context.Background(), id, 1)
	assert.ErrorIs(t, err, store.ErrMissing)
	assert.Equal(t, 0, e.site.count("https://www.bqg.test/book/1/1_21.html"))
}

func TestDownload_PlaceholderContentFallsThroughToBody(t *testing.T) {
	e := newEnv(t)
	const host = "www.bqg.test"
	id := e.submit(t, host, 3)
	e.site.set(chapterURL(host, 2), `<html><body><h1>第2章 标题2</h1>
<div id="content">加载中</div>
<div class="read-content"><p>第二章真正的正文第一段。</p><p>第二章真正的正文第二段，足够长。</p></div>
</body></html>`)

	assert.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	c, err := e.lib.ReadChapter(context.Background(), id, 2)
	require.NoError(t, err)
	assert.Contains(t, c.Text, "第二章真正的正文第一段。")
	assert.NotContains(t, c.Text, "加载中")
}

func TestDownload_RefetchIsIdempotentAndDetectsDrift(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const host = "www.bqg.test"
	id := e.submit(t, host, 4)
	require.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	before := e.manifest(t, id)
	keys := e.blobs.Keys()
	require.Len(t, keys, 4)

	require.Equal(t, StateComplete, e.download(t, id, DownloadOptions{Force: true}))
	assert.Equal(t, keys, e.blobs.Keys())
	assert.Equal(t, before[1].Fingerprint, e.manifest(t, id)[1].Fingerprint)

	e.site.set(chapterURL(host, 2), chapterPage(2, "上游修改了第二章的内容，变得不同。"))
	require.Equal(t, StateComplete, e.download(t, id, DownloadOptions{Indices: []int{2}, Force: true}))

	after := e.manifest(t, id)
	assert.NotEqual(t, before[1].Fingerprint, after[1].Fingerprint)
	assert.Equal(t, before[0].Fingerprint, after[0].Fingerprint)
	assert.Len(t, e.blobs.Keys(), 4)

	c, err := e.lib.ReadChapter(ctx, id, 2)
	require.NoError(t, err)
	assert.Contains(t, c.Text, "上游修改")
}

func TestDownload_SubsetLeavesOthersPending(t *testing.T) {
	e := newEnv(t)
	id := e.submit(t, "www.bqg.test", 5)

	assert.Equal(t, StateManifestLoaded, e.download(t, id, DownloadOptions{Indices: []int{2, 4}}))
	counts := countStates(e.manifest(t, id))
	assert.Equal(t, 2, counts[chapters.Done])
	assert.Equal(t, 3, counts[chapters.Pending])

	err := e.lib.StartDownload(context.Background(), id, DownloadOptions{Indices: []int{9}})
	assert.Error(t, err)
}

func TestCancelDownload_LeavesOtherBookUnaffected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.submit(t, "a.test", 10)
	b := e.submit(t, "b.test", 10)
	e.site.hold(chapterURL("a.test", 3))
	e.site.hold(chapterURL("a.test", 4))

	require.NoError(t, e.lib.StartDownload(ctx, a, DownloadOptions{}))
	require.NoError(t, e.lib.StartDownload(ctx, b, DownloadOptions{}))
	events, unsubscribe, err := e.lib.Subscribe(ctx, b)
	require.NoError(t, err)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		refs, err := e.lib.Manifest(ctx, a)
		return err == nil && countStates(refs)[chapters.Done] == 2
	}, 5*time.Second, 5*time.Millisecond)

	e.lib.CancelDownload(a)
	assert.Equal(t, StateManifestLoaded, e.wait(t, a))
	assert.Equal(t, StateComplete, e.wait(t, b))

	refsA := e.manifest(t, a)
	counts := countStates(refsA)
	assert.Equal(t, 2, counts[chapters.Done])
	assert.Equal(t, 8, counts[chapters.Pending])
	for _, i := range []int{1, 2} {
		_, err := e.lib.ReadChapter(ctx, a, i)
		assert.NoError(t, err)
	}

	var last Progress
	for p := range events {
		last = p
	}
	assert.True(t, last.Final)
	assert.Equal(t, Progress{BookID: b, Done: 10, Total: 10, State: StateComplete, Final: true}, last)
}

func TestDeleteBook_RemovesEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	keep := e.submit(t, "keep.test", 3)
	id := e.submit(t, "www.bqg.test", 5)
	require.Equal(t, StateComplete, e.download(t, keep, DownloadOptions{}))
	require.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	require.NoError(t, e.lib.DeleteBook(ctx, id))

	for i := 1; i <= 5; i++ {
		_, err := e.lib.ReadChapter(ctx, id, i)
		assert.ErrorIs(t, err, store.ErrMissing)
	}
	for _, k := range e.blobs.Keys() {
		assert.False(t, strings.HasPrefix(k, id+"/"), "leftover %s", k)
	}
	assert.Len(t, e.blobs.Keys(), 3)

	_, err := e.lib.Book(ctx, id)
	assert.ErrorIs(t, err, store.ErrBookNotFound)
	_, err = e.lib.ReadChapter(ctx, keep, 1)
	assert.NoError(t, err)
}

func TestDeleteBook_CancelsRunningDownload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 4)
	e.site.hold(chapterURL("www.bqg.test", 1))
	e.site.hold(chapterURL("www.bqg.test", 2))

	require.NoError(t, e.lib.StartDownload(ctx, id, DownloadOptions{}))
	require.NoError(t, e.lib.DeleteBook(ctx, id))

	assert.Empty(t, e.blobs.Keys())
	books, err := e.lib.Books(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestStartDownload_BusyWhileRunning(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 3)
	release := e.site.hold(chapterURL("www.bqg.test", 1))

	require.NoError(t, e.lib.StartDownload(ctx, id, DownloadOptions{}))
	assert.ErrorIs(t, e.lib.StartDownload(ctx, id, DownloadOptions{}), ErrBusy)
	_, err := e.lib.RefreshManifest(ctx, id)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	assert.Equal(t, StateComplete, e.wait(t, id))
}

func TestSubscribe_StreamsUntilFinal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 6)
	release := e.site.hold(chapterURL("www.bqg.test", 1))

	require.NoError(t, e.lib.StartDownload(ctx, id, DownloadOptions{}))
	events, unsubscribe, err := e.lib.Subscribe(ctx, id)
	require.NoError(t, err)
	defer unsubscribe()

	first := <-events
	assert.Equal(t, 6, first.Total)
	assert.False(t, first.Final)
	assert.Equal(t, StateDownloading, first.State)

	close(release)

	var got []Progress
	for p := range events {
		got = append(got, p)
	}
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].Done, got[i-1].Done)
	}
	last := got[len(got)-1]
	assert.True(t, last.Final)
	assert.Equal(t, 6, last.Done)
	assert.Equal(t, StateComplete, last.State)
}

func TestSubscribe_WithoutBatchIsSnapshot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 3)

	events, unsubscribe, err := e.lib.Subscribe(ctx, id)
	require.NoError(t, err)
	defer unsubscribe()

	var got []Progress
	for p := range events {
		got = append(got, p)
	}
	assert.Equal(t, []Progress{{BookID: id, Pending: 3, Total: 3, State: StateManifestLoaded, Final: true}}, got)

	_, _, err = e.lib.Subscribe(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrBookNotFound)
}

func TestRefreshManifest_AppendsNewChapters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const host = "www.bqg.test"
	id := e.submit(t, host, 3)
	require.Equal(t, StateComplete, e.download(t, id, DownloadOptions{}))

	e.serve(host, 5)
	added, err := e.lib.RefreshManifest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	refs := e.manifest(t, id)
	require.Len(t, refs, 5)
	assert.True(t, chapters.Contiguous(refs))
	assert.Equal(t, chapters.Done, refs[2].State)
	assert.Equal(t, chapters.Pending, refs[4].State)

	_, err = e.lib.ReadChapter(ctx, id, 1)
	assert.NoError(t, err)

	b, err := e.lib.Book(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateManifestLoaded, b.State)

	added, err = e.lib.RefreshManifest(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestSearchChapters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 12)

	indices := func(refs []chapters.Ref) []int {
		var out []int
		for _, r := range refs {
			out = append(out, r.Index)
		}
		return out
	}

	got, err := e.lib.SearchChapters(ctx, id, "标题3")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, indices(got))

	got, err = e.lib.SearchChapters(ctx, id, "第十一章")
	require.NoError(t, err)
	assert.Equal(t, []int{11}, indices(got))

	got, err = e.lib.SearchChapters(ctx, id, "不存在")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAssemble_WritesInIndexOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const host = "www.bqg.test"
	id := e.submit(t, host, 4)
	e.site.fail(chapterURL(host, 3), 100)
	require.Equal(t, StatePartiallyFailed, e.download(t, id, DownloadOptions{}))

	var out strings.Builder
	missing, err := e.lib.Assemble(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, missing)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "测试之书\n"))
	i1 := strings.Index(text, "第1章的正文")
	i2 := strings.Index(text, "第2章的正文")
	i4 := strings.Index(text, "第4章的正文")
	assert.True(t, i1 >= 0 && i1 < i2 && i2 < i4)
	assert.NotContains(t, text, "第3章的正文")
}

func TestResolve(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 2)

	got, err := e.lib.Resolve(ctx, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = e.lib.Resolve(ctx, detailURL("www.bqg.test"))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = e.lib.Resolve(ctx, "ffffffff-none")
	assert.ErrorIs(t, err, store.ErrBookNotFound)
}

func TestSetPosition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.submit(t, "www.bqg.test", 3)

	require.NoError(t, e.lib.SetPosition(ctx, id, 2))
	b, err := e.lib.Book(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Position)

	assert.Error(t, e.lib.SetPosition(ctx, id, 4))
	assert.Error(t, e.lib.SetPosition(ctx, id, 0))
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&providers.ParseError{Err: providers.ErrBodyMissing}, "parse"},
		{&fetch.StatusError{Status: 410}, "not-found"},
		{&fetch.StatusError{Status: 403}, "http-4xx"},
		{&fetch.TransientError{Status: 503}, "transient"},
		{&store.StoreError{Op: "put", Err: errors.New("disk")}, "store"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err), "%v", tt.err)
	}
}
