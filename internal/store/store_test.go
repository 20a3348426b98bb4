package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/clock"
	"github.com/brogergvhs/noveld/internal/normalize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T, blobs BlobStore) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), Options{DBPath: dbPath, Blobs: blobs, Clock: clock.NewFake(epoch)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dbPath
}

func seed(t *testing.T, s *Store, id string, n int) {
	t.Helper()
	refs := make([]chapters.Ref, n)
	for i := range refs {
		refs[i] = chapters.Ref{Title: fmt.Sprintf("第%d章", i+1), URL: fmt.Sprintf("https://b.example/%d.html", i+1)}
	}
	err := s.CreateBook(context.Background(), Book{
		ID: id, SourceURL: "https://b.example/" + id + "/", Title: "书", Adapter: "biquge", State: "manifest_loaded",
	}, chapters.Renumber(refs))
	require.NoError(t, err)
}

func content(id string, index int, text string) chapters.Content {
	return chapters.Content{
		BookID: id, Index: index, Title: fmt.Sprintf("第%d章", index),
		Text: text, Fingerprint: normalize.Fingerprint(text),
	}
}

// TestStore_PutGetRoundTrip verifies stored text reads back and marks the chapter Done
func TestStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s, _ := openTest(t, blobs)
	seed(t, s, "b1", 3)

	c := content("b1", 2, "正文。")
	res, err := s.Put(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Stored, res)

	got, err := s.Get(ctx, "b1", 2)
	require.NoError(t, err)
	assert.Equal(t, "正文。", got.Text)
	assert.Equal(t, "第2章", got.Title)
	assert.Equal(t, c.Fingerprint, got.Fingerprint)
	assert.True(t, got.FetchedAt.Equal(epoch))

	refs, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, chapters.Done, refs[1].State)
	assert.Equal(t, chapters.Pending, refs[0].State)

	assert.Equal(t, []string{Key("b1", 2, c.Fingerprint)}, blobs.Keys())
	assert.Regexp(t, `^b1/2\.[0-9a-f]{12}$`, blobs.Keys()[0])
}

// TestStore_GetMissing verifies pending, unknown and out-of-range chapters report ErrMissing
func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, NewMemoryBlobs())
	seed(t, s, "b1", 2)

	for _, idx := range []int{1, 3} {
		_, err := s.Get(ctx, "b1", idx)
		assert.ErrorIs(t, err, ErrMissing)

		var se *StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "get", se.Op)
		assert.Equal(t, idx, se.Index)
	}

	_, err := s.Get(ctx, "nope", 1)
	assert.ErrorIs(t, err, ErrMissing)
}

// TestStore_PutIdempotent verifies an unchanged fingerprint leaves the store untouched
func TestStore_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s, _ := openTest(t, blobs)
	seed(t, s, "b1", 1)

	c := content("b1", 1, "同样的内容。")
	_, err := s.Put(ctx, c)
	require.NoError(t, err)
	before, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)

	c.FetchedAt = epoch.Add(time.Hour)
	res, err := s.Put(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res)

	after, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, blobs.Keys(), 1)
}

// TestStore_PutDrift verifies a new fingerprint replaces the blob and reports drift
func TestStore_PutDrift(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s, _ := openTest(t, blobs)
	seed(t, s, "b1", 1)

	_, err := s.Put(ctx, content("b1", 1, "旧版本。"))
	require.NoError(t, err)

	fresh := content("b1", 1, "新版本。")
	res, err := s.Put(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, Drifted, res)

	got, err := s.Get(ctx, "b1", 1)
	require.NoError(t, err)
	assert.Equal(t, "新版本。", got.Text)
	assert.Equal(t, []string{Key("b1", 1, fresh.Fingerprint)}, blobs.Keys())
}

// TestStore_SetChapterStateKeepsDone verifies outcomes never demote cached chapters
func TestStore_SetChapterStateKeepsDone(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, NewMemoryBlobs())
	seed(t, s, "b1", 2)

	_, err := s.Put(ctx, content("b1", 1, "内容。"))
	require.NoError(t, err)

	changed, err := s.SetChapterState(ctx, "b1", 1, chapters.Failed, "parse")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.SetChapterState(ctx, "b1", 2, chapters.Failed, "not-found")
	require.NoError(t, err)
	assert.True(t, changed)

	refs, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, chapters.Done, refs[0].State)
	assert.Equal(t, chapters.Failed, refs[1].State)
	assert.Equal(t, "not-found", refs[1].Reason)

	_, err = s.SetChapterState(ctx, "b1", 2, chapters.Done, "")
	assert.Error(t, err)
}

// TestStore_DeleteBookLeavesNothing verifies every chapter reads Missing and no blob survives
func TestStore_DeleteBookLeavesNothing(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s, _ := openTest(t, blobs)
	seed(t, s, "b1", 3)
	seed(t, s, "b2", 1)

	for i := 1; i <= 3; i++ {
		_, err := s.Put(ctx, content("b1", i, fmt.Sprintf("第%d段。", i)))
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, content("b2", 1, "别的书。"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteBook(ctx, "b1"))

	for i := 1; i <= 3; i++ {
		_, err := s.Get(ctx, "b1", i)
		assert.ErrorIs(t, err, ErrMissing)
	}
	_, err = s.Book(ctx, "b1")
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.Equal(t, []string{Key("b2", 1, normalize.Fingerprint("别的书。"))}, blobs.Keys())

	assert.ErrorIs(t, s.DeleteBook(ctx, "b1"), ErrBookNotFound)
}

// TestStore_PutAfterDeleteFails verifies a late job cannot resurrect a deleted book
func TestStore_PutAfterDeleteFails(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s, _ := openTest(t, blobs)
	seed(t, s, "b1", 1)
	require.NoError(t, s.DeleteBook(ctx, "b1"))

	_, err := s.Put(ctx, content("b1", 1, "迟到。"))
	require.Error(t, err)
	assert.Empty(t, blobs.Keys())
}

// TestStore_CreateBookRejectsGapsAndDuplicates verifies manifest invariants at creation
func TestStore_CreateBookRejectsGapsAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, NewMemoryBlobs())
	seed(t, s, "b1", 2)

	err := s.CreateBook(ctx, Book{ID: "b1", SourceURL: "x", Title: "t", Adapter: "a", State: "s"}, nil)
	assert.ErrorIs(t, err, ErrBookExists)

	gap := []chapters.Ref{{Index: 1}, {Index: 3}}
	err = s.CreateBook(ctx, Book{ID: "b9", SourceURL: "y", Title: "t", Adapter: "a", State: "s"}, gap)
	assert.Error(t, err)
	_, err = s.Book(ctx, "b9")
	assert.ErrorIs(t, err, ErrBookNotFound)
}

// TestStore_BooksAndPosition verifies listing order and bookkeeping fields
func TestStore_BooksAndPosition(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, NewMemoryBlobs())
	seed(t, s, "b1", 2)
	seed(t, s, "b2", 2)

	require.NoError(t, s.SetPosition(ctx, "b2", 2))
	require.NoError(t, s.SetBookState(ctx, "b2", "complete"))
	assert.ErrorIs(t, s.SetPosition(ctx, "zz", 1), ErrBookNotFound)

	books, err := s.Books(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "b1", books[0].ID)
	assert.Equal(t, 2, books[1].Position)
	assert.Equal(t, "complete", books[1].State)
}

// TestStore_ReplaceManifestDropsStaleBlobs verifies refreshed manifests keep only referenced content
func TestStore_ReplaceManifestDropsStaleBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	s, _ := openTest(t, blobs)
	seed(t, s, "b1", 2)

	_, err := s.Put(ctx, content("b1", 1, "一。"))
	require.NoError(t, err)
	_, err = s.Put(ctx, content("b1", 2, "二。"))
	require.NoError(t, err)

	refs, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)
	refs[1].State, refs[1].Fingerprint = chapters.Pending, ""
	refs = append(refs, chapters.Ref{Index: 3, Title: "第3章", URL: "https://b.example/3.html"})

	require.NoError(t, s.ReplaceManifest(ctx, "b1", refs))

	got, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, chapters.Indices(got))
	assert.Equal(t, []string{Key("b1", 1, normalize.Fingerprint("一。"))}, blobs.Keys())
	_, err = s.Get(ctx, "b1", 2)
	assert.ErrorIs(t, err, ErrMissing)
}

// TestStore_ConcurrentBooksDoNotInterfere verifies parallel writers on different books
func TestStore_ConcurrentBooksDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, NewMemoryBlobs())
	for b := 0; b < 4; b++ {
		seed(t, s, fmt.Sprintf("b%d", b), 5)
	}

	var wg sync.WaitGroup
	for b := 0; b < 4; b++ {
		for i := 1; i <= 5; i++ {
			wg.Add(1)
			go func(id string, idx int) {
				defer wg.Done()
				_, err := s.Put(ctx, content(id, idx, id+"正文"))
				assert.NoError(t, err)
			}(fmt.Sprintf("b%d", b), i)
		}
	}
	wg.Wait()

	for b := 0; b < 4; b++ {
		refs, err := s.Manifest(ctx, fmt.Sprintf("b%d", b))
		require.NoError(t, err)
		for _, r := range refs {
			assert.Equal(t, chapters.Done, r.State)
		}
	}
}

// TestOpen_RecoversCrashState verifies Fetching resets and orphan namespaces are swept
func TestOpen_RecoversCrashState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blobs, err := NewFSBlobs(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	dbPath := filepath.Join(dir, "catalog.db")
	s, err := Open(ctx, Options{DBPath: dbPath, Blobs: blobs})
	require.NoError(t, err)
	seed(t, s, "b1", 2)
	_, err = s.SetChapterState(ctx, "b1", 1, chapters.Fetching, "")
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, "ghost/1.abcdef012345", []byte("孤儿")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{DBPath: dbPath, Blobs: blobs})
	require.NoError(t, err)
	defer s.Close()

	refs, err := s.Manifest(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, chapters.Pending, refs[0].State)

	ns, err := blobs.Namespaces(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ns, "ghost")
}
