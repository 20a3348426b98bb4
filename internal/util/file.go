package util

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/brogergvhs/noveld/internal/chapters"
)

// ChapterZip packs chapters as one text entry each, named by FileName.
type ChapterZip struct {
	z     *zip.Writer
	added int
}

func NewChapterZip(w io.Writer) *ChapterZip {
	return &ChapterZip{z: zip.NewWriter(w)}
}

func (cz *ChapterZip) Add(c chapters.Content) error {
	header := &zip.FileHeader{
		Name:     c.FileName(),
		Method:   zip.Deflate,
		Modified: c.FetchedAt,
	}

	w, err := cz.z.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip %s: %w", header.Name, err)
	}
	if _, err := fmt.Fprintf(w, "%s\n\n%s\n", c.Title, c.Text); err != nil {
		return fmt.Errorf("zip %s: %w", header.Name, err)
	}

	cz.added++
	return nil
}

func (cz *ChapterZip) Len() int {
	return cz.added
}

func (cz *ChapterZip) Close() error {
	return cz.z.Close()
}

// WriteFileAtomic writes through PartialPath(path) and renames into place
// only when write succeeds.
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	tmp := PartialPath(path)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
