package store

import (
	"errors"
	"fmt"
)

var (
	ErrMissing      = errors.New("chapter not cached")
	ErrBookNotFound = errors.New("book not found")
	ErrBookExists   = errors.New("book already exists")
	ErrBlobNotFound = errors.New("blob not found")
	errNoChapter    = errors.New("chapter not in manifest")
)

// StoreError wraps a persistence failure with the book and chapter it
// concerned. A failure never alters sibling chapters.
type StoreError struct {
	Op     string
	BookID string
	Index  int
	Err    error
}

func (e *StoreError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("store %s %s/%d: %v", e.Op, e.BookID, e.Index, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.BookID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op, bookID string, index int, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, BookID: bookID, Index: index, Err: err}
}
