package ui

import "sync/atomic"

// Stats accumulates a command's totals across books.
type Stats struct {
	Books    atomic.Int64
	Chapters atomic.Int64
	Failed   atomic.Int64
	Bytes    atomic.Int64
}
