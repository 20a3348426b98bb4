package chapters

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Origin is the index of the first chapter in every manifest.
const Origin = 1

type State int

const (
	Pending State = iota
	Fetching
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "fetching":
		return Fetching, nil
	case "done":
		return Done, nil
	case "failed":
		return Failed, nil
	}
	return Pending, fmt.Errorf("unknown chapter state %q", s)
}

// Ref is one manifest entry.
type Ref struct {
	Index       int
	Title       string
	URL         string
	State       State
	Fingerprint string
	Reason      string
	FetchedAt   time.Time
}

// Content is a normalized, stored chapter.
type Content struct {
	BookID      string
	Index       int
	Title       string
	Text        string
	FetchedAt   time.Time
	Fingerprint string
}

// Renumber assigns contiguous indices starting at Origin, in slice order.
func Renumber(refs []Ref) []Ref {
	for i := range refs {
		refs[i].Index = Origin + i
	}
	return refs
}

// Contiguous reports whether refs are numbered Origin, Origin+1, ... with
// no gaps.
func Contiguous(refs []Ref) bool {
	for i, r := range refs {
		if r.Index != Origin+i {
			return false
		}
	}
	return true
}

var reUnderscore = regexp.MustCompile(`_+`)

func sanitize(s string) string {
	s = strings.ToLower(s)

	repl := []string{
		"•", "_",
		"-", "_",
		"—", "_",
		"–", "_",
		"/", "_",
		"\\", "_",
		".", "_",
		" ", "_",
		"\u3000", "_",
		"(", "",
		")", "",
		"（", "",
		"）", "",
	}
	for i := 0; i < len(repl); i += 2 {
		s = strings.ReplaceAll(s, repl[i], repl[i+1])
	}

	clean := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			clean = append(clean, r)
		}
	}
	s = reUnderscore.ReplaceAllString(string(clean), "_")

	return strings.Trim(s, "_")
}

// FileName is a filesystem-safe name for an exported chapter, ordered by
// index.
func (c Content) FileName() string {
	title := sanitize(c.Title)
	if title == "" {
		return fmt.Sprintf("%05d.txt", c.Index)
	}
	return fmt.Sprintf("%05d_%s.txt", c.Index, title)
}

// SafeName sanitizes a book title for use as a file name.
func SafeName(title string) string {
	if s := sanitize(title); s != "" {
		return s
	}
	return "book"
}
