package chapters

import (
	"fmt"
	"strconv"
	"strings"
)

// Select resolves a single index, an inclusive "a-b" range or a "1,3,5"
// list against refs. Empty selectors select everything.
func Select(all []Ref, chapter, rng, list string) ([]Ref, error) {
	switch {
	case chapter != "":
		idx, err := atoi(chapter)
		if err != nil {
			return nil, fmt.Errorf("invalid chapter %q", chapter)
		}
		r, ok := byIndex(all, idx)
		if !ok {
			return nil, fmt.Errorf("chapter %d not in manifest", idx)
		}
		return []Ref{r}, nil
	case rng != "":
		return SelectRange(all, rng)
	case list != "":
		return SelectList(all, list)
	}
	return all, nil
}

func SelectRange(all []Ref, rng string) ([]Ref, error) {
	parts := strings.Split(rng, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid range %q", rng)
	}
	start, err1 := atoi(parts[0])
	end, err2 := atoi(parts[1])
	if err1 != nil || err2 != nil || start > end {
		return nil, fmt.Errorf("invalid range %q", rng)
	}

	var out []Ref
	for _, r := range all {
		if r.Index >= start && r.Index <= end {
			out = append(out, r)
		}
	}
	return out, nil
}

// SelectList keeps the order of the list and ignores unknown indices.
func SelectList(all []Ref, list string) ([]Ref, error) {
	var out []Ref
	seen := map[int]bool{}
	for p := range strings.SplitSeq(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx, err := atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid list entry %q", p)
		}
		if seen[idx] {
			continue
		}
		if r, ok := byIndex(all, idx); ok {
			seen[idx] = true
			out = append(out, r)
		}
	}
	return out, nil
}

// Indices returns the indices of refs in order.
func Indices(refs []Ref) []int {
	out := make([]int, len(refs))
	for i, r := range refs {
		out[i] = r.Index
	}
	return out
}

func byIndex(all []Ref, idx int) (Ref, bool) {
	i := idx - Origin
	if i >= 0 && i < len(all) && all[i].Index == idx {
		return all[i], true
	}
	for _, r := range all {
		if r.Index == idx {
			return r, true
		}
	}
	return Ref{}, false
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
