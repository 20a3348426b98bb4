// Package normalize turns extracted chapter fragments into stored text and
// fingerprints it.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// PrefixLen is the number of fingerprint characters used in cache keys.
const PrefixLen = 12

// Common matches continuation notices that appear on paginated chapters
// regardless of site.
var Common = []*regexp.Regexp{
	regexp.MustCompile(`本章未完[，,]?\s*请?点击下一页继续阅读[。.]?`),
	regexp.MustCompile(`[（(]?本章未完[，,]?\s*请翻页[）)]?`),
	regexp.MustCompile(`[-—>]*\s*[（(]?继续下一页[）)]?\s*[-—>]*`),
}

var reSubpage = regexp.MustCompile(`^[（(]\s*(?:第\s*)?\d+\s*(?:/\s*\d+|页)\s*[）)]$`)

// Normalize merges page fragments in order, drops boilerplate and repeated
// title lines, collapses whitespace and returns paragraphs separated by a
// blank line.
func Normalize(pages []string, title string, boilerplate []*regexp.Regexp) string {
	patterns := append(append([]*regexp.Regexp(nil), Common...), boilerplate...)

	var paras []string
	for _, page := range pages {
		first := true
		for _, raw := range strings.Split(page, "\n") {
			line := cleanLine(raw, patterns)
			if line == "" {
				continue
			}
			if first && isTitleLine(line, title) {
				continue
			}
			if first && len(paras) > 0 && paras[len(paras)-1] == line {
				first = false
				continue
			}
			first = false
			paras = append(paras, line)
		}
	}

	return strings.Join(paras, "\n\n")
}

func cleanLine(line string, patterns []*regexp.Regexp) string {
	line = strings.Map(func(r rune) rune {
		switch r {
		case '\u00a0', '\u3000', '\t':
			return ' '
		case '\u200b', '\ufeff':
			return -1
		}
		return r
	}, line)

	for _, p := range patterns {
		line = p.ReplaceAllString(line, "")
	}

	return strings.Join(strings.Fields(line), " ")
}

func isTitleLine(line, title string) bool {
	t := compact(title)
	if t == "" {
		return false
	}
	l := compact(line)
	if l == t {
		return true
	}
	if rest, ok := strings.CutPrefix(l, t); ok {
		return reSubpage.MatchString(rest)
	}
	return false
}

func compact(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u3000", " ")), "")
}

// Fingerprint is the hex SHA-256 of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Prefix shortens a fingerprint for use in cache keys.
func Prefix(fp string) string {
	if len(fp) <= PrefixLen {
		return fp
	}
	return fp[:PrefixLen]
}

// Length counts runes, which is what minimum body lengths are measured in.
func Length(text string) int {
	return len([]rune(text))
}
