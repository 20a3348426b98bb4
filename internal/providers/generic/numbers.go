package generic

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reOrdinalTypo = regexp.MustCompile(`^[底都](\s*[零〇一二三四五六七八九十百千万两0-9０-９]+)`)
	reChapterTypo = regexp.MustCompile(`(第\s*[零〇一二三四五六七八九十百千万两0-9０-９]+\s*)[张璋漳仗中钟衷]`)
	reChapterNum  = regexp.MustCompile(`第\s*([0-9０-９零〇一二三四五六七八九十百千万两]+)\s*[章掌回集卷节]`)
	reBareNumber  = regexp.MustCompile(`(?:^|\D)(\d{1,6})(?:\D|$)`)
)

// NormalizeTitle collapses whitespace and repairs the common OCR-style
// misspellings of 第N章 found on mirror sites.
func NormalizeTitle(title string) string {
	t := cleanText(title)
	if t == "" {
		return t
	}
	t = reOrdinalTypo.ReplaceAllString(t, "第$1")
	t = reChapterTypo.ReplaceAllString(t, "${1}章")
	return t
}

// ChapterNumber reads the chapter number printed in a title, in Arabic,
// full-width or Chinese numerals.
func ChapterNumber(title string) (int, bool) {
	t := toHalfWidth(NormalizeTitle(title))

	if m := reChapterNum.FindStringSubmatch(t); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
		if n, ok := chineseNumber(m[1]); ok {
			return n, true
		}
	}
	if m := reBareNumber.FindStringSubmatch(t); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	return 0, false
}

func toHalfWidth(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, s)
}

var cnDigits = map[rune]int{
	'零': 0, '〇': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

var cnUnits = map[rune]int{'十': 10, '百': 100, '千': 1000}

// chineseNumber converts numerals such as 一百零五, 十二, 两千 or the
// digit-by-digit form 一〇二.
func chineseNumber(s string) (int, bool) {
	total, section, digit := 0, 0, 0
	seen := false

	for _, r := range s {
		if d, ok := cnDigits[r]; ok {
			digit = digit*10 + d
			seen = true
			continue
		}
		if u, ok := cnUnits[r]; ok {
			if digit == 0 {
				digit = 1
			}
			section += digit * u
			digit = 0
			seen = true
			continue
		}
		if r == '万' {
			section += digit
			if section == 0 {
				section = 1
			}
			total += section * 10000
			section, digit = 0, 0
			seen = true
			continue
		}
		return 0, false
	}

	n := total + section + digit
	if !seen || n == 0 {
		return 0, false
	}
	return n, true
}
