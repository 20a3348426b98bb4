package normalize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var siteAds = []*regexp.Regexp{
	regexp.MustCompile(`天才一秒记住本站地址[:：]?\S*`),
	regexp.MustCompile(`(?i)www\.\w+\.(?:com|cc|net)`),
}

// TestNormalize_MergesPagesInOrder verifies fragments are concatenated page by page
func TestNormalize_MergesPagesInOrder(t *testing.T) {
	pages := []string{
		"第一章 出山\n  山风吹过。\n\n少年抬头。",
		"第一章 出山（2/2）\n他笑了。",
	}

	got := Normalize(pages, "第一章 出山", nil)
	assert.Equal(t, "山风吹过。\n\n少年抬头。\n\n他笑了。", got)
}

// TestNormalize_StripsBoilerplate verifies site and continuation notices are removed
func TestNormalize_StripsBoilerplate(t *testing.T) {
	pages := []string{
		"天才一秒记住本站地址：www.biquge.cc\n正文第一段。www.biquge.cc\n本章未完，请点击下一页继续阅读",
		"-->>（继续下一页）\n正文第二段。",
	}

	got := Normalize(pages, "", siteAds)
	assert.Equal(t, "正文第一段。\n\n正文第二段。", got)
}

// TestNormalize_CollapsesWhitespace verifies odd spaces collapse and blank lines vanish
func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize([]string{"　　他说：   “走吧。”\t\n\n\n\u200b\n"}, "", nil)
	assert.Equal(t, "他说： “走吧。”", got)
}

// TestNormalize_DropsRepeatedParagraphAcrossPages verifies a boundary paragraph is kept once
func TestNormalize_DropsRepeatedParagraphAcrossPages(t *testing.T) {
	got := Normalize([]string{"甲。\n乙。", "乙。\n丙。"}, "", nil)
	assert.Equal(t, "甲。\n\n乙。\n\n丙。", got)
}

// TestNormalize_KeepsTitleLikeBodyLines verifies only a leading title line is removed
func TestNormalize_KeepsTitleLikeBodyLines(t *testing.T) {
	got := Normalize([]string{"开篇。\n第一章 出山"}, "第一章 出山", nil)
	assert.Equal(t, "开篇。\n\n第一章 出山", got)
}

// TestFingerprint_Stable verifies identical text yields identical fingerprints
func TestFingerprint_Stable(t *testing.T) {
	a := Normalize([]string{"第一章\n内容。"}, "第一章", nil)
	b := Normalize([]string{"第一章\n\n  内容。  "}, "第一章", nil)

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 64)
	assert.NotEqual(t, Fingerprint(a), Fingerprint(a+"!"))
}

// TestPrefixAndLength verifies cache key prefixes and rune counting
func TestPrefixAndLength(t *testing.T) {
	fp := Fingerprint("x")
	assert.Equal(t, fp[:PrefixLen], Prefix(fp))
	assert.Equal(t, "abc", Prefix("abc"))
	assert.Equal(t, 3, Length("第一章"))
}
