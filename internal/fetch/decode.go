package fetch

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// decodeBody converts raw page bytes to UTF-8. The declared charset wins
// (BOM, Content-Type, then <meta>); GBK and GB2312 are read as GB18030,
// which is a superset. Bodies that are not valid UTF-8 and carry no usable
// declaration are assumed to be GB18030, the common case for these sites.
func decodeBody(raw []byte, contentType string) (string, string) {
	enc, name, certain := charset.DetermineEncoding(raw, contentType)

	switch {
	case name == "gbk" || name == "gb2312" || name == "gb18030":
		enc, name = simplifiedchinese.GB18030, "gb18030"
	case name == "utf-8" && !utf8.Valid(raw):
		enc, name = simplifiedchinese.GB18030, "gb18030"
	case !certain && name == "windows-1252" && !utf8.Valid(raw):
		enc, name = simplifiedchinese.GB18030, "gb18030"
	}

	text := string(raw)
	if name != "utf-8" {
		if out, err := decodeWith(enc, raw); err == nil {
			text = out
		}
	}

	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text, name
}

func decodeWith(enc encoding.Encoding, raw []byte) (string, error) {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
