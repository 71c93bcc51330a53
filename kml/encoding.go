package kml

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

var declEncodingRe = regexp.MustCompile(`(?i)^\s*<\?xml[^>]*encoding\s*=\s*["']([^"']+)["']`)

// ToUTF8 未声明编码（或声明为 UTF-8）却不是合法 UTF-8 的文档，按探测到的编码转成 UTF-8。
// 声明了其他编码的文档原样返回，由解析器按声明解码。
func ToUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	if m := declEncodingRe.FindSubmatch(data); m != nil {
		if label := strings.ToLower(string(m[1])); label != "utf-8" && label != "utf8" {
			return data
		}
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return data
	}
	enc, _ := charset.Lookup(result.Charset)
	if enc == nil {
		// chardet 报告 GB-18030，标签表里是 gb18030
		enc, _ = charset.Lookup(strings.ReplaceAll(result.Charset, "-", ""))
	}
	if enc == nil {
		return data
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(out) {
		return data
	}
	return bytes.TrimPrefix(out, []byte("\xef\xbb\xbf"))
}
