package methods

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/mozillazg/go-pinyin"
)

var (
	leadingDigits = regexp.MustCompile(`^(\d+)(.*)$`)
	slugIllegal   = regexp.MustCompile(`[^\p{Han}\p{Latin}\p{N}_]`)
)

// ConvertToInitials 汉字取拼音首字母，其他字符保留，前导数字移到末尾，结果小写
func ConvertToInitials(hanzi string) string {
	hanzi = slugIllegal.ReplaceAllString(hanzi, "")
	a := pinyin.NewArgs()
	a.Style = pinyin.FirstLetter
	var b strings.Builder
	for _, r := range hanzi {
		if unicode.Is(unicode.Han, r) {
			if py := pinyin.SinglePinyin(r, a); len(py) > 0 {
				b.WriteString(py[0])
			}
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if m := leadingDigits.FindStringSubmatch(s); len(m) == 3 {
		s = m[2] + m[1]
	}
	return strings.ToLower(s)
}

// DocumentLayerID 文档图层标识：名称缩写 + 导入时间 + .kml
func DocumentLayerID(label string, at time.Time) string {
	slug := ConvertToInitials(label)
	if slug == "" {
		slug = "layer"
	}
	return slug + at.Format("20060102150405") + ".kml"
}

// UniqueLabel 名称已被占用时依次追加 _1、_2 ...
func UniqueLabel(label string, taken map[string]bool) string {
	if !taken[label] {
		return label
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", label, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
