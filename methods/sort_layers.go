package methods

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/GrainArc/MapEditor/models"
	"github.com/mozillazg/go-pinyin"
)

var digitsRe = regexp.MustCompile(`\d+`)

func chineseToPinyin(s string) string {
	a := pinyin.NewArgs()
	a.Style = pinyin.NORMAL
	a.Fallback = func(r rune, a pinyin.Args) []string { return []string{string(r)} }
	var parts []string
	for _, py := range pinyin.Pinyin(s, a) {
		if len(py) > 0 {
			parts = append(parts, py[0])
		}
	}
	return strings.ToLower(strings.Join(parts, ""))
}

func extractNumbers(s string) []int {
	var out []int
	for _, m := range digitsRe.FindAllString(s, -1) {
		if n, err := strconv.Atoi(m); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// CompareLabels 名称比较：都含数字时先按数字，否则按拼音
func CompareLabels(a, b string) bool {
	na, nb := extractNumbers(a), extractNumbers(b)
	if len(na) > 0 && len(nb) > 0 {
		n := len(na)
		if len(nb) < n {
			n = len(nb)
		}
		for i := 0; i < n; i++ {
			if na[i] != nb[i] {
				return na[i] < nb[i]
			}
		}
	}
	pa, pb := chineseToPinyin(a), chineseToPinyin(b)
	if pa != pb {
		return pa < pb
	}
	return a < b
}

// SortLayers 图层列表：ZIndex 大的在前，相同时按名称
func SortLayers(layers []models.Layer) []models.Layer {
	out := append([]models.Layer(nil), layers...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex > out[j].ZIndex
		}
		return CompareLabels(out[i].Label, out[j].Label)
	})
	return out
}
