package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
)

// Filter 单个字段的过滤条件，三种写法只用一种：
// Value 标量（STRING 模糊匹配，其余类型精确匹配），Range 闭区间（仅 NUMBER），In 取值集合（ENUM 多选）。
type Filter struct {
	Value interface{}   `json:"value,omitempty"`
	Range *[2]float64   `json:"range,omitempty"`
	In    []interface{} `json:"in,omitempty"`
}

// UnmarshalJSON 也接受简写：标量、[lo, hi] 数组
func (f *Filter) UnmarshalJSON(data []byte) error {
	var obj struct {
		Value interface{}   `json:"value"`
		Range *[2]float64   `json:"range"`
		In    []interface{} `json:"in"`
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*f = Filter{Value: obj.Value, Range: obj.Range, In: obj.In}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var r [2]float64
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("filter range: %w", err)
		}
		*f = Filter{Range: &r}
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Filter{Value: v}
	return nil
}

type filterKind int

const (
	filterLike filterKind = iota
	filterEqual
	filterRange
	filterIn
)

// condition 校验后的过滤条件，值已转成存储原始值
type condition struct {
	entry models.AttributeEntry
	kind  filterKind
	value interface{}
	lo    float64
	hi    float64
	set   []interface{}
}

// compileFilters 按字段名排序，保证生成的语句稳定
func compileFilters(schema models.Schema, filters map[string]Filter) ([]condition, error) {
	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]condition, 0, len(names))
	for _, name := range names {
		f := filters[name]
		entry, ok := schema.Field(name)
		if !ok {
			return nil, models.NewValidationError(name, "unknown filter field")
		}
		switch {
		case f.Range != nil:
			if entry.Type != models.FieldNumber {
				return nil, models.NewValidationError(name, "range filter requires a NUMBER field")
			}
			lo, hi := f.Range[0], f.Range[1]
			if lo > hi {
				lo, hi = hi, lo
			}
			out = append(out, condition{entry: entry, kind: filterRange, lo: lo, hi: hi})
		case f.In != nil:
			c := condition{entry: entry, kind: filterIn}
			for _, v := range f.In {
				p, err := methods.ToStoragePrimitive(entry, v)
				if err != nil {
					return nil, err
				}
				if p != nil {
					c.set = append(c.set, p)
				}
			}
			if len(c.set) == 0 {
				continue
			}
			out = append(out, c)
		default:
			p, err := methods.ToStoragePrimitive(entry, f.Value)
			if err != nil {
				return nil, err
			}
			if p == nil {
				continue
			}
			kind := filterEqual
			if entry.Type == models.FieldString {
				kind = filterLike
			}
			out = append(out, condition{entry: entry, kind: kind, value: p})
		}
	}
	return out, nil
}

func checkSort(schema models.Schema, s *Sort, idField string) error {
	if s == nil || s.Field == "" || s.Field == idField {
		return nil
	}
	if _, ok := schema.Field(s.Field); !ok {
		return models.NewValidationError(s.Field, "unknown sort field")
	}
	return nil
}

// match 内存过滤，语义与 SQL 一致：模糊匹配不区分大小写
func (c condition) match(props map[string]interface{}) bool {
	raw, ok := props[c.entry.Name]
	if !ok || raw == nil {
		return false
	}
	switch c.kind {
	case filterLike:
		return strings.Contains(strings.ToLower(methods.TextValue(raw)), strings.ToLower(methods.TextValue(c.value)))
	case filterRange:
		v, err := methods.ToStoragePrimitive(c.entry, raw)
		if err != nil || v == nil {
			return false
		}
		n := toFloat(v)
		return n >= c.lo && n <= c.hi
	case filterIn:
		for _, want := range c.set {
			if equalValue(c.entry, raw, want) {
				return true
			}
		}
		return false
	}
	return equalValue(c.entry, raw, c.value)
}

func equalValue(entry models.AttributeEntry, raw, want interface{}) bool {
	v, err := methods.ToStoragePrimitive(entry, raw)
	if err != nil || v == nil {
		return false
	}
	switch entry.Type {
	case models.FieldNumber, models.FieldDouble:
		return toFloat(v) == toFloat(want)
	}
	return methods.TextValue(v) == methods.TextValue(want)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// compareValues 排序比较，数值字段按数值，空值排在最前
func compareValues(entry models.AttributeEntry, a, b interface{}) int {
	av, _ := methods.ToStoragePrimitive(entry, a)
	bv, _ := methods.ToStoragePrimitive(entry, b)
	switch {
	case av == nil && bv == nil:
		return 0
	case av == nil:
		return -1
	case bv == nil:
		return 1
	}
	if entry.Type == models.FieldNumber || entry.Type == models.FieldDouble {
		x, y := toFloat(av), toFloat(bv)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(methods.TextValue(av), methods.TextValue(bv))
}

// queryMemory 在内存要素上执行查询，排序相同时保持插入顺序
func queryMemory(layer *models.Layer, features []*models.Feature, q Query) (*QueryResult, error) {
	conds, err := compileFilters(layer.Schema, q.Filters)
	if err != nil {
		return nil, err
	}
	if err := checkSort(layer.Schema, q.Sort, layer.IDField()); err != nil {
		return nil, err
	}
	matched := make([]*models.Feature, 0, len(features))
	for _, f := range features {
		ok := true
		for _, c := range conds {
			if !c.match(f.Properties) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, f)
		}
	}
	if q.Sort != nil && q.Sort.Field != "" {
		entry, ok := layer.Schema.Field(q.Sort.Field)
		if !ok {
			entry = models.AttributeEntry{Name: q.Sort.Field, Type: models.FieldString}
		}
		desc := q.Sort.Desc
		sort.SliceStable(matched, func(i, j int) bool {
			a, b := matched[i].Properties[entry.Name], matched[j].Properties[entry.Name]
			if entry.Name == layer.IDField() && a == nil && b == nil {
				a, b = string(matched[i].ID), string(matched[j].ID)
			}
			c := compareValues(entry, a, b)
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	return &QueryResult{Rows: paginate(matched, q.Offset, q.Limit), Total: len(matched)}, nil
}

func paginate(rows []*models.Feature, offset, limit int) []*models.Feature {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []*models.Feature{}
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
