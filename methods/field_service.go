package methods

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/GrainArc/MapEditor/models"
)

// NoValue 空值的显示标记，与 "0"、"false" 区分
const NoValue = "—"

// 可解析的日期写法，第一个为存储格式
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"2006/1/2",
	"2006.01.02",
	"20060102",
}

func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

func toText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return v.Format(dateLayouts[0])
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

func parseNumber(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case []byte:
		return parseNumber(string(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%q is not a finite number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%T is not a number", value)
}

// ParseDate 按 dateLayouts 依次尝试
func ParseDate(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return ParseDate(string(v))
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a date", v)
	}
	return time.Time{}, fmt.Errorf("%T is not a date", value)
}

// Validate 校验单个字段值，空值总是合法
func Validate(entry models.AttributeEntry, value interface{}) error {
	if isEmpty(value) {
		return nil
	}
	switch entry.Type {
	case models.FieldNumber, models.FieldDouble:
		if _, err := parseNumber(value); err != nil {
			return models.NewValidationError(entry.Name, "%v", err)
		}
	case models.FieldDate:
		if _, err := ParseDate(value); err != nil {
			return models.NewValidationError(entry.Name, "%v", err)
		}
	case models.FieldString, models.FieldEnum:
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			return models.NewValidationError(entry.Name, "%T is not a scalar", value)
		}
	}
	return nil
}

// ToStoragePrimitive 表单值转为后端原始值：DATE 为 ISO 日期字符串，NUMBER 为 int64（有小数时 float64），
// DOUBLE 为 float64，其余为字符串。空值返回 nil。
func ToStoragePrimitive(entry models.AttributeEntry, value interface{}) (interface{}, error) {
	if err := Validate(entry, value); err != nil {
		return nil, err
	}
	if isEmpty(value) {
		return nil, nil
	}
	switch entry.Type {
	case models.FieldNumber:
		f, _ := parseNumber(value)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case models.FieldDouble:
		f, _ := parseNumber(value)
		return f, nil
	case models.FieldDate:
		t, _ := ParseDate(value)
		return t.Format(dateLayouts[0]), nil
	}
	return toText(value), nil
}

// Format 存储值转显示值
func Format(entry models.AttributeEntry, value interface{}, loc Locale) string {
	if isEmpty(value) {
		return NoValue
	}
	switch entry.Type {
	case models.FieldEnum:
		raw := toText(value)
		if label, ok := entry.Options[raw]; ok {
			return label
		}
		return raw
	case models.FieldDate:
		t, err := ParseDate(value)
		if err != nil {
			return toText(value)
		}
		return loc.FormatDate(t)
	case models.FieldNumber, models.FieldDouble:
		f, err := parseNumber(value)
		if err != nil {
			return toText(value)
		}
		return loc.FormatNumber(f)
	}
	return toText(value)
}

// ValidateAttributes 按图层字段校验并规范化整组属性。未声明的字段直接拒绝。
func ValidateAttributes(schema models.Schema, attrs map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(attrs))
	for key, value := range attrs {
		entry, ok := schema.Field(key)
		if !ok {
			return nil, models.NewValidationError(key, "unknown attribute")
		}
		v, err := ToStoragePrimitive(entry, value)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Restrict 读取时丢弃未声明的字段，声明了但缺失的字段不补
func Restrict(schema models.Schema, props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for _, e := range schema {
		if v, ok := props[e.Name]; ok {
			out[e.Name] = v
		}
	}
	return out
}

// QuoteLiteral 单引号字符串字面量，内部单引号加倍。只用于日志中展示语句，执行一律绑定参数。
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// TextValue 属性值的纯文本形式，写入 KML SimpleData 使用
func TextValue(value interface{}) string {
	if value == nil {
		return ""
	}
	return toText(value)
}
