package models

import "strings"

type FieldType string

const (
	FieldString FieldType = "STRING"
	FieldNumber FieldType = "NUMBER"
	FieldDouble FieldType = "DOUBLE"
	FieldDate   FieldType = "DATE"
	FieldEnum   FieldType = "ENUM"
)

// ParseFieldType 未知类型按 STRING 处理；KML SimpleField 的 int/float 等类型也在这里映射
func ParseFieldType(s string) FieldType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "int", "uint", "short", "ushort", "integer":
		return FieldNumber
	case "double", "float", "real":
		return FieldDouble
	case "date":
		return FieldDate
	case "enum":
		return FieldEnum
	}
	return FieldString
}

// AttributeEntry 图层字段定义，Name 对应数据库列名或 KML SimpleData 名
type AttributeEntry struct {
	Name    string            `json:"name" xml:"name,attr"`
	Label   string            `json:"label" xml:"label,attr"`
	Type    FieldType         `json:"type" xml:"type,attr"`
	Visible bool              `json:"visible" xml:"visible,attr"`
	Options map[string]string `json:"options,omitempty" xml:"-"`
}

// Schema 有序字段列表
type Schema []AttributeEntry

func (s Schema) Field(name string) (AttributeEntry, bool) {
	for _, e := range s {
		if e.Name == name {
			return e, true
		}
	}
	return AttributeEntry{}, false
}

func (s Schema) Names() []string {
	out := make([]string, 0, len(s))
	for _, e := range s {
		out = append(out, e.Name)
	}
	return out
}
