package models

import (
	"fmt"

	"github.com/GrainArc/MapEditor/geom"
)

type Backend string

const (
	BackendRelational Backend = "relational"
	BackendDocument   Backend = "document"
)

// Layer 一个图层：同一几何类型、同一后端的要素集合
type Layer struct {
	ID             string    `json:"id"`
	Label          string    `json:"label"`
	GeometryType   geom.Type `json:"geometryType"`
	Backend        Backend   `json:"backend"`
	Schema         Schema    `json:"schema"`
	StyleTypeField string    `json:"styleTypeField,omitempty"`
	LabelField     string    `json:"labelField,omitempty"`
	ZIndex         int       `json:"zIndex"`
	Visible        bool      `json:"visible"`

	// 关系型图层
	Table          string `json:"table,omitempty"`
	GeometryColumn string `json:"geometryColumn,omitempty"`
	SRID           int    `json:"srid,omitempty"`

	// 文档图层
	FileURI    string `json:"fileUri,omitempty"`
	SchemaName string `json:"schemaName,omitempty"`

	Source *FeatureSource `json:"-"`
}

// IDField 要素标识所在的字段：关系型为主键列 id，文档为 SimpleData ID
func (l *Layer) IDField() string {
	if l.Backend == BackendDocument {
		return DocumentIDField
	}
	return "id"
}

func (l *Layer) GeomColumn() string {
	if l.GeometryColumn == "" {
		return "geom"
	}
	return l.GeometryColumn
}

func (l *Layer) IsDocument() bool { return l.Backend == BackendDocument }

const DocumentIDField = "ID"

// DefaultStyleType 未配置样式字段或字段为空时的样式类型
const DefaultStyleType = "default"

// DeriveFields 由属性计算要素的样式类型和标注
func (l *Layer) DeriveFields(f *Feature) {
	f.StyleType = DefaultStyleType
	if v, ok := f.Properties[l.StyleTypeField]; ok && v != nil && l.StyleTypeField != "" {
		if s := fmt.Sprint(v); s != "" {
			f.StyleType = s
		}
	}
	f.Label = ""
	if v, ok := f.Properties[l.LabelField]; ok && v != nil && l.LabelField != "" {
		f.Label = fmt.Sprint(v)
	}
}
