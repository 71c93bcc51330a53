package kml

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

// DefaultSchemaName 文档没有 Schema 时创建的 Schema 名称
const DefaultSchemaName = "DefaultSchema"

// EnsureIDs 保证文档有 Schema 且声明 ID 字段，给缺少 ID 的 Placemark 按出现顺序从 1 开始补 ID。
// 返回补齐的个数。
func EnsureIDs(doc *etree.Document) (int, error) {
	docEl := doc.FindElement("//Document")
	if docEl == nil {
		return 0, fmt.Errorf("ensure ids: no Document element")
	}
	schema := docEl.SelectElement("Schema")
	if schema == nil {
		schema = etree.NewElement("Schema")
		schema.CreateAttr("name", DefaultSchemaName)
		schema.CreateAttr("id", DefaultSchemaName)
		docEl.InsertChildAt(0, schema)
	}
	hasID := false
	for _, f := range schema.SelectElements("SimpleField") {
		if f.SelectAttrValue("name", "") == IDField {
			hasID = true
			break
		}
	}
	if !hasID {
		f := schema.CreateElement("SimpleField")
		f.CreateAttr("name", IDField)
		f.CreateAttr("type", "string")
	}

	schemaURL := "#" + schema.SelectAttrValue("id", schema.SelectAttrValue("name", DefaultSchemaName))
	used := map[string]bool{}
	placemarks := doc.FindElements("//Placemark")
	for _, pm := range placemarks {
		if id := PlacemarkID(pm); id != "" {
			used[id] = true
		}
	}
	added := 0
	for i, pm := range placemarks {
		if PlacemarkID(pm) != "" {
			continue
		}
		id := strconv.Itoa(i + 1)
		for n := len(placemarks) + 1; used[id]; n++ {
			id = strconv.Itoa(n)
		}
		used[id] = true
		addSimpleData(schemaData(pm, schemaURL), IDField, id)
		added++
	}
	return added, nil
}

// RenameSchema 修改第一个 Schema 的 name 属性
func RenameSchema(doc *etree.Document, name string) {
	if schema := doc.FindElement("//Document/Schema"); schema != nil {
		schema.CreateAttr("name", name)
	}
}
