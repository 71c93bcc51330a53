package kml

import (
	"github.com/beevik/etree"
)

const Namespace = "http://www.opengis.net/kml/2.2"

// NewDocument 生成只含 Schema 和一个 Folder 的空文档
func NewDocument(name, schemaName string, fields []Field) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("kml")
	root.CreateAttr("xmlns", Namespace)
	docEl := root.CreateElement("Document")
	docEl.CreateAttr("id", "root_doc")
	schema := docEl.CreateElement("Schema")
	schema.CreateAttr("name", schemaName)
	schema.CreateAttr("id", schemaName)
	for _, f := range fields {
		sf := schema.CreateElement("SimpleField")
		sf.CreateAttr("name", f.Name)
		t := f.Type
		if t == "" {
			t = "string"
		}
		sf.CreateAttr("type", t)
		if f.DisplayName != "" && f.DisplayName != f.Name {
			sf.CreateElement("displayName").SetText(f.DisplayName)
		}
	}
	folder := docEl.CreateElement("Folder")
	folder.CreateElement("name").SetText(name)
	return doc
}

// Encode 由一组要素生成完整文档
func Encode(name, schemaName string, fields []Field, records []Record, opts PatchOptions) ([]byte, error) {
	doc := NewDocument(name, schemaName, fields)
	if opts.SchemaURL == "" {
		opts.SchemaURL = "#" + schemaName
	}
	fresh := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.Deleted {
			fresh = append(fresh, r)
		}
	}
	if _, err := Patch(doc, fresh, opts); err != nil {
		return nil, err
	}
	doc.Indent(2)
	return doc.WriteToBytes()
}

// Serialize 写出文档树，不重新缩进
func Serialize(doc *etree.Document) ([]byte, error) {
	return doc.WriteToBytes()
}
