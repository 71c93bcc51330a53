package kml

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/GrainArc/MapEditor/geom"
)

// Record 同步时一个要素的内存状态，几何为经纬度
type Record struct {
	ID         string
	Name       string
	Properties map[string]string
	Geometry   geom.Geometry
	IsNew      bool
	Deleted    bool
}

type PatchOptions struct {
	// Fields 新建 SimpleData 的顺序，未列出的属性按名称排在后面
	Fields       []string
	SchemaURL    string
	GeometryType geom.Type
	// Tolerance 几何比较容差（度），差异在容差内不重写坐标
	Tolerance float64
}

type PatchStats struct {
	Removed  int
	Appended int
	Updated  int
}

// Parse 读取 KML 文本为可修改的文档树，保留 CDATA
func Parse(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse kml: %w", err)
	}
	if doc.FindElement("//Document") == nil {
		return nil, fmt.Errorf("parse kml: no Document element")
	}
	normalizeDeclaration(doc)
	return doc, nil
}

var encodingDecl = regexp.MustCompile(`encoding=["'][^"']*["']`)

// normalizeDeclaration 文档树按 UTF-8 写出，声明了其他编码时改写声明
func normalizeDeclaration(doc *etree.Document) {
	for _, tok := range doc.Child {
		pi, ok := tok.(*etree.ProcInst)
		if !ok || pi.Target != "xml" {
			continue
		}
		if m := encodingDecl.FindString(pi.Inst); m != "" && !strings.EqualFold(m[10:len(m)-1], "utf-8") {
			pi.Inst = encodingDecl.ReplaceAllString(pi.Inst, `encoding="UTF-8"`)
		}
		return
	}
}

// findSimpleData Placemark 中名为 name 的 SimpleData
func findSimpleData(pm *etree.Element, name string) *etree.Element {
	for _, ext := range pm.SelectElements("ExtendedData") {
		for _, sd := range ext.SelectElements("SchemaData") {
			for _, d := range sd.SelectElements("SimpleData") {
				if d.SelectAttrValue("name", "") == name {
					return d
				}
			}
		}
	}
	return nil
}

// PlacemarkID Placemark 的 SimpleData ID，也接受 Data/value 写法
func PlacemarkID(pm *etree.Element) string {
	if sd := findSimpleData(pm, IDField); sd != nil {
		return strings.TrimSpace(sd.Text())
	}
	for _, ext := range pm.SelectElements("ExtendedData") {
		for _, d := range ext.SelectElements("Data") {
			if d.SelectAttrValue("name", "") == IDField {
				if v := d.SelectElement("value"); v != nil {
					return strings.TrimSpace(v.Text())
				}
			}
		}
	}
	return ""
}

func addSimpleData(parent *etree.Element, name, value string) {
	el := parent.CreateElement("SimpleData")
	el.CreateAttr("name", name)
	el.SetText(value)
}

// Patch 将内存要素状态写入文档树：Deleted 的删除条目，找不到条目的追加，其余就地更新。
// 只在值确实不同时改写节点，未改动的条目输出保持不变。
func Patch(doc *etree.Document, records []Record, opts PatchOptions) (PatchStats, error) {
	var stats PatchStats
	docEl := doc.FindElement("//Document")
	if docEl == nil {
		return stats, fmt.Errorf("patch kml: no Document element")
	}
	if len(records) > 0 && opts.GeometryType != "" {
		ensureGeometryTypeInSchema(docEl, opts.GeometryType)
	}

	index := map[string]*etree.Element{}
	for _, pm := range doc.FindElements("//Placemark") {
		if id := PlacemarkID(pm); id != "" {
			if _, dup := index[id]; !dup {
				index[id] = pm
			}
		}
	}

	container := docEl.SelectElement("Folder")
	if container == nil {
		container = docEl
	}

	for _, r := range records {
		pm := index[r.ID]
		if r.Deleted {
			if pm != nil {
				pm.Parent().RemoveChild(pm)
				delete(index, r.ID)
				stats.Removed++
			}
			continue
		}
		if pm == nil {
			el, err := newPlacemark(r, opts)
			if err != nil {
				return stats, fmt.Errorf("placemark %s: %w", r.ID, err)
			}
			container.AddChild(el)
			index[r.ID] = el
			stats.Appended++
			continue
		}
		changed, err := updatePlacemark(pm, r, opts)
		if err != nil {
			return stats, fmt.Errorf("placemark %s: %w", r.ID, err)
		}
		if changed {
			stats.Updated++
		}
	}
	return stats, nil
}

func orderedKeys(props map[string]string, fields []string) []string {
	seen := map[string]bool{}
	keys := make([]string, 0, len(props))
	for _, f := range fields {
		if _, ok := props[f]; ok && !seen[f] {
			keys = append(keys, f)
			seen[f] = true
		}
	}
	var rest []string
	for k := range props {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func updatePlacemark(pm *etree.Element, r Record, opts PatchOptions) (bool, error) {
	changed := false
	for _, key := range orderedKeys(r.Properties, opts.Fields) {
		value := r.Properties[key]
		if sd := findSimpleData(pm, key); sd != nil {
			if sd.Text() != value {
				sd.SetText(value)
				changed = true
			}
			continue
		}
		if value == "" {
			continue
		}
		addSimpleData(schemaData(pm, opts.SchemaURL), key, value)
		changed = true
	}

	if r.Geometry.IsEmpty() {
		return changed, nil
	}
	old := geometryChild(pm)
	if old != nil {
		current, err := elementGeometry(old)
		if err == nil && current.Equal(r.Geometry, opts.Tolerance) {
			return changed, nil
		}
	}
	el, err := GeometryElement(r.Geometry)
	if err != nil {
		return changed, err
	}
	if old != nil {
		i := old.Index()
		pm.RemoveChildAt(i)
		pm.InsertChildAt(i, el)
	} else {
		pm.AddChild(el)
	}
	return true, nil
}

// schemaData 取 Placemark 的 SchemaData，缺失时创建
func schemaData(pm *etree.Element, schemaURL string) *etree.Element {
	ext := pm.SelectElement("ExtendedData")
	if ext != nil {
		if sd := ext.SelectElement("SchemaData"); sd != nil {
			return sd
		}
	}
	if ext == nil {
		ext = pm.CreateElement("ExtendedData")
	}
	sd := ext.CreateElement("SchemaData")
	if schemaURL != "" {
		sd.CreateAttr("schemaUrl", schemaURL)
	}
	return sd
}

func newPlacemark(r Record, opts PatchOptions) (*etree.Element, error) {
	pm := etree.NewElement("Placemark")
	pm.CreateElement("name").SetText(r.Name)
	sd := schemaData(pm, opts.SchemaURL)
	for _, key := range orderedKeys(r.Properties, opts.Fields) {
		addSimpleData(sd, key, r.Properties[key])
	}
	if !r.Geometry.IsEmpty() {
		el, err := GeometryElement(r.Geometry)
		if err != nil {
			return nil, err
		}
		pm.AddChild(el)
	}
	return pm, nil
}

// ensureGeometryTypeInSchema Schema 中登记图层几何类型，已登记时不做改动
func ensureGeometryTypeInSchema(docEl *etree.Element, t geom.Type) {
	schema := docEl.SelectElement("Schema")
	if schema == nil {
		return
	}
	for _, f := range schema.SelectElements("SimpleField") {
		if f.SelectAttrValue("name", "") == GeometryTypeField {
			return
		}
	}
	f := schema.CreateElement("SimpleField")
	f.CreateAttr("name", GeometryTypeField)
	f.CreateAttr("type", "string")
	f.CreateAttr("actualType", string(t))
}
