// Package kml 读取、生成和就地修改图层的 KML 文档。
// 坐标一律为经纬度 (EPSG:4326)，投影转换由调用方负责。
package kml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/GrainArc/MapEditor/geom"
)

type Kml struct {
	XMLName  xml.Name `xml:"kml"`
	Document Document `xml:"Document"`
}

type Document struct {
	Name      string      `xml:"name"`
	Schema    []Schema    `xml:"Schema"`
	Folder    []Folder    `xml:"Folder"`
	Placemark []Placemark `xml:"Placemark"`
}

type Schema struct {
	Name        string        `xml:"name,attr"`
	ID          string        `xml:"id,attr"`
	SimpleField []SimpleField `xml:"SimpleField"`
}

type SimpleField struct {
	Type        string `xml:"type,attr"`
	Name        string `xml:"name,attr"`
	DisplayName string `xml:"displayName"`
}

type Folder struct {
	Name      string      `xml:"name"`
	Folder    []Folder    `xml:"Folder"`
	Placemark []Placemark `xml:"Placemark"`
}

type Placemark struct {
	ID            string         `xml:"id,attr"`
	Name          string         `xml:"name"`
	Description   string         `xml:"description"`
	ExtendedData  ExtendedData   `xml:"ExtendedData"`
	Point         *Point         `xml:"Point"`
	LineString    *LineString    `xml:"LineString"`
	Polygon       *Polygon       `xml:"Polygon"`
	MultiGeometry *MultiGeometry `xml:"MultiGeometry"`
}

type ExtendedData struct {
	SchemaData []SchemaData `xml:"SchemaData"`
	Data       []Data       `xml:"Data"`
}

type SchemaData struct {
	SchemaURL  string       `xml:"schemaUrl,attr"`
	SimpleData []SimpleData `xml:"SimpleData"`
}

type SimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type Point struct {
	Coordinates string `xml:"coordinates"`
}

type LineString struct {
	Coordinates string `xml:"coordinates"`
}

type Polygon struct {
	OuterBoundaryIs Boundary   `xml:"outerBoundaryIs"`
	InnerBoundaryIs []Boundary `xml:"innerBoundaryIs"`
}

type Boundary struct {
	LinearRing LinearRing `xml:"LinearRing"`
}

type LinearRing struct {
	Coordinates string `xml:"coordinates"`
}

type MultiGeometry struct {
	Point         []Point         `xml:"Point"`
	LineString    []LineString    `xml:"LineString"`
	Polygon       []Polygon       `xml:"Polygon"`
	MultiGeometry []MultiGeometry `xml:"MultiGeometry"`
}

// Field 文档 Schema 中的一个 SimpleField
type Field struct {
	Name        string
	Type        string
	DisplayName string
}

// Entry 一个 Placemark 的内容
type Entry struct {
	ID          string
	Name        string
	Description string
	Properties  map[string]string
	Geometry    geom.Geometry
}

// Parsed 解码后的文档
type Parsed struct {
	Name       string
	SchemaName string
	SchemaID   string
	Fields     []Field
	Entries    []Entry
}

// IDField 每个 Placemark 用名为 ID 的 SimpleData 做标识
const IDField = "ID"

// GeometryTypeField 同步时登记到 Schema 的几何类型字段，不属于要素属性
const GeometryTypeField = "geometryType"

// Decode 解析 KML 文本，Placemark 可以位于 Document 下或任意层级的 Folder 中
func Decode(data []byte) (*Parsed, error) {
	var k Kml
	if err := xmlUnmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("decode kml: %w", err)
	}
	out := &Parsed{Name: strings.TrimSpace(k.Document.Name)}
	if len(k.Document.Schema) > 0 {
		s := k.Document.Schema[0]
		out.SchemaName, out.SchemaID = s.Name, s.ID
		for _, f := range s.SimpleField {
			out.Fields = append(out.Fields, Field{Name: f.Name, Type: f.Type, DisplayName: strings.TrimSpace(f.DisplayName)})
		}
	}
	var walk func(pms []Placemark, folders []Folder) error
	walk = func(pms []Placemark, folders []Folder) error {
		for i := range pms {
			e, err := pms[i].entry()
			if err != nil {
				return err
			}
			out.Entries = append(out.Entries, e)
		}
		for _, f := range folders {
			if err := walk(f.Placemark, f.Folder); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(k.Document.Placemark, k.Document.Folder); err != nil {
		return nil, err
	}
	return out, nil
}

func xmlUnmarshal(data []byte, v interface{}) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}

func (p *Placemark) entry() (Entry, error) {
	e := Entry{
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		Properties:  map[string]string{},
	}
	for _, sd := range p.ExtendedData.SchemaData {
		for _, d := range sd.SimpleData {
			e.Properties[d.Name] = d.Value
		}
	}
	for _, d := range p.ExtendedData.Data {
		if _, ok := e.Properties[d.Name]; !ok {
			e.Properties[d.Name] = d.Value
		}
	}
	e.ID = strings.TrimSpace(e.Properties[IDField])
	g, err := p.Geometry()
	if err != nil {
		return Entry{}, fmt.Errorf("placemark %q: %w", e.ID, err)
	}
	e.Geometry = g
	return e, nil
}

// Geometry 没有几何元素时返回空几何
func (p *Placemark) Geometry() (geom.Geometry, error) {
	switch {
	case p.Point != nil:
		return p.Point.geometry()
	case p.LineString != nil:
		return p.LineString.geometry()
	case p.Polygon != nil:
		return p.Polygon.geometry()
	case p.MultiGeometry != nil:
		return p.MultiGeometry.geometry()
	}
	return geom.Geometry{}, nil
}

func (pt Point) geometry() (geom.Geometry, error) {
	cs, err := ParseCoordinates(pt.Coordinates)
	if err != nil {
		return geom.Geometry{}, err
	}
	if len(cs) != 1 {
		return geom.Geometry{}, fmt.Errorf("point with %d coordinates", len(cs))
	}
	return geom.NewPoint(cs[0]), nil
}

func (ls LineString) geometry() (geom.Geometry, error) {
	cs, err := ParseCoordinates(ls.Coordinates)
	if err != nil {
		return geom.Geometry{}, err
	}
	return geom.NewLineString(cs), nil
}

func (pg Polygon) geometry() (geom.Geometry, error) {
	outer, err := ParseCoordinates(pg.OuterBoundaryIs.LinearRing.Coordinates)
	if err != nil {
		return geom.Geometry{}, err
	}
	rings := [][]geom.Coord{outer}
	for _, b := range pg.InnerBoundaryIs {
		inner, err := ParseCoordinates(b.LinearRing.Coordinates)
		if err != nil {
			return geom.Geometry{}, err
		}
		rings = append(rings, inner)
	}
	return geom.NewPolygon(rings...), nil
}

// geometry 混合类型时以第一个出现的类型为准，其余部件忽略
func (mg MultiGeometry) geometry() (geom.Geometry, error) {
	var parts []geom.Geometry
	var collect func(m MultiGeometry) error
	collect = func(m MultiGeometry) error {
		for _, p := range m.Point {
			g, err := p.geometry()
			if err != nil {
				return err
			}
			parts = append(parts, g)
		}
		for _, l := range m.LineString {
			g, err := l.geometry()
			if err != nil {
				return err
			}
			parts = append(parts, g)
		}
		for _, p := range m.Polygon {
			g, err := p.geometry()
			if err != nil {
				return err
			}
			parts = append(parts, g)
		}
		for _, sub := range m.MultiGeometry {
			if err := collect(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := collect(mg); err != nil {
		return geom.Geometry{}, err
	}
	if len(parts) == 0 {
		return geom.Geometry{}, nil
	}
	first := parts[0].Type
	same := parts[:0]
	for _, p := range parts {
		if p.Type == first {
			same = append(same, p)
		}
	}
	return geom.NewMulti(same...)
}
