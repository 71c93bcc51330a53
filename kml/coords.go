package kml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/GrainArc/MapEditor/geom"
)

// ParseCoordinates 解析 "lon,lat[,alt]" 元组，元组之间为任意空白
func ParseCoordinates(s string) ([]geom.Coord, error) {
	tuples := strings.Fields(s)
	out := make([]geom.Coord, 0, len(tuples))
	for _, t := range tuples {
		vals := strings.Split(t, ",")
		if len(vals) < 2 || len(vals) > 3 {
			return nil, fmt.Errorf("bad coordinate tuple %q", t)
		}
		var c geom.Coord
		for i, v := range vals {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("bad coordinate tuple %q", t)
			}
			c[i] = f
		}
		out = append(out, c)
	}
	return out, nil
}

// FormatCoordinates 高程为 0 时只写经纬度
func FormatCoordinates(cs []geom.Coord) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		s := geom.FormatFloat(c[0]) + "," + geom.FormatFloat(c[1])
		if c[2] != 0 {
			s += "," + geom.FormatFloat(c[2])
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// GeometryElement 生成 KML 几何元素，Multi 类型写成 MultiGeometry
func GeometryElement(g geom.Geometry) (*etree.Element, error) {
	if g.IsEmpty() {
		return nil, fmt.Errorf("empty %s geometry", g.Type)
	}
	if g.Type.IsMulti() {
		mg := etree.NewElement("MultiGeometry")
		for _, part := range g.Parts {
			child, err := partElement(g.Type.Single(), part)
			if err != nil {
				return nil, err
			}
			mg.AddChild(child)
		}
		return mg, nil
	}
	return partElement(g.Type, g.Parts[0])
}

func partElement(t geom.Type, part [][]geom.Coord) (*etree.Element, error) {
	switch t {
	case geom.Point:
		el := etree.NewElement("Point")
		el.CreateElement("coordinates").SetText(FormatCoordinates(part[0][:1]))
		return el, nil
	case geom.LineString:
		el := etree.NewElement("LineString")
		el.CreateElement("coordinates").SetText(FormatCoordinates(part[0]))
		return el, nil
	case geom.Polygon:
		el := etree.NewElement("Polygon")
		for i, ring := range part {
			tag := "innerBoundaryIs"
			if i == 0 {
				tag = "outerBoundaryIs"
			}
			el.CreateElement(tag).CreateElement("LinearRing").CreateElement("coordinates").SetText(FormatCoordinates(ring))
		}
		return el, nil
	}
	return nil, fmt.Errorf("unsupported geometry type %s", t)
}

var geometryTags = map[string]bool{"Point": true, "LineString": true, "Polygon": true, "MultiGeometry": true}

// geometryChild Placemark 下的几何元素
func geometryChild(pm *etree.Element) *etree.Element {
	for _, child := range pm.ChildElements() {
		if geometryTags[child.Tag] {
			return child
		}
	}
	return nil
}

// elementGeometry 复用 Placemark 的解码逻辑解析一个几何元素
func elementGeometry(el *etree.Element) (geom.Geometry, error) {
	pm := etree.NewElement("Placemark")
	pm.AddChild(el.Copy())
	doc := etree.NewDocument()
	doc.SetRoot(pm)
	data, err := doc.WriteToBytes()
	if err != nil {
		return geom.Geometry{}, err
	}
	var p Placemark
	if err := xmlUnmarshal(data, &p); err != nil {
		return geom.Geometry{}, err
	}
	return p.Geometry()
}
