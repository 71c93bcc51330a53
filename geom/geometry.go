// Package geom 要素几何：点/线/面及其 Multi 形式，坐标为 (x, y, z) 三元组。
package geom

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

type Type string

const (
	Point           Type = "Point"
	LineString      Type = "LineString"
	Polygon         Type = "Polygon"
	MultiPoint      Type = "MultiPoint"
	MultiLineString Type = "MultiLineString"
	MultiPolygon    Type = "MultiPolygon"
)

// ParseType 兼容图层配置中的 MULTIPOLYGON / multipolygon / Polygon 等写法
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "POINT":
		return Point, nil
	case "LINESTRING", "LINE":
		return LineString, nil
	case "POLYGON":
		return Polygon, nil
	case "MULTIPOINT":
		return MultiPoint, nil
	case "MULTILINESTRING":
		return MultiLineString, nil
	case "MULTIPOLYGON":
		return MultiPolygon, nil
	}
	return "", fmt.Errorf("unknown geometry type %q", s)
}

func (t Type) IsMulti() bool {
	return t == MultiPoint || t == MultiLineString || t == MultiPolygon
}

// Single 返回对应的单部件类型
func (t Type) Single() Type {
	switch t {
	case MultiPoint:
		return Point
	case MultiLineString:
		return LineString
	case MultiPolygon:
		return Polygon
	}
	return t
}

// Multi 返回对应的多部件类型
func (t Type) Multi() Type {
	switch t {
	case Point:
		return MultiPoint
	case LineString:
		return MultiLineString
	case Polygon:
		return MultiPolygon
	}
	return t
}

// MinVertices 单个环/线闭合前需要的最少顶点数
func (t Type) MinVertices() int {
	switch t.Single() {
	case LineString:
		return 2
	case Polygon:
		return 3
	}
	return 1
}

type Coord [3]float64

func (c Coord) X() float64 { return c[0] }
func (c Coord) Y() float64 { return c[1] }
func (c Coord) Z() float64 { return c[2] }

func (c Coord) point() orb.Point { return orb.Point{c[0], c[1]} }

// Geometry 部件 -> 环 -> 坐标。
// 点: [[[c]]]，线: [[[c...]]]，面: [[[外环...], [内环...]]]，Multi 类型有多个部件。
type Geometry struct {
	Type  Type
	Parts [][][]Coord
}

func NewPoint(c Coord) Geometry {
	return Geometry{Type: Point, Parts: [][][]Coord{{{c}}}}
}

func NewLineString(coords []Coord) Geometry {
	return Geometry{Type: LineString, Parts: [][][]Coord{{cloneRing(coords)}}}
}

// NewPolygon 第一个环为外环，环未闭合时自动闭合
func NewPolygon(rings ...[]Coord) Geometry {
	part := make([][]Coord, 0, len(rings))
	for _, r := range rings {
		part = append(part, closeRing(cloneRing(r)))
	}
	return Geometry{Type: Polygon, Parts: [][][]Coord{part}}
}

// NewMulti 将同类型的单部件几何合并为一个 Multi 几何
func NewMulti(parts ...Geometry) (Geometry, error) {
	if len(parts) == 0 {
		return Geometry{}, fmt.Errorf("multi geometry needs at least one part")
	}
	single := parts[0].Type.Single()
	out := Geometry{Type: single.Multi()}
	for _, p := range parts {
		if p.Type.Single() != single {
			return Geometry{}, fmt.Errorf("cannot mix %s and %s in one multi geometry", single, p.Type)
		}
		out.Parts = append(out.Parts, p.Clone().Parts...)
	}
	return out, nil
}

func (g Geometry) IsEmpty() bool {
	return len(g.Parts) == 0
}

func (g Geometry) Clone() Geometry {
	out := Geometry{Type: g.Type, Parts: make([][][]Coord, len(g.Parts))}
	for i, part := range g.Parts {
		out.Parts[i] = make([][]Coord, len(part))
		for j, ring := range part {
			out.Parts[i][j] = cloneRing(ring)
		}
	}
	return out
}

// Promote 单部件几何提升为 Multi，已是 Multi 的原样返回
func (g Geometry) Promote() Geometry {
	out := g.Clone()
	out.Type = g.Type.Multi()
	return out
}

// Compatible 几何类型与图层声明类型一致（允许单部件/多部件互相提升）
func (g Geometry) Compatible(layerType Type) bool {
	return g.Type.Single() == layerType.Single()
}

// Conform 按图层声明类型调整几何：单部件提升为 Multi；一个部件的 Multi 降为单部件
func (g Geometry) Conform(layerType Type) (Geometry, error) {
	if !g.Compatible(layerType) {
		return Geometry{}, fmt.Errorf("geometry %s does not match layer type %s", g.Type, layerType)
	}
	switch {
	case layerType.IsMulti():
		return g.Promote(), nil
	case g.Type.IsMulti() && len(g.Parts) == 1:
		out := g.Clone()
		out.Type = layerType
		return out, nil
	case g.Type.IsMulti():
		return Geometry{}, fmt.Errorf("%d-part %s cannot be stored in a %s layer", len(g.Parts), g.Type, layerType)
	}
	return g.Clone(), nil
}

func (g Geometry) Validate() error {
	if g.IsEmpty() {
		return fmt.Errorf("empty %s", g.Type)
	}
	if !g.Type.IsMulti() && len(g.Parts) > 1 {
		return fmt.Errorf("%s has %d parts", g.Type, len(g.Parts))
	}
	need := g.Type.MinVertices()
	for i, part := range g.Parts {
		if len(part) == 0 {
			return fmt.Errorf("part %d of %s is empty", i, g.Type)
		}
		for j, ring := range part {
			switch g.Type.Single() {
			case Point:
				if len(ring) != 1 {
					return fmt.Errorf("point part %d has %d coordinates", i, len(ring))
				}
			case LineString:
				if len(ring) < need {
					return fmt.Errorf("line part %d has %d vertices, need %d", i, len(ring), need)
				}
			case Polygon:
				// 闭合环首尾重复，至少 need+1 个坐标
				if len(ring) < need+1 {
					return fmt.Errorf("ring %d of polygon part %d has %d coordinates", j, i, len(ring))
				}
				if ring[0] != ring[len(ring)-1] {
					return fmt.Errorf("ring %d of polygon part %d is not closed", j, i)
				}
			}
		}
	}
	return nil
}

// Map 对每个坐标应用 fn，返回新几何
func (g Geometry) Map(fn func(Coord) Coord) Geometry {
	out := g.Clone()
	for _, part := range out.Parts {
		for _, ring := range part {
			for k := range ring {
				ring[k] = fn(ring[k])
			}
		}
	}
	return out
}

// VertexCount 顶点数，面的闭合点不计
func (g Geometry) VertexCount() int {
	n := 0
	for _, part := range g.Parts {
		for _, ring := range part {
			n += len(ring)
			if g.Type.Single() == Polygon && len(ring) > 1 {
				n--
			}
		}
	}
	return n
}

// Equal 坐标逐个比较，容差 tol
func (g Geometry) Equal(o Geometry, tol float64) bool {
	if g.Type != o.Type || len(g.Parts) != len(o.Parts) {
		return false
	}
	for i := range g.Parts {
		if len(g.Parts[i]) != len(o.Parts[i]) {
			return false
		}
		for j := range g.Parts[i] {
			a, b := g.Parts[i][j], o.Parts[i][j]
			if len(a) != len(b) {
				return false
			}
			for k := range a {
				for d := 0; d < 3; d++ {
					diff := a[k][d] - b[k][d]
					if diff > tol || diff < -tol {
						return false
					}
				}
			}
		}
	}
	return true
}

func (g Geometry) ToOrb() orb.Geometry {
	switch g.Type {
	case Point:
		return g.Parts[0][0][0].point()
	case MultiPoint:
		mp := make(orb.MultiPoint, 0, len(g.Parts))
		for _, part := range g.Parts {
			mp = append(mp, part[0][0].point())
		}
		return mp
	case LineString:
		return orbLine(g.Parts[0][0])
	case MultiLineString:
		ml := make(orb.MultiLineString, 0, len(g.Parts))
		for _, part := range g.Parts {
			ml = append(ml, orbLine(part[0]))
		}
		return ml
	case Polygon:
		return orbPolygon(g.Parts[0])
	case MultiPolygon:
		mp := make(orb.MultiPolygon, 0, len(g.Parts))
		for _, part := range g.Parts {
			mp = append(mp, orbPolygon(part))
		}
		return mp
	}
	return nil
}

// FromOrb 由二维 orb 几何构造，z 取 0
func FromOrb(o orb.Geometry) (Geometry, error) {
	switch v := o.(type) {
	case orb.Point:
		return NewPoint(Coord{v[0], v[1], 0}), nil
	case orb.MultiPoint:
		g := Geometry{Type: MultiPoint}
		for _, p := range v {
			g.Parts = append(g.Parts, [][]Coord{{{p[0], p[1], 0}}})
		}
		return g, nil
	case orb.LineString:
		return Geometry{Type: LineString, Parts: [][][]Coord{{fromOrbPoints(v)}}}, nil
	case orb.MultiLineString:
		g := Geometry{Type: MultiLineString}
		for _, l := range v {
			g.Parts = append(g.Parts, [][]Coord{fromOrbPoints(l)})
		}
		return g, nil
	case orb.Polygon:
		return Geometry{Type: Polygon, Parts: [][][]Coord{fromOrbPolygon(v)}}, nil
	case orb.MultiPolygon:
		g := Geometry{Type: MultiPolygon}
		for _, p := range v {
			g.Parts = append(g.Parts, fromOrbPolygon(p))
		}
		return g, nil
	}
	return Geometry{}, fmt.Errorf("unsupported orb geometry %T", o)
}

func (g Geometry) Bound() orb.Bound {
	if g.IsEmpty() {
		return orb.Bound{}
	}
	return g.ToOrb().Bound()
}

func orbLine(ring []Coord) orb.LineString {
	ls := make(orb.LineString, 0, len(ring))
	for _, c := range ring {
		ls = append(ls, c.point())
	}
	return ls
}

func orbPolygon(part [][]Coord) orb.Polygon {
	poly := make(orb.Polygon, 0, len(part))
	for _, ring := range part {
		poly = append(poly, orb.Ring(orbLine(ring)))
	}
	return poly
}

func fromOrbPoints(ps []orb.Point) []Coord {
	out := make([]Coord, 0, len(ps))
	for _, p := range ps {
		out = append(out, Coord{p[0], p[1], 0})
	}
	return out
}

func fromOrbPolygon(p orb.Polygon) [][]Coord {
	part := make([][]Coord, 0, len(p))
	for _, r := range p {
		part = append(part, closeRing(fromOrbPoints(r)))
	}
	return part
}

func cloneRing(r []Coord) []Coord {
	out := make([]Coord, len(r))
	copy(out, r)
	return out
}

func closeRing(r []Coord) []Coord {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}
