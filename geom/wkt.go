package geom

import (
	"fmt"
	"strconv"
	"strings"

	gg "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// MarshalWKT 输出带 Z 维的 WKT，例如 MULTIPOLYGON Z (((x y z, ...)))
func MarshalWKT(g Geometry) string {
	empty := strings.ToUpper(string(g.Type)) + " Z EMPTY"
	if g.IsEmpty() {
		return empty
	}
	t, err := toGoGeom(g)
	if err != nil {
		return empty
	}
	s, err := wkt.Marshal(t)
	if err != nil {
		return empty
	}
	return s
}

// EWKT 带 SRID 前缀，供不支持空间函数的库以文本保存
func EWKT(g Geometry, srid int) string {
	return fmt.Sprintf("SRID=%d;%s", srid, MarshalWKT(g))
}

func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseWKT 解析 WKT/EWKT，支持 Z、M、ZM 维度标记；缺少 z 时取 0
func ParseWKT(s string) (Geometry, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.HasPrefix(s, "SRID=") {
		idx := strings.IndexByte(s, ';')
		if idx < 0 {
			return Geometry{}, fmt.Errorf("wkt: malformed SRID prefix")
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	open := strings.IndexByte(s, '(')
	head := s
	if open >= 0 {
		head = s[:open]
	}
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return Geometry{}, fmt.Errorf("wkt: missing geometry tag")
	}
	typ, err := ParseType(fields[0])
	if err != nil {
		return Geometry{}, fmt.Errorf("wkt: %w", err)
	}
	if open < 0 && fields[len(fields)-1] == "EMPTY" {
		return Geometry{Type: typ}, nil
	}
	if typ == MultiPoint && open >= 0 {
		s = bracketPoints(s, open)
	}
	t, err := wkt.Unmarshal(s)
	if err != nil {
		return Geometry{}, fmt.Errorf("wkt: %w", err)
	}
	return fromGoGeom(t)
}

// bracketPoints 把 MULTIPOINT (1 2, 3 4) 改写为 MULTIPOINT ((1 2), (3 4))
func bracketPoints(s string, open int) string {
	body := strings.TrimSpace(s[open+1:])
	if strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return s
	}
	members := strings.Split(strings.TrimSuffix(body, ")"), ",")
	for i, m := range members {
		members[i] = "(" + strings.TrimSpace(m) + ")"
	}
	return s[:open] + "(" + strings.Join(members, ", ") + ")"
}

func goCoord(c Coord) gg.Coord {
	return gg.Coord{c[0], c[1], c[2]}
}

func goRing(ring []Coord) []gg.Coord {
	out := make([]gg.Coord, len(ring))
	for i, c := range ring {
		out[i] = goCoord(c)
	}
	return out
}

func goRings(rings [][]Coord) [][]gg.Coord {
	out := make([][]gg.Coord, len(rings))
	for i, r := range rings {
		out[i] = goRing(r)
	}
	return out
}

// toGoGeom 转为 XYZ 布局的 go-geom 几何
func toGoGeom(g Geometry) (gg.T, error) {
	switch g.Type {
	case Point:
		return gg.NewPoint(gg.XYZ).SetCoords(goCoord(g.Parts[0][0][0]))
	case LineString:
		return gg.NewLineString(gg.XYZ).SetCoords(goRing(g.Parts[0][0]))
	case Polygon:
		return gg.NewPolygon(gg.XYZ).SetCoords(goRings(g.Parts[0]))
	case MultiPoint:
		pts := make([]gg.Coord, 0, len(g.Parts))
		for _, p := range g.Parts {
			pts = append(pts, goCoord(p[0][0]))
		}
		return gg.NewMultiPoint(gg.XYZ).SetCoords(pts)
	case MultiLineString:
		lines := make([][]gg.Coord, 0, len(g.Parts))
		for _, p := range g.Parts {
			lines = append(lines, goRing(p[0]))
		}
		return gg.NewMultiLineString(gg.XYZ).SetCoords(lines)
	case MultiPolygon:
		polys := make([][][]gg.Coord, 0, len(g.Parts))
		for _, p := range g.Parts {
			polys = append(polys, goRings(p))
		}
		return gg.NewMultiPolygon(gg.XYZ).SetCoords(polys)
	}
	return nil, fmt.Errorf("geom: unsupported type %q", g.Type)
}

type layoutCoords struct {
	z int
}

// coord 没有 Z 维（XY、XYM）时 z 取 0
func (l layoutCoords) coord(c gg.Coord) (Coord, error) {
	if len(c) < 2 {
		return Coord{}, fmt.Errorf("geom: position with %d values", len(c))
	}
	out := Coord{c[0], c[1], 0}
	if l.z >= 0 && l.z < len(c) {
		out[2] = c[l.z]
	}
	return out, nil
}

func (l layoutCoords) ring(cs []gg.Coord) ([]Coord, error) {
	out := make([]Coord, 0, len(cs))
	for _, c := range cs {
		v, err := l.coord(c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (l layoutCoords) rings(rs [][]gg.Coord) ([][]Coord, error) {
	out := make([][]Coord, 0, len(rs))
	for _, r := range rs {
		v, err := l.ring(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func fromGoGeom(t gg.T) (Geometry, error) {
	l := layoutCoords{z: t.Layout().ZIndex()}
	empty := len(t.FlatCoords()) == 0
	switch v := t.(type) {
	case *gg.Point:
		if empty {
			return Geometry{Type: Point}, nil
		}
		c, err := l.coord(v.Coords())
		if err != nil {
			return Geometry{}, err
		}
		return NewPoint(c), nil
	case *gg.LineString:
		if empty {
			return Geometry{Type: LineString}, nil
		}
		ring, err := l.ring(v.Coords())
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Type: LineString, Parts: [][][]Coord{{ring}}}, nil
	case *gg.Polygon:
		if empty {
			return Geometry{Type: Polygon}, nil
		}
		rings, err := l.rings(v.Coords())
		if err != nil {
			return Geometry{}, err
		}
		return Geometry{Type: Polygon, Parts: [][][]Coord{rings}}, nil
	case *gg.MultiPoint:
		out := Geometry{Type: MultiPoint}
		pts, err := l.ring(v.Coords())
		if err != nil {
			return Geometry{}, err
		}
		for _, c := range pts {
			out.Parts = append(out.Parts, [][]Coord{{c}})
		}
		return out, nil
	case *gg.MultiLineString:
		out := Geometry{Type: MultiLineString}
		lines, err := l.rings(v.Coords())
		if err != nil {
			return Geometry{}, err
		}
		for _, r := range lines {
			out.Parts = append(out.Parts, [][]Coord{r})
		}
		return out, nil
	case *gg.MultiPolygon:
		out := Geometry{Type: MultiPolygon}
		for _, p := range v.Coords() {
			rings, err := l.rings(p)
			if err != nil {
				return Geometry{}, err
			}
			out.Parts = append(out.Parts, rings)
		}
		return out, nil
	}
	return Geometry{}, fmt.Errorf("geom: unsupported geometry %T", t)
}
