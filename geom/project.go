package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// 内部统一使用 EPSG:3857，KML 文档使用 EPSG:4326
const (
	SRIDMercator = 3857
	SRIDWGS84    = 4326
)

// ToLonLat 3857 -> 4326，高程不变
func ToLonLat(g Geometry) Geometry {
	return g.Map(func(c Coord) Coord {
		p := project.Mercator.ToWGS84(orb.Point{c[0], c[1]})
		return Coord{p[0], p[1], c[2]}
	})
}

// FromLonLat 4326 -> 3857，高程不变
func FromLonLat(g Geometry) Geometry {
	return g.Map(func(c Coord) Coord {
		p := project.WGS84.ToMercator(orb.Point{c[0], c[1]})
		return Coord{p[0], p[1], c[2]}
	})
}

// Hit 点击点 p 是否落在几何上：面按包含判断，线和点按距离 tol 判断
func Hit(g Geometry, p Coord, tol float64) bool {
	if g.IsEmpty() {
		return false
	}
	pt := p.point()
	if !g.Bound().Pad(tol).Contains(pt) {
		return false
	}
	o := g.ToOrb()
	switch v := o.(type) {
	case orb.Polygon:
		if planar.PolygonContains(v, pt) {
			return true
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(v, pt) {
			return true
		}
	}
	return planar.DistanceFrom(o, pt) <= tol
}

// Distance 点到几何的平面距离，面内部为 0
func Distance(g Geometry, p Coord) float64 {
	if g.IsEmpty() {
		return math.Inf(1)
	}
	pt := p.point()
	o := g.ToOrb()
	switch v := o.(type) {
	case orb.Polygon:
		if planar.PolygonContains(v, pt) {
			return 0
		}
	case orb.MultiPolygon:
		if planar.MultiPolygonContains(v, pt) {
			return 0
		}
	}
	return planar.DistanceFrom(o, pt)
}
