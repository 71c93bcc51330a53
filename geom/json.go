package geom

import (
	"encoding/json"

	gg "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type emptyGeometry struct {
	Type        Type          `json:"type"`
	Coordinates []interface{} `json:"coordinates"`
}

// MarshalJSON GeoJSON 几何结构，坐标为 [x, y, z]
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.IsEmpty() {
		if _, err := ParseType(string(g.Type)); err != nil {
			return nil, err
		}
		return json.Marshal(emptyGeometry{Type: g.Type, Coordinates: []interface{}{}})
	}
	t, err := toGoGeom(g)
	if err != nil {
		return nil, err
	}
	return geojson.Marshal(t)
}

// UnmarshalJSON 接受二维或三维坐标，二维时 z 取 0
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var t gg.T
	if err := geojson.Unmarshal(data, &t); err != nil {
		return err
	}
	out, err := fromGoGeom(t)
	if err != nil {
		return err
	}
	*g = out
	return nil
}
