package config

import (
	"fmt"
	"strings"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/models"
)

// LayerDef 关系型图层定义
//
//	<layer id="wells" label="井位" geometry="MultiPoint" table="wells" style="kind" labelField="name" z="2">
//	  <field name="kind" label="类型" type="ENUM"><option value="1">低</option></field>
//	</layer>
type LayerDef struct {
	ID         string     `xml:"id,attr" validate:"required"`
	Label      string     `xml:"label,attr"`
	Geometry   string     `xml:"geometry,attr" validate:"required"`
	Table      string     `xml:"table,attr"`
	GeomColumn string     `xml:"geomColumn,attr"`
	SRID       int        `xml:"srid,attr"`
	StyleField string     `xml:"style,attr"`
	LabelField string     `xml:"labelField,attr"`
	ZIndex     int        `xml:"z,attr"`
	Hidden     bool       `xml:"hidden,attr"`
	Fields     []FieldDef `xml:"field" validate:"dive"`
}

type FieldDef struct {
	Name    string      `xml:"name,attr" validate:"required"`
	Label   string      `xml:"label,attr"`
	Type    string      `xml:"type,attr"`
	Hidden  bool        `xml:"hidden,attr"`
	Options []OptionDef `xml:"option"`
}

type OptionDef struct {
	Value string `xml:"value,attr"`
	Label string `xml:",chardata"`
}

// RelationalLayers 由配置生成关系型图层，表名缺省为图层标识
func (c *Config) RelationalLayers() ([]*models.Layer, error) {
	out := make([]*models.Layer, 0, len(c.Layers))
	seen := map[string]bool{}
	for _, d := range c.Layers {
		if seen[d.ID] {
			return nil, fmt.Errorf("layer %s defined twice", d.ID)
		}
		seen[d.ID] = true
		t, err := geom.ParseType(d.Geometry)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", d.ID, err)
		}
		l := &models.Layer{
			ID:             d.ID,
			Label:          d.Label,
			GeometryType:   t,
			Backend:        models.BackendRelational,
			StyleTypeField: d.StyleField,
			LabelField:     d.LabelField,
			ZIndex:         d.ZIndex,
			Visible:        !d.Hidden,
			Table:          d.Table,
			GeometryColumn: d.GeomColumn,
			SRID:           d.SRID,
		}
		if l.Label == "" {
			l.Label = d.ID
		}
		if l.Table == "" {
			l.Table = d.ID
		}
		if l.SRID == 0 {
			l.SRID = c.SRID
		}
		for _, f := range d.Fields {
			e := models.AttributeEntry{
				Name:    f.Name,
				Label:   f.Label,
				Type:    models.ParseFieldType(f.Type),
				Visible: !f.Hidden,
			}
			if e.Label == "" {
				e.Label = f.Name
			}
			if len(f.Options) > 0 {
				e.Options = make(map[string]string, len(f.Options))
				for _, o := range f.Options {
					e.Options[o.Value] = strings.TrimSpace(o.Label)
				}
			}
			l.Schema = append(l.Schema, e)
		}
		out = append(out, l)
	}
	return out, nil
}
