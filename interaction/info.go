package interaction

import (
	"sort"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/models"
)

type InfoKind string

const (
	InfoNone     InfoKind = "none"
	InfoSingle   InfoKind = "single"
	InfoMultiple InfoKind = "multiple"
)

// Hit 一次点击命中的要素
type Hit struct {
	LayerID    string                 `json:"layerId"`
	LayerLabel string                 `json:"layerLabel"`
	FeatureID  models.FeatureID       `json:"featureId"`
	Label      string                 `json:"label"`
	Distance   float64                `json:"distance"`
	Properties map[string]interface{} `json:"properties"`
}

// InfoResult 单个命中打开要素详情，多个命中打开选择列表
type InfoResult struct {
	Kind InfoKind `json:"kind"`
	Hits []Hit    `json:"hits"`
}

// inspect 在所有可见图层上做点击查询，结果按图层 z 序、距离排序
func inspect(layers []models.Layer, at geom.Coord, tol float64) InfoResult {
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].ZIndex > layers[j].ZIndex })
	var hits []Hit
	for _, l := range layers {
		if !l.Visible || l.Source == nil {
			continue
		}
		var found []Hit
		for _, f := range l.Source.Active() {
			if !geom.Hit(f.Geometry, at, tol) {
				continue
			}
			found = append(found, Hit{
				LayerID:    l.ID,
				LayerLabel: l.Label,
				FeatureID:  f.ID,
				Label:      f.Label,
				Distance:   geom.Distance(f.Geometry, at),
				Properties: f.Properties,
			})
		}
		sort.SliceStable(found, func(i, j int) bool { return found[i].Distance < found[j].Distance })
		hits = append(hits, found...)
	}
	res := InfoResult{Kind: InfoNone, Hits: hits}
	switch {
	case len(hits) == 1:
		res.Kind = InfoSingle
	case len(hits) > 1:
		res.Kind = InfoMultiple
	}
	return res
}
