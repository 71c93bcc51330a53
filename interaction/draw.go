// Package interaction 地图交互：绘制、几何编辑、模式控制和要素查询。
package interaction

import (
	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/models"
)

type DrawState int

const (
	DrawIdle DrawState = iota
	DrawDrawing
	DrawClosed
)

func (s DrawState) String() string {
	switch s {
	case DrawDrawing:
		return "drawing"
	case DrawClosed:
		return "closed"
	}
	return "idle"
}

// Drawer 正在绘制的几何。绘制中的要素不进入图层集合，提交时才由 FeatureService 创建。
type Drawer struct {
	state    DrawState
	layer    *models.Layer
	typ      geom.Type
	vertices []geom.Coord
	closed   geom.Geometry
}

// Start 丢弃正在绘制的要素，按图层几何类型开始新的绘制
func (d *Drawer) Start(layer *models.Layer) {
	d.state = DrawDrawing
	d.layer = layer
	d.typ = layer.GeometryType.Single()
	d.vertices = nil
	d.closed = geom.Geometry{}
}

func (d *Drawer) State() DrawState { return d.state }

func (d *Drawer) Layer() *models.Layer { return d.layer }

func (d *Drawer) VertexCount() int { return len(d.vertices) }

// AddVertex 追加顶点；点图层第一个顶点即完成绘制，返回 true
func (d *Drawer) AddVertex(c geom.Coord) (bool, error) {
	if d.state != DrawDrawing {
		return false, models.InvalidState("add vertex while %s", d.state)
	}
	d.vertices = append(d.vertices, c)
	if d.typ == geom.Point {
		if _, err := d.Close(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// UndoLastVertex 没有顶点时不做任何事，返回 false
func (d *Drawer) UndoLastVertex() (bool, error) {
	if d.state != DrawDrawing {
		return false, models.InvalidState("undo while %s", d.state)
	}
	if len(d.vertices) == 0 {
		return false, nil
	}
	d.vertices = d.vertices[:len(d.vertices)-1]
	return true, nil
}

// Close 完成形状。顶点数不足时保持绘制状态并返回 ValidationError。
func (d *Drawer) Close() (geom.Geometry, error) {
	if d.state != DrawDrawing {
		return geom.Geometry{}, models.InvalidState("close shape while %s", d.state)
	}
	if need := d.typ.MinVertices(); len(d.vertices) < need {
		return geom.Geometry{}, models.NewValidationError("geometry", "%s needs %d vertices, have %d", d.typ, need, len(d.vertices))
	}
	g := d.Draft()
	if err := g.Validate(); err != nil {
		return geom.Geometry{}, models.NewValidationError("geometry", "%v", err)
	}
	d.state = DrawClosed
	d.closed = g
	return g.Clone(), nil
}

// Draft 当前顶点构成的几何，用于渲染草图
func (d *Drawer) Draft() geom.Geometry {
	if d.state == DrawClosed {
		return d.closed.Clone()
	}
	if len(d.vertices) == 0 {
		return geom.Geometry{Type: d.typ}
	}
	switch d.typ {
	case geom.Point:
		return geom.NewPoint(d.vertices[0])
	case geom.Polygon:
		return geom.NewPolygon(d.vertices)
	}
	return geom.NewLineString(d.vertices)
}

// Abort 任何状态下都可以调用
func (d *Drawer) Abort() {
	*d = Drawer{}
}
