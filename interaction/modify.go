package interaction

import (
	"sync"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/models"
)

// SessionKey 一个要素只能有一个编辑会话；新绘制的要素 FeatureID 为空
type SessionKey struct {
	LayerID   string
	FeatureID models.FeatureID
}

// ModifySession 编辑中的几何副本，original 用于取消
type ModifySession struct {
	Key      SessionKey
	Layer    *models.Layer
	Feature  *models.Feature
	Draft    bool
	original geom.Geometry
}

// Geometry 当前编辑结果
func (s *ModifySession) Geometry() geom.Geometry { return s.Feature.Geometry.Clone() }

func (s *ModifySession) Original() geom.Geometry { return s.original.Clone() }

// Changed 几何是否与开始编辑时不同
func (s *ModifySession) Changed() bool { return !s.Feature.Geometry.Equal(s.original, 0) }

func (s *ModifySession) ring(part, ring int) ([]geom.Coord, error) {
	g := s.Feature.Geometry
	if part < 0 || part >= len(g.Parts) || ring < 0 || ring >= len(g.Parts[part]) {
		return nil, models.NewValidationError("geometry", "no ring %d in part %d", ring, part)
	}
	return g.Parts[part][ring], nil
}

// vertices 去掉面闭合点后的顶点
func (s *ModifySession) vertices(part, ring int) ([]geom.Coord, error) {
	r, err := s.ring(part, ring)
	if err != nil {
		return nil, err
	}
	out := append([]geom.Coord(nil), r...)
	if s.isPolygon() && len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *ModifySession) isPolygon() bool { return s.Feature.Geometry.Type.Single() == geom.Polygon }

func (s *ModifySession) setRing(part, ring int, vs []geom.Coord) {
	if s.isPolygon() {
		vs = append(vs, vs[0])
	}
	s.Feature.Geometry.Parts[part][ring] = vs
}

// MoveVertex 移动顶点；面的首点和闭合点一起移动
func (s *ModifySession) MoveVertex(part, ring, index int, c geom.Coord) error {
	vs, err := s.vertices(part, ring)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(vs) {
		return models.NewValidationError("geometry", "vertex %d out of range", index)
	}
	vs[index] = c
	s.setRing(part, ring, vs)
	return nil
}

// InsertVertex 在 index 之前插入顶点，index 等于顶点数时追加在末尾
func (s *ModifySession) InsertVertex(part, ring, index int, c geom.Coord) error {
	if s.Feature.Geometry.Type.Single() == geom.Point {
		return models.NewValidationError("geometry", "cannot insert a vertex into a point")
	}
	vs, err := s.vertices(part, ring)
	if err != nil {
		return err
	}
	if index < 0 || index > len(vs) {
		return models.NewValidationError("geometry", "vertex %d out of range", index)
	}
	vs = append(vs[:index], append([]geom.Coord{c}, vs[index:]...)...)
	s.setRing(part, ring, vs)
	return nil
}

// RemoveVertex 删除后顶点数不能少于几何类型要求
func (s *ModifySession) RemoveVertex(part, ring, index int) error {
	vs, err := s.vertices(part, ring)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(vs) {
		return models.NewValidationError("geometry", "vertex %d out of range", index)
	}
	if need := s.Feature.Geometry.Type.MinVertices(); len(vs)-1 < need {
		return models.NewValidationError("geometry", "%s needs at least %d vertices", s.Feature.Geometry.Type, need)
	}
	vs = append(vs[:index], vs[index+1:]...)
	s.setRing(part, ring, vs)
	return nil
}

// Translate 整体平移
func (s *ModifySession) Translate(dx, dy float64) {
	s.Feature.Geometry = s.Feature.Geometry.Map(func(c geom.Coord) geom.Coord {
		return geom.Coord{c[0] + dx, c[1] + dy, c[2]}
	})
}

// Result 编辑完成后交给 FeatureService 持久化
type Result struct {
	Layer    *models.Layer
	Feature  *models.Feature
	Geometry geom.Geometry
	Draft    bool
}

// Modifier 管理几何编辑会话。不同要素可以同时编辑，同一要素只能有一个会话。
type Modifier struct {
	mu       sync.Mutex
	sessions map[SessionKey]*ModifySession
}

func NewModifier() *Modifier {
	return &Modifier{sessions: map[SessionKey]*ModifySession{}}
}

// Begin 复制要素并记录原始几何。f 不会被修改。
func (m *Modifier) Begin(layer *models.Layer, f *models.Feature, draft bool) (*ModifySession, error) {
	key := SessionKey{LayerID: layer.ID, FeatureID: f.ID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.sessions[key]; busy {
		return nil, models.InvalidState("feature %s of layer %s is already being edited", f.ID, layer.ID)
	}
	s := &ModifySession{
		Key:      key,
		Layer:    layer,
		Feature:  f.Clone(),
		Draft:    draft,
		original: f.Geometry.Clone(),
	}
	s.Feature.LayerID = layer.ID
	m.sessions[key] = s
	return s, nil
}

func (m *Modifier) Session(key SessionKey) (*ModifySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Cancel 恢复原始几何并结束会话
func (m *Modifier) Cancel(key SessionKey) (geom.Geometry, error) {
	s, err := m.take(key)
	if err != nil {
		return geom.Geometry{}, err
	}
	s.Feature.Geometry = s.original.Clone()
	return s.Original(), nil
}

// Finish 结束会话并返回编辑结果，不做持久化
func (m *Modifier) Finish(key SessionKey) (Result, error) {
	s, err := m.take(key)
	if err != nil {
		return Result{}, err
	}
	s.original = geom.Geometry{}
	return Result{Layer: s.Layer, Feature: s.Feature, Geometry: s.Feature.Geometry.Clone(), Draft: s.Draft}, nil
}

func (m *Modifier) take(key SessionKey) (*ModifySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, models.InvalidState("no edit session for feature %s of layer %s", key.FeatureID, key.LayerID)
	}
	delete(m.sessions, key)
	return s, nil
}

func (m *Modifier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
