package models

import (
	"fmt"
	"sync"
)

// ProjectState 当前工程的图层集合，由 main 构建后注入各服务，不使用包级全局变量
type ProjectState struct {
	mu     sync.RWMutex
	layers map[string]*Layer
	order  []string
	SRID   int
}

func NewProjectState(srid int, layers ...*Layer) *ProjectState {
	p := &ProjectState{layers: map[string]*Layer{}, SRID: srid}
	for _, l := range layers {
		_ = p.AddLayer(l)
	}
	return p
}

func (p *ProjectState) AddLayer(l *Layer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.layers[l.ID]; ok {
		return fmt.Errorf("layer %s already exists", l.ID)
	}
	if l.Source == nil {
		l.Source = NewFeatureSource()
	}
	p.layers[l.ID] = l
	p.order = append(p.order, l.ID)
	return nil
}

func (p *ProjectState) RemoveLayer(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.layers[id]; !ok {
		return false
	}
	delete(p.layers, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *ProjectState) Layer(id string) (*Layer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.layers[id]
	if !ok {
		return nil, fmt.Errorf("%w: layer %s", ErrNotFound, id)
	}
	return l, nil
}

// Layers 按加入顺序返回图层快照，Source 指针共享
func (p *ProjectState) Layers() []Layer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Layer, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.layers[id])
	}
	return out
}

// Labels 已占用的图层名称
func (p *ProjectState) Labels() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.layers))
	for _, l := range p.layers {
		out[l.Label] = true
	}
	return out
}

func (p *ProjectState) SetVisible(id string, visible bool) error {
	return p.mutate(id, func(l *Layer) { l.Visible = visible })
}

func (p *ProjectState) SetZIndex(id string, z int) error {
	return p.mutate(id, func(l *Layer) { l.ZIndex = z })
}

func (p *ProjectState) mutate(id string, fn func(l *Layer)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.layers[id]
	if !ok {
		return fmt.Errorf("%w: layer %s", ErrNotFound, id)
	}
	fn(l)
	return nil
}
