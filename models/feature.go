package models

import (
	"strconv"
	"sync"

	"github.com/GrainArc/MapEditor/geom"
)

// FeatureID 关系型图层为整数主键，文档图层为 SimpleData ID 的原文
type FeatureID string

func IntID(n int64) FeatureID { return FeatureID(strconv.FormatInt(n, 10)) }

func (id FeatureID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func (id FeatureID) String() string { return string(id) }

type Feature struct {
	ID         FeatureID              `json:"id"`
	LayerID    string                 `json:"layerId"`
	Geometry   geom.Geometry          `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	StyleType  string                 `json:"styleType,omitempty"`
	Label      string                 `json:"label,omitempty"`
	IsNew      bool                   `json:"isNew,omitempty"`
	Deleted    bool                   `json:"deleted,omitempty"`
}

func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	out := *f
	out.Geometry = f.Geometry.Clone()
	out.Properties = make(map[string]interface{}, len(f.Properties))
	for k, v := range f.Properties {
		out.Properties[k] = v
	}
	return &out
}

// FeatureSource 图层的内存要素集合，渲染以它为准。
// 按插入顺序保存；对外只交出副本，修改走 Update。
type FeatureSource struct {
	mu       sync.RWMutex
	features []*Feature
}

func NewFeatureSource(features ...*Feature) *FeatureSource {
	s := &FeatureSource{}
	for _, f := range features {
		s.features = append(s.features, f.Clone())
	}
	return s
}

func (s *FeatureSource) Add(f *Feature) {
	s.mu.Lock()
	s.features = append(s.features, f.Clone())
	s.mu.Unlock()
}

func (s *FeatureSource) indexOf(id FeatureID) int {
	for i, f := range s.features {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// Find 返回副本；已标记删除的要素同样可以找到
func (s *FeatureSource) Find(id FeatureID) (*Feature, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.features[i].Clone(), true
	}
	return nil, false
}

// Update 在锁内修改要素，要素不存在时返回 false
func (s *FeatureSource) Update(id FeatureID, fn func(f *Feature)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	fn(s.features[i])
	return true
}

// Replace 整体替换要素，用于失败回滚
func (s *FeatureSource) Replace(f *Feature) bool {
	return s.Update(f.ID, func(cur *Feature) { *cur = *f.Clone() })
}

func (s *FeatureSource) Remove(id FeatureID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.features = append(s.features[:i], s.features[i+1:]...)
	return true
}

// Settle 文档同步成功后调用：移除 removed 中仍标记删除的要素，清除 persisted 的 IsNew。
// 只处理同步快照里的要素，快照之后的修改留给下一次同步。
func (s *FeatureSource) Settle(removed, persisted []FeatureID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[FeatureID]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}
	done := make(map[FeatureID]bool, len(persisted))
	for _, id := range persisted {
		done[id] = true
	}
	kept := s.features[:0]
	for _, f := range s.features {
		if drop[f.ID] && f.Deleted {
			continue
		}
		if done[f.ID] {
			f.IsNew = false
		}
		kept = append(kept, f)
	}
	for i := len(kept); i < len(s.features); i++ {
		s.features[i] = nil
	}
	s.features = kept
}

func (s *FeatureSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features)
}

// Features 全部要素副本，包括待删除的
func (s *FeatureSource) Features() []*Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Feature, 0, len(s.features))
	for _, f := range s.features {
		out = append(out, f.Clone())
	}
	return out
}

// Active 未标记删除的要素副本
func (s *FeatureSource) Active() []*Feature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Feature, 0, len(s.features))
	for _, f := range s.features {
		if !f.Deleted {
			out = append(out, f.Clone())
		}
	}
	return out
}

// MaxIntID 集合中最大的整数标识，没有整数标识时返回 0
func (s *FeatureSource) MaxIntID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var top int64
	for _, f := range s.features {
		if n, ok := f.ID.Int(); ok && n > top {
			top = n
		}
	}
	return top
}

// AllIntIDs 所有标识是否都是整数
func (s *FeatureSource) AllIntIDs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.features {
		if _, ok := f.ID.Int(); !ok {
			return false
		}
	}
	return true
}

// Reset 重新加载后整体替换
func (s *FeatureSource) Reset(features []*Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features = s.features[:0]
	for _, f := range features {
		s.features = append(s.features, f.Clone())
	}
}
