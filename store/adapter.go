// Package store 图层要素的持久化：关系型空间表与 KML 文档两种后端共用一套接口。
package store

import (
	"context"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/models"
)

// Adapter 要素存储。内存集合的增删由调用方负责，适配器只负责持久化。
type Adapter interface {
	Kind() models.Backend
	// Load 读取图层全部要素，用于工程加载
	Load(ctx context.Context, layer *models.Layer) ([]*models.Feature, error)
	// Create 返回持久化后的标识。文档后端只标记 IsNew，写盘推迟到 Sync。
	Create(ctx context.Context, layer *models.Layer, f *models.Feature) (models.FeatureID, error)
	// Update 只修改 patch 中给出的字段，g 为 nil 时不改几何
	Update(ctx context.Context, layer *models.Layer, id models.FeatureID, patch map[string]interface{}, g *geom.Geometry) error
	// Delete 关系型立即删除；文档后端标记 Deleted，Sync 时移除
	Delete(ctx context.Context, layer *models.Layer, id models.FeatureID) error
	Read(ctx context.Context, layer *models.Layer, id models.FeatureID) (map[string]interface{}, error)
	Query(ctx context.Context, layer *models.Layer, q Query) (*QueryResult, error)
	// Sync 只对文档后端有意义
	Sync(ctx context.Context, layer *models.Layer) error
}

// Query 分页查询条件，Limit <= 0 表示不分页
type Query struct {
	Offset  int               `json:"offset"`
	Limit   int               `json:"limit"`
	Filters map[string]Filter `json:"filters,omitempty"`
	Sort    *Sort             `json:"sort,omitempty"`
}

type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// QueryResult Total 为过滤后的总数
type QueryResult struct {
	Rows  []*models.Feature `json:"rows"`
	Total int               `json:"total"`
}

// Registry 按后端类型选择适配器
type Registry struct {
	adapters map[models.Backend]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[models.Backend]Adapter{}}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

func (r *Registry) For(layer *models.Layer) (Adapter, error) {
	a, ok := r.adapters[layer.Backend]
	if !ok {
		return nil, models.NewBackendError("select adapter", layer.ID, errUnknownBackend(layer.Backend))
	}
	return a, nil
}

type errUnknownBackend models.Backend

func (e errUnknownBackend) Error() string { return "no adapter for backend " + string(e) }
