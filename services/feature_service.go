package services

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/store"
)

// FeatureService 要素生命周期：分配标识、校验属性、调用存储、维护内存集合并发出通知。
// 后端失败时撤销内存中的乐观修改。
type FeatureService struct {
	Project  *models.ProjectState
	Adapters *store.Registry
	Notifier *Notifier
	Recorder *Recorder

	// createMu 串行化标识分配和插入；关系型图层取最大 id + 1，多进程写入时仍可能冲突
	createMu sync.Mutex
}

func NewFeatureService(project *models.ProjectState, adapters *store.Registry, notifier *Notifier, recorder *Recorder) *FeatureService {
	return &FeatureService{Project: project, Adapters: adapters, Notifier: notifier, Recorder: recorder}
}

func (s *FeatureService) resolve(layerID string) (*models.Layer, store.Adapter, error) {
	layer, err := s.Project.Layer(layerID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.Adapters.For(layer)
	if err != nil {
		return nil, nil, err
	}
	return layer, a, nil
}

func (s *FeatureService) live(layer *models.Layer, id models.FeatureID) (*models.Feature, error) {
	f, ok := layer.Source.Find(id)
	if !ok || f.Deleted {
		return nil, models.FeatureNotFound(layer.ID, id)
	}
	return f, nil
}

// nextID 关系型图层取当前最大整数 id + 1；文档图层优先使用属性中的 ID，
// 其次在全部为整数标识时递增，否则生成 uuid
func nextID(layer *models.Layer, attrs map[string]interface{}) models.FeatureID {
	if layer.IsDocument() {
		if v := methods.TextValue(attrs[models.DocumentIDField]); v != "" {
			return models.FeatureID(v)
		}
		if layer.Source.AllIntIDs() {
			return models.IntID(layer.Source.MaxIntID() + 1)
		}
		return models.FeatureID(uuid.New().String())
	}
	return models.IntID(layer.Source.MaxIntID() + 1)
}

func conform(layer *models.Layer, g geom.Geometry) (geom.Geometry, error) {
	c, err := g.Conform(layer.GeometryType)
	if err != nil {
		return geom.Geometry{}, models.NewValidationError("geometry", "%v", err)
	}
	if err := c.Validate(); err != nil {
		return geom.Geometry{}, models.NewValidationError("geometry", "%v", err)
	}
	return c, nil
}

// CreateFeature 校验通过后写入后端，成功才加入内存集合；文档图层随后同步
func (s *FeatureService) CreateFeature(ctx context.Context, layerID string, g geom.Geometry, attrs map[string]interface{}) (*models.Feature, error) {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return nil, err
	}
	props, err := methods.ValidateAttributes(layer.Schema, attrs)
	if err != nil {
		return nil, err
	}
	g, err = conform(layer, g)
	if err != nil {
		return nil, err
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	f := &models.Feature{
		ID:         nextID(layer, props),
		LayerID:    layer.ID,
		Geometry:   g,
		Properties: props,
	}
	if layer.IsDocument() {
		if _, ok := layer.Schema.Field(models.DocumentIDField); ok {
			f.Properties[models.DocumentIDField] = string(f.ID)
		}
	}
	layer.DeriveFields(f)

	id, err := a.Create(ctx, layer, f)
	if err != nil {
		return nil, err
	}
	f.ID = id
	layer.Source.Add(f)

	if layer.IsDocument() {
		if err := a.Sync(ctx, layer); err != nil {
			layer.Source.Remove(f.ID)
			return nil, err
		}
	}
	out, _ := layer.Source.Find(f.ID)
	s.Recorder.Record(ctx, layer, models.RecordCreate, f.ID, nil, out)
	s.Notifier.FeaturesChanged(layer.ID, string(f.ID))
	log.Printf("图层 %s 新增要素 %s", layer.ID, f.ID)
	return out, nil
}

// UpdateAttributes 只修改 patch 中的字段
func (s *FeatureService) UpdateAttributes(ctx context.Context, layerID string, id models.FeatureID, patch map[string]interface{}) (*models.Feature, error) {
	return s.update(ctx, layerID, id, patch, nil)
}

func (s *FeatureService) UpdateGeometry(ctx context.Context, layerID string, id models.FeatureID, g geom.Geometry) (*models.Feature, error) {
	return s.update(ctx, layerID, id, nil, &g)
}

// UpdateFeature 在一次后端写入中同时修改属性和几何，g 为 nil 时只改属性
func (s *FeatureService) UpdateFeature(ctx context.Context, layerID string, id models.FeatureID, patch map[string]interface{}, g *geom.Geometry) (*models.Feature, error) {
	return s.update(ctx, layerID, id, patch, g)
}

func (s *FeatureService) update(ctx context.Context, layerID string, id models.FeatureID, patch map[string]interface{}, g *geom.Geometry) (*models.Feature, error) {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return nil, err
	}
	old, err := s.live(layer, id)
	if err != nil {
		return nil, err
	}
	attrs, err := methods.ValidateAttributes(layer.Schema, patch)
	if err != nil {
		return nil, err
	}
	if g != nil {
		c, err := conform(layer, *g)
		if err != nil {
			return nil, err
		}
		g = &c
	}

	if layer.IsDocument() {
		// 文档适配器直接修改内存要素，随后整体同步
		err = a.Update(ctx, layer, id, attrs, g)
		if err == nil {
			err = a.Sync(ctx, layer)
		}
	} else {
		layer.Source.Update(id, func(f *models.Feature) {
			if f.Properties == nil {
				f.Properties = map[string]interface{}{}
			}
			for k, v := range attrs {
				f.Properties[k] = v
			}
			if g != nil {
				f.Geometry = g.Clone()
			}
			layer.DeriveFields(f)
		})
		err = a.Update(ctx, layer, id, attrs, g)
	}
	if err != nil {
		layer.Source.Replace(old)
		log.Printf("图层 %s 要素 %s 修改失败，已撤销: %v", layer.ID, id, err)
		return nil, err
	}

	cur, _ := layer.Source.Find(id)
	s.Recorder.Record(ctx, layer, models.RecordUpdate, id, old, cur)
	s.Notifier.FeaturesChanged(layer.ID, string(id))
	return cur, nil
}

// DeleteFeature 关系型图层删除成功后移出集合；文档图层标记删除并同步，同步成功后才移出
func (s *FeatureService) DeleteFeature(ctx context.Context, layerID string, id models.FeatureID) error {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return err
	}
	old, err := s.live(layer, id)
	if err != nil {
		return err
	}
	if err := a.Delete(ctx, layer, id); err != nil {
		return err
	}
	if layer.IsDocument() {
		if err := a.Sync(ctx, layer); err != nil {
			layer.Source.Replace(old)
			return err
		}
	} else {
		layer.Source.Remove(id)
	}
	s.Recorder.Record(ctx, layer, models.RecordDelete, id, old, nil)
	s.Notifier.FeaturesChanged(layer.ID, string(id))
	log.Printf("图层 %s 删除要素 %s", layer.ID, id)
	return nil
}

func (s *FeatureService) Read(ctx context.Context, layerID string, id models.FeatureID) (map[string]interface{}, error) {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return nil, err
	}
	return a.Read(ctx, layer, id)
}

func (s *FeatureService) Query(ctx context.Context, layerID string, q store.Query) (*store.QueryResult, error) {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return nil, err
	}
	return a.Query(ctx, layer, q)
}

// Sync 把文档图层的内存状态写回文档；关系型图层无操作
func (s *FeatureService) Sync(ctx context.Context, layerID string) error {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return err
	}
	if err := a.Sync(ctx, layer); err != nil {
		return err
	}
	s.Notifier.Publish(Event{Type: EventTableRefresh, LayerID: layer.ID})
	return nil
}

// SyncAsync 后台同步；同一图层的同步串行执行，后开始的能看到前一次的结果
func (s *FeatureService) SyncAsync(ctx context.Context, layerID string) *methods.Task[struct{}] {
	return methods.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Sync(ctx, layerID)
	})
}

// Reload 从后端重新读取图层全部要素
func (s *FeatureService) Reload(ctx context.Context, layerID string) (int, error) {
	layer, a, err := s.resolve(layerID)
	if err != nil {
		return 0, err
	}
	features, err := a.Load(ctx, layer)
	if err != nil {
		return 0, err
	}
	layer.Source.Reset(features)
	s.Notifier.FeaturesChanged(layer.ID, "")
	return len(features), nil
}
