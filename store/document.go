package store

import (
	"bytes"
	"context"
	"log"
	"sync"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/kml"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
)

// DefaultTolerance 经纬度比较容差，小于它的差异视为未修改
const DefaultTolerance = 1e-9

// DocumentAdapter KML 文档后端。增删改只作用于内存集合的标记，Sync 时整体写回文档。
type DocumentAdapter struct {
	IO        DocumentIO
	Tolerance float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDocumentAdapter(io DocumentIO) *DocumentAdapter {
	return &DocumentAdapter{IO: io, Tolerance: DefaultTolerance, locks: map[string]*sync.Mutex{}}
}

func (a *DocumentAdapter) Kind() models.Backend { return models.BackendDocument }

// layerLock 同一图层的 Sync 串行执行，后开始的 Sync 能看到前一次的输出
func (a *DocumentAdapter) layerLock(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.locks == nil {
		a.locks = map[string]*sync.Mutex{}
	}
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	return l
}

func (a *DocumentAdapter) Load(ctx context.Context, layer *models.Layer) ([]*models.Feature, error) {
	data, err := a.IO.Read(ctx, layer.FileURI)
	if err != nil {
		return nil, models.NewBackendError("read document", layer.ID, err)
	}
	parsed, err := kml.Decode(data)
	if err != nil {
		return nil, models.NewBackendError("decode document", layer.ID, err)
	}
	out := make([]*models.Feature, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		f := &models.Feature{
			ID:         models.FeatureID(e.ID),
			LayerID:    layer.ID,
			Properties: map[string]interface{}{},
		}
		for k, v := range e.Properties {
			if _, ok := layer.Schema.Field(k); ok || len(layer.Schema) == 0 {
				f.Properties[k] = v
			}
		}
		if !e.Geometry.IsEmpty() {
			f.Geometry = geom.FromLonLat(e.Geometry)
		}
		layer.DeriveFields(f)
		out = append(out, f)
	}
	return out, nil
}

// Create 检查标识后标记 IsNew，文档在下一次 Sync 时追加条目
func (a *DocumentAdapter) Create(ctx context.Context, layer *models.Layer, f *models.Feature) (models.FeatureID, error) {
	if f.ID == "" {
		return "", models.NewValidationError(models.DocumentIDField, "document feature needs an ID")
	}
	if _, dup := layer.Source.Find(f.ID); dup {
		return "", models.NewValidationError(models.DocumentIDField, "ID %s already exists", f.ID)
	}
	if _, err := methods.ValidateAttributes(layer.Schema, f.Properties); err != nil {
		return "", err
	}
	f.IsNew = true
	return f.ID, nil
}

// Update 把 patch 写入内存要素，持久化由 Sync 完成
func (a *DocumentAdapter) Update(ctx context.Context, layer *models.Layer, id models.FeatureID, patch map[string]interface{}, g *geom.Geometry) error {
	if v, ok := patch[models.DocumentIDField]; ok {
		if methods.TextValue(v) != string(id) {
			return models.NewValidationError(models.DocumentIDField, "ID of %s cannot be changed", id)
		}
		patch = withoutKey(patch, models.DocumentIDField)
	}
	attrs, err := methods.ValidateAttributes(layer.Schema, patch)
	if err != nil {
		return err
	}
	ok := layer.Source.Update(id, func(f *models.Feature) {
		if f.Deleted {
			return
		}
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
	if !ok {
		return models.FeatureNotFound(layer.ID, id)
	}
	return nil
}

func withoutKey(m map[string]interface{}, key string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func (a *DocumentAdapter) Delete(ctx context.Context, layer *models.Layer, id models.FeatureID) error {
	if !layer.Source.Update(id, func(f *models.Feature) { f.Deleted = true }) {
		return models.FeatureNotFound(layer.ID, id)
	}
	return nil
}

func (a *DocumentAdapter) Read(ctx context.Context, layer *models.Layer, id models.FeatureID) (map[string]interface{}, error) {
	f, ok := layer.Source.Find(id)
	if !ok || f.Deleted {
		return nil, models.FeatureNotFound(layer.ID, id)
	}
	return methods.Restrict(layer.Schema, f.Properties), nil
}

func (a *DocumentAdapter) Query(ctx context.Context, layer *models.Layer, q Query) (*QueryResult, error) {
	return queryMemory(layer, layer.Source.Active(), q)
}

// Sync 读取文档、按内存集合修补、原子替换。写入失败时磁盘上的文档和内存标记都保持原样。
func (a *DocumentAdapter) Sync(ctx context.Context, layer *models.Layer) error {
	lock := a.layerLock(layer.ID)
	lock.Lock()
	defer lock.Unlock()

	data, err := a.IO.Read(ctx, layer.FileURI)
	if err != nil {
		return models.NewBackendError("read document", layer.ID, err)
	}
	doc, err := kml.Parse(data)
	if err != nil {
		return models.NewBackendError("parse document", layer.ID, err)
	}

	snapshot := layer.Source.Features()
	records := make([]kml.Record, 0, len(snapshot))
	var removed, persisted []models.FeatureID
	for _, f := range snapshot {
		records = append(records, KMLRecord(f))
		if f.Deleted {
			removed = append(removed, f.ID)
		} else if f.IsNew {
			persisted = append(persisted, f.ID)
		}
	}
	schemaURL := ""
	if layer.SchemaName != "" {
		schemaURL = "#" + layer.SchemaName
	}
	tol := a.Tolerance
	if tol == 0 {
		tol = DefaultTolerance
	}
	stats, err := kml.Patch(doc, records, kml.PatchOptions{
		Fields:       layer.Schema.Names(),
		SchemaURL:    schemaURL,
		GeometryType: layer.GeometryType,
		Tolerance:    tol,
	})
	if err != nil {
		return models.NewBackendError("patch document", layer.ID, err)
	}
	out, err := kml.Serialize(doc)
	if err != nil {
		return models.NewBackendError("serialize document", layer.ID, err)
	}
	if !bytes.Equal(out, data) {
		if err := a.IO.Write(ctx, layer.FileURI, out); err != nil {
			log.Printf("同步 %s 写入失败: %v", layer.ID, err)
			return models.NewBackendError("write document", layer.ID, err)
		}
	}
	layer.Source.Settle(removed, persisted)
	if stats.Removed+stats.Appended+stats.Updated > 0 {
		log.Printf("同步 %s: 更新 %d, 新增 %d, 删除 %d", layer.ID, stats.Updated, stats.Appended, stats.Removed)
	}
	return nil
}

// KMLRecord 要素的文档记录，几何转为经纬度，ID 属性总是写入
func KMLRecord(f *models.Feature) kml.Record {
	r := kml.Record{
		ID:         string(f.ID),
		Name:       f.Label,
		Properties: make(map[string]string, len(f.Properties)+1),
		IsNew:      f.IsNew,
		Deleted:    f.Deleted,
	}
	for k, v := range f.Properties {
		r.Properties[k] = methods.TextValue(v)
	}
	r.Properties[models.DocumentIDField] = string(f.ID)
	if !f.Geometry.IsEmpty() {
		r.Geometry = geom.ToLonLat(f.Geometry)
	}
	return r
}
