package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/kml"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/store"
)

// Catalog 已导入文档图层的登记表，由配置文件持久化
type Catalog interface {
	Documents() []string
	AddDocument(id string) error
	RemoveDocument(id string) error
}

// clearer 可以整表清空的后端
type clearer interface {
	Clear(ctx context.Context, layer *models.Layer) error
}

// LayerService 图层导入、加载、删除、导出和显示控制
type LayerService struct {
	Project  *models.ProjectState
	Adapters *store.Registry
	IO       store.DocumentIO
	Catalog  Catalog
	Notifier *Notifier
	// Dir 导入的 KML 副本存放目录
	Dir string
	Now func() time.Time
}

func NewLayerService(project *models.ProjectState, adapters *store.Registry, io store.DocumentIO, catalog Catalog, notifier *Notifier, dir string) *LayerService {
	return &LayerService{
		Project:  project,
		Adapters: adapters,
		IO:       io,
		Catalog:  catalog,
		Notifier: notifier,
		Dir:      dir,
		Now:      time.Now,
	}
}

func (s *LayerService) layersChanged(layerID string) {
	s.Notifier.Publish(Event{Type: EventLayersChanged, LayerID: layerID})
}

// List 按 z 序和名称排序的图层
func (s *LayerService) List() []models.Layer {
	return methods.SortLayers(s.Project.Layers())
}

// detectType 取第一个几何的类型；同一基本类型同时出现单部件和多部件时用 Multi
func detectType(entries []kml.Entry) geom.Type {
	var t geom.Type
	for _, e := range entries {
		if e.Geometry.IsEmpty() {
			continue
		}
		if t == "" {
			t = e.Geometry.Type
			continue
		}
		if e.Geometry.Type != t && e.Geometry.Type.Single() == t.Single() {
			t = t.Multi()
		}
	}
	if t == "" {
		t = geom.Point
	}
	return t
}

// reservedKeys 是 Placemark 自身的元素，不登记为属性
var reservedKeys = map[string]bool{"name": true, "description": true, "styleUrl": true}

// documentLayer 由解析结果生成图层定义。Schema 来自文档，
// 第一个要素上未声明的 Data/SimpleData 键按 STRING 追加

func documentLayer(id, label, uri string, p *kml.Parsed) *models.Layer {
	l := &models.Layer{
		ID:           id,
		Label:        label,
		GeometryType: detectType(p.Entries),
		Backend:      models.BackendDocument,
		Visible:      true,
		FileURI:      uri,
		SchemaName:   p.SchemaID,
	}
	if l.SchemaName == "" {
		l.SchemaName = p.SchemaName
	}
	for _, f := range p.Fields {
		if f.Name == kml.GeometryTypeField {
			continue
		}
		entryLabel := f.DisplayName
		if entryLabel == "" {
			entryLabel = f.Name
		}
		l.Schema = append(l.Schema, models.AttributeEntry{
			Name:    f.Name,
			Label:   entryLabel,
			Type:    models.ParseFieldType(f.Type),
			Visible: f.Name != kml.IDField,
		})
	}
	if len(p.Entries) > 0 {
		var extra []string
		for k := range p.Entries[0].Properties {
			if _, ok := l.Schema.Field(k); ok || reservedKeys[k] || k == kml.GeometryTypeField {
				continue
			}
			extra = append(extra, k)
		}
		sort.Strings(extra)
		for _, k := range extra {
			l.Schema = append(l.Schema, models.AttributeEntry{
				Name:    k,
				Label:   k,
				Type:    models.FieldString,
				Visible: k != kml.IDField,
			})
		}
	}
	for _, candidate := range []string{"name", "Name", "名称"} {
		if _, ok := l.Schema.Field(candidate); ok {
			l.LabelField = candidate
			break
		}
	}
	return l
}

func (s *LayerService) load(ctx context.Context, layer *models.Layer) error {
	a, err := s.Adapters.For(layer)
	if err != nil {
		return err
	}
	features, err := a.Load(ctx, layer)
	if err != nil {
		return err
	}
	if layer.Source == nil {
		layer.Source = models.NewFeatureSource()
	}
	layer.Source.Reset(features)
	return nil
}

func readSource(path string) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".kmz":
		data, _, err := kml.ReadKMZ(path)
		return kml.ToUTF8(data), strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), err
	case ".kml":
		data, err := os.ReadFile(path)
		return kml.ToUTF8(data), strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), err
	}
	return nil, "", models.NewValidationError("file", "unsupported file type %s", filepath.Ext(path))
}

// Import 导入 KML/KMZ 文件为新的文档图层：补齐 ID，名称去重，副本写入存放目录并登记
func (s *LayerService) Import(ctx context.Context, path string) (*models.Layer, error) {
	data, base, err := readSource(path)
	if err != nil {
		return nil, err
	}
	doc, err := kml.Parse(data)
	if err != nil {
		return nil, models.NewValidationError("file", "%v", err)
	}
	added, err := kml.EnsureIDs(doc)
	if err != nil {
		return nil, models.NewValidationError("file", "%v", err)
	}
	first, err := kml.Serialize(doc)
	if err != nil {
		return nil, err
	}
	parsed, err := kml.Decode(first)
	if err != nil {
		return nil, models.NewValidationError("file", "%v", err)
	}

	label := parsed.SchemaName
	if label == "" || label == kml.DefaultSchemaName {
		label = base
	}
	label = methods.UniqueLabel(label, s.Project.Labels())
	kml.RenameSchema(doc, label)
	out, err := kml.Serialize(doc)
	if err != nil {
		return nil, err
	}
	if parsed, err = kml.Decode(out); err != nil {
		return nil, models.NewValidationError("file", "%v", err)
	}

	id := methods.DocumentLayerID(label, s.Now())
	uri := filepath.Join(s.Dir, id)
	if err := s.IO.Write(ctx, uri, out); err != nil {
		return nil, models.NewBackendError("import", id, err)
	}
	layer := documentLayer(id, label, uri, parsed)
	if err := s.load(ctx, layer); err != nil {
		_ = s.IO.Delete(ctx, uri)
		return nil, err
	}
	if err := s.Project.AddLayer(layer); err != nil {
		_ = s.IO.Delete(ctx, uri)
		return nil, err
	}
	if s.Catalog != nil {
		if err := s.Catalog.AddDocument(id); err != nil {
			log.Printf("登记图层 %s 失败: %v", id, err)
		}
	}
	log.Printf("导入 %s 为图层 %s（%s），%d 个要素，补齐 ID %d 个", path, id, label, layer.Source.Len(), added)
	s.layersChanged(id)
	return layer, nil
}

// LoadDocuments 并发加载登记表中的全部文档图层。单个图层失败不影响其他图层，返回第一个错误。
func (s *LayerService) LoadDocuments(ctx context.Context) error {
	if s.Catalog == nil {
		return nil
	}
	var g errgroup.Group
	g.SetLimit(4)
	for _, id := range s.Catalog.Documents() {
		g.Go(func() error {
			uri := filepath.Join(s.Dir, id)
			data, err := s.IO.Read(ctx, uri)
			if err != nil {
				log.Printf("读取图层 %s 失败: %v", id, err)
				return models.NewBackendError("load", id, err)
			}
			parsed, err := kml.Decode(data)
			if err != nil {
				log.Printf("解析图层 %s 失败: %v", id, err)
				return models.NewBackendError("load", id, err)
			}
			label := parsed.SchemaName
			if label == "" {
				label = strings.TrimSuffix(id, ".kml")
			}
			layer := documentLayer(id, label, uri, parsed)
			if err := s.load(ctx, layer); err != nil {
				return err
			}
			return s.Project.AddLayer(layer)
		})
	}
	err := g.Wait()
	s.layersChanged("")
	return err
}

// Delete 删除文档图层的副本、登记和内存图层。关系型图层只能清空。
func (s *LayerService) Delete(ctx context.Context, layerID string) error {
	layer, err := s.Project.Layer(layerID)
	if err != nil {
		return err
	}
	if !layer.IsDocument() {
		return models.NewValidationError("layer", "relational layer %s cannot be deleted, clear it instead", layerID)
	}
	if err := s.IO.Delete(ctx, layer.FileURI); err != nil {
		return models.NewBackendError("delete layer", layerID, err)
	}
	if s.Catalog != nil {
		if err := s.Catalog.RemoveDocument(layerID); err != nil {
			log.Printf("注销图层 %s 失败: %v", layerID, err)
		}
	}
	s.Project.RemoveLayer(layerID)
	log.Printf("删除图层 %s", layerID)
	s.layersChanged(layerID)
	return nil
}

// Clear 删除图层全部要素
func (s *LayerService) Clear(ctx context.Context, layerID string) error {
	layer, err := s.Project.Layer(layerID)
	if err != nil {
		return err
	}
	a, err := s.Adapters.For(layer)
	if err != nil {
		return err
	}
	if layer.IsDocument() {
		before := layer.Source.Features()
		for _, f := range before {
			layer.Source.Update(f.ID, func(x *models.Feature) { x.Deleted = true })
		}
		if err := a.Sync(ctx, layer); err != nil {
			layer.Source.Reset(before)
			return err
		}
	} else {
		c, ok := a.(clearer)
		if !ok {
			return models.NewBackendError("clear", layerID, fmt.Errorf("backend %s cannot clear", layer.Backend))
		}
		if err := c.Clear(ctx, layer); err != nil {
			return err
		}
		layer.Source.Reset(nil)
	}
	s.Notifier.FeaturesChanged(layerID, "")
	return nil
}

// Export 文档图层原样复制；关系型图层按当前要素生成 KML。目标扩展名为 .kmz 时打包输出。
func (s *LayerService) Export(ctx context.Context, layerID, path string) error {
	layer, err := s.Project.Layer(layerID)
	if err != nil {
		return err
	}
	var data []byte
	if layer.IsDocument() {
		if data, err = s.IO.Read(ctx, layer.FileURI); err != nil {
			return models.NewBackendError("export", layerID, err)
		}
	} else {
		fields := make([]kml.Field, 0, len(layer.Schema)+1)
		fields = append(fields, kml.Field{Name: kml.IDField, Type: "string"})
		for _, e := range layer.Schema {
			fields = append(fields, kml.Field{Name: e.Name, Type: "string", DisplayName: e.Label})
		}
		features := layer.Source.Active()
		records := make([]kml.Record, 0, len(features))
		for _, f := range features {
			records = append(records, store.KMLRecord(f))
		}
		data, err = kml.Encode(layer.Label, layer.ID, fields, records, kml.PatchOptions{
			Fields:       append([]string{kml.IDField}, layer.Schema.Names()...),
			GeometryType: layer.GeometryType,
		})
		if err != nil {
			return models.NewBackendError("export", layerID, err)
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".kmz") {
		err = kml.WriteKMZ(path, data)
	} else {
		err = s.IO.Write(ctx, path, data)
	}
	if err != nil {
		return models.NewBackendError("export", layerID, err)
	}
	log.Printf("图层 %s 已导出到 %s", layerID, path)
	return nil
}

// GeoJSON 图层当前要素的经纬度 FeatureCollection
func (s *LayerService) GeoJSON(layerID string) (*geojson.FeatureCollection, error) {
	layer, err := s.Project.Layer(layerID)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, f := range layer.Source.Active() {
		if f.Geometry.IsEmpty() {
			continue
		}
		gf := geojson.NewFeature(geom.ToLonLat(f.Geometry).ToOrb())
		gf.ID = string(f.ID)
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		gf.Properties["styleType"] = f.StyleType
		gf.Properties["label"] = f.Label
		fc.Append(gf)
	}
	return fc, nil
}

func (s *LayerService) SetVisible(layerID string, visible bool) error {
	if err := s.Project.SetVisible(layerID, visible); err != nil {
		return err
	}
	s.layersChanged(layerID)
	return nil
}

func (s *LayerService) SetZIndex(layerID string, z int) error {
	if err := s.Project.SetZIndex(layerID, z); err != nil {
		return err
	}
	s.layersChanged(layerID)
	return nil
}
