package services

import (
	"context"
	"log"
	"time"

	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/interaction"
	"github.com/GrainArc/MapEditor/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Recorder 编辑留痕：要素变化写 GeoRecord，交互会话写 EditSession
type Recorder struct {
	DB *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{DB: db}
}

// Migrate 创建留痕表
func (r *Recorder) Migrate() error {
	return r.DB.AutoMigrate(&models.GeoRecord{}, &models.EditSession{})
}

var jsonNull = datatypes.JSON("null")

// featureJSON 经纬度 GeoJSON Feature，没有要素时为 JSON null
func featureJSON(f *models.Feature) datatypes.JSON {
	if f == nil || f.Geometry.IsEmpty() {
		return jsonNull
	}
	gf := geojson.NewFeature(geom.ToLonLat(f.Geometry).ToOrb())
	gf.ID = string(f.ID)
	for k, v := range f.Properties {
		gf.Properties[k] = v
	}
	data, err := gf.MarshalJSON()
	if err != nil {
		log.Printf("要素 %s 转 GeoJSON 失败: %v", f.ID, err)
		return jsonNull
	}
	return datatypes.JSON(data)
}

// Record 写入失败只记日志，不影响编辑本身
func (r *Recorder) Record(ctx context.Context, layer *models.Layer, kind string, id models.FeatureID, old, cur *models.Feature) {
	if r == nil || r.DB == nil {
		return
	}
	rec := models.GeoRecord{
		LayerID:    layer.ID,
		FeatureID:  string(id),
		Backend:    string(layer.Backend),
		Type:       kind,
		Date:       time.Now().Format(timeLayout),
		OldGeojson: featureJSON(old),
		NewGeojson: featureJSON(cur),
	}
	if err := r.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		log.Printf("写入编辑记录失败 %s/%s: %v", layer.ID, id, err)
	}
}

// Records 图层的编辑记录，最新的在前
func (r *Recorder) Records(ctx context.Context, layerID string, limit int) ([]models.GeoRecord, error) {
	var out []models.GeoRecord
	q := r.DB.WithContext(ctx).Where("layer_id = ?", layerID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func sessionKind(s interaction.Snapshot) string {
	if s.Draft {
		return string(interaction.SessionDrawing)
	}
	return string(interaction.SessionModifying)
}

// SessionOpened 和 SessionClosed 接到 interaction.Hooks 上
func (r *Recorder) SessionOpened(s interaction.Snapshot) {
	if r == nil || r.DB == nil || s.ID == "" {
		return
	}
	row := models.EditSession{
		ID:        s.ID,
		LayerID:   s.LayerID,
		FeatureID: string(s.FeatureID),
		Kind:      sessionKind(s),
		CreatedAt: time.Now().Format(timeLayout),
		Status:    models.SessionActive,
	}
	if err := r.DB.Create(&row).Error; err != nil {
		log.Printf("写入会话记录失败 %s: %v", s.ID, err)
	}
}

func (r *Recorder) SessionClosed(s interaction.Snapshot, status string) {
	if r == nil || r.DB == nil || s.ID == "" {
		return
	}
	err := r.DB.Model(&models.EditSession{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
		"status":    status,
		"closed_at": time.Now().Format(timeLayout),
	}).Error
	if err != nil {
		log.Printf("更新会话记录失败 %s: %v", s.ID, err)
	}
}
