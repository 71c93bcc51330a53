package models

import "gorm.io/datatypes"

// GeoRecord 要素编辑记录，每次新增/修改/删除写一行，保存修改前后的 GeoJSON
type GeoRecord struct {
	ID         int64  `gorm:"primary_key"`
	LayerID    string `gorm:"type:varchar(255);index"`
	FeatureID  string `gorm:"type:varchar(255)"`
	Backend    string `gorm:"type:varchar(32)"`
	Type       string `gorm:"type:varchar(32)"` // create / update / delete
	Date       string `gorm:"type:varchar(255)"`
	SessionID  string `gorm:"type:varchar(64)"`
	OldGeojson datatypes.JSON
	NewGeojson datatypes.JSON
}

const (
	RecordCreate = "create"
	RecordUpdate = "update"
	RecordDelete = "delete"
)
