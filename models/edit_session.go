package models

// EditSession 交互会话记录，一次绘制或几何编辑对应一行
type EditSession struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	LayerID   string `gorm:"type:varchar(255);index"`
	FeatureID string `gorm:"type:varchar(255)"`
	Kind      string `gorm:"type:varchar(32)"` // drawing / modifying
	CreatedAt string `gorm:"type:varchar(255)"`
	ClosedAt  string `gorm:"type:varchar(255)"`
	Status    string `gorm:"type:varchar(50)"` // active / committed / rolledback
}

const (
	SessionActive     = "active"
	SessionCommitted  = "committed"
	SessionRolledBack = "rolledback"
)
