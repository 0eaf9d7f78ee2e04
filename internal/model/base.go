package model

import (
	"time"

	"gorm.io/gorm"

	"github.com/wolftax/oferta_tools/pkg/util"
)

type BaseModel struct {
	ID        uint64    `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == 0 {
		m.ID = util.NewID()
	}
	return nil
}

// Models collects every persistent model for migration at startup.
var Models []interface{}

// AutoMigrate creates or updates the schema for all registered models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}
