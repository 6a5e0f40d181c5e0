package model

import (
	"gorm.io/datatypes"
)

// KVEntryModel stores one runtime-state document per key. The position
// manager keeps the whole live position map in a single entry, so the
// table stays tiny and every mutation is a full-document upsert.
type KVEntryModel struct {
	Key           string         `gorm:"column:key;primaryKey"`
	Value         datatypes.JSON `gorm:"column:value;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (KVEntryModel) TableName() string { return "runtime_state" }
