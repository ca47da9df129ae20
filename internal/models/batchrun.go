package models

import (
	"time"

	"gorm.io/datatypes"
)

// BatchRun — итог одного пакетного прогона: счётчики + полный ledger в JSON.
// Храним как аудиторскую запись, прогон по ней не восстанавливается.
type BatchRun struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UUID       string         `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	TunnelName string         `gorm:"index;size:15;not null" json:"tunnel"`
	Total      int            `json:"total"`
	Applied    int            `json:"applied"`
	Rejected   int            `json:"rejected"`
	Ledger     datatypes.JSON `gorm:"type:jsonb" json:"ledger"`
}
