package models

import (
	"time"

	"gorm.io/gorm"
)

// APIToken — токен доступа к HTTP API. Секрет храним только хэшем.
type APIToken struct {
	ID         uint           `gorm:"primaryKey"`
	KeyID      string         `gorm:"size:16;not null;uniqueIndex"` // короткий человекочитаемый id
	SecretHash []byte         `gorm:"type:varbinary(64);not null"`
	Scope      string         `gorm:"size:64"`
	CreatedAt  time.Time      `gorm:"not null"`
	RevokedAt  *time.Time     `gorm:"index"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}
