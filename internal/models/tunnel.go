package models

import (
	"time"

	"gorm.io/gorm"
)

// Статусы туннеля. Removed в БД не хранится — запись удаляется,
// статус существует только на время жизни объекта в памяти.
const (
	TunnelStatusProvisioned = "provisioned"
	TunnelStatusActive      = "active"
	TunnelStatusInactive    = "inactive"
	TunnelStatusRemoved     = "removed"
)

type Tunnel struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UUID       string `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	Name       string `gorm:"uniqueIndex;size:15;not null" json:"name"`
	Port       int    `gorm:"uniqueIndex" json:"port"`
	IPv4Subnet string `gorm:"size:64;not null" json:"ipv4_subnet"` // "10.8.0.0/24"
	IPv6Subnet string `gorm:"size:64;not null" json:"ipv6_subnet"` // "fd00:8:0::/64"

	// Ключевая пара туннеля; приватный ключ наружу не отдаём.
	PrivateKey string `gorm:"size:64" json:"-"`
	PublicKey  string `gorm:"size:64" json:"public_key"`

	Status string `gorm:"size:32" json:"status"`
}
