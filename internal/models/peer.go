package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type Peer struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UUID string `gorm:"uniqueIndex;size:64;not null" json:"uuid"`

	// Слабая ссылка на туннель: только имя, peer туннелем не владеет.
	TunnelName string `gorm:"size:15;not null;uniqueIndex:uniq_tunnel_peer,priority:1" json:"tunnel"`
	Name       string `gorm:"size:32;not null;uniqueIndex:uniq_tunnel_peer,priority:2" json:"name"`

	Address   string `gorm:"size:64;not null" json:"address"` // "10.8.0.2"
	AddressV6 string `gorm:"size:64" json:"address_v6"`       // "fd00:8:0::2"

	AllowedIPs string `gorm:"size:512" json:"allowed_ips"` // CSV
	DNS        string `gorm:"size:255" json:"dns"`         // CSV
	Keepalive  int    `json:"keepalive"`                   // секунды, 0 = выключено

	PrivateKey   string `gorm:"size:64" json:"-"`
	PublicKey    string `gorm:"size:64" json:"public_key"`
	PresharedKey string `gorm:"size:64" json:"-"`
}

// AllowedRoutes — CSV-поле списком.
func (p *Peer) AllowedRoutes() []string { return splitCSV(p.AllowedIPs) }

// DNSServers — CSV-поле списком, порядок сохраняется.
func (p *Peer) DNSServers() []string { return splitCSV(p.DNS) }

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func JoinCSV(items []string) string { return strings.Join(items, ",") }
