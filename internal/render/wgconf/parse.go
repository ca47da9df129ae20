package wgconf

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Interface — разобранная секция [Interface].
type Interface struct {
	PrivateKey string
	Addresses  []string // с префиксами, как в артефакте
	DNS        []string
	ListenPort int
}

// PeerSection — разобранная секция [Peer].
type PeerSection struct {
	PublicKey           string
	PresharedKey        string
	Endpoint            string
	AllowedIPs          []string
	PersistentKeepalive int
}

// Config — результат разбора артефакта; Render → Parse обязан
// восстанавливать значения полей без потерь.
type Config struct {
	Interface Interface
	Peers     []PeerSection
}

// Parse разбирает артефакт обратно в поля. Неизвестные ключи — ошибка:
// лучше упасть на разборе, чем молча растерять конфигурацию.
func Parse(artifact []byte) (*Config, error) {
	cfg := &Config{}
	section := ""
	var cur *PeerSection

	sc := bufio.NewScanner(bytes.NewReader(artifact))
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if strings.HasPrefix(s, "[") {
			if cur != nil {
				cfg.Peers = append(cfg.Peers, *cur)
				cur = nil
			}
			switch s {
			case "[Interface]":
				section = "interface"
			case "[Peer]":
				section = "peer"
				cur = &PeerSection{}
			default:
				return nil, fmt.Errorf("line %d: unknown section %s", line, s)
			}
			continue
		}

		k, v, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected Key = Value, got %q", line, s)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)

		switch section {
		case "interface":
			if err := cfg.Interface.set(k, v); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		case "peer":
			if err := cur.set(k, v); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		default:
			return nil, fmt.Errorf("line %d: %q outside of a section", line, k)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cur != nil {
		cfg.Peers = append(cfg.Peers, *cur)
	}
	return cfg, nil
}

func (i *Interface) set(k, v string) error {
	switch k {
	case "PrivateKey":
		i.PrivateKey = v
	case "Address":
		i.Addresses = splitList(v)
	case "DNS":
		i.DNS = splitList(v)
	case "ListenPort":
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ListenPort: %w", err)
		}
		i.ListenPort = p
	default:
		return fmt.Errorf("unknown [Interface] key %q", k)
	}
	return nil
}

func (p *PeerSection) set(k, v string) error {
	switch k {
	case "PublicKey":
		p.PublicKey = v
	case "PresharedKey":
		p.PresharedKey = v
	case "Endpoint":
		p.Endpoint = v
	case "AllowedIPs":
		p.AllowedIPs = splitList(v)
	case "PersistentKeepalive":
		ka, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PersistentKeepalive: %w", err)
		}
		p.PersistentKeepalive = ka
	default:
		return fmt.Errorf("unknown [Peer] key %q", k)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
