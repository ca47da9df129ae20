package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"warren/internal/models"
)

var (
	ErrDuplicateName = errors.New("name already in use")
	ErrReservedName  = errors.New("name is reserved")
	ErrUnknownTunnel = errors.New("tunnel does not exist")
	ErrNotFound      = errors.New("entity not found")
)

// Registry — единственный источник истины по туннелям и peer'ам.
// Индекс живёт в памяти (никаких сканов конфигов при проверке занятости),
// БД — необязательный write-through слой для рестартов.
type Registry struct {
	mu       sync.RWMutex
	reserved map[string]struct{}
	tunnels  map[string]*models.Tunnel          // ключ — lower(name)
	peers    map[string]map[string]*models.Peer // lower(tunnel) -> lower(peer)
	db       *gorm.DB                           // nil — только память
}

func New(db *gorm.DB, reservedNames []string) *Registry {
	res := make(map[string]struct{}, len(reservedNames))
	for _, n := range reservedNames {
		res[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return &Registry{
		reserved: res,
		tunnels:  make(map[string]*models.Tunnel),
		peers:    make(map[string]map[string]*models.Peer),
		db:       db,
	}
}

// Load гидратирует индекс из БД (вызывается один раз на старте).
func (r *Registry) Load(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	var tunnels []models.Tunnel
	if err := r.db.WithContext(ctx).Find(&tunnels).Error; err != nil {
		return fmt.Errorf("load tunnels: %w", err)
	}
	var peers []models.Peer
	if err := r.db.WithContext(ctx).Find(&peers).Error; err != nil {
		return fmt.Errorf("load peers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range tunnels {
		t := tunnels[i]
		r.tunnels[strings.ToLower(t.Name)] = &t
		r.peers[strings.ToLower(t.Name)] = make(map[string]*models.Peer)
	}
	for i := range peers {
		p := peers[i]
		tk := strings.ToLower(p.TunnelName)
		if _, ok := r.tunnels[tk]; !ok {
			// осиротевший peer: индекс не засоряем, инвариант tunnelRef важнее
			continue
		}
		r.peers[tk][strings.ToLower(p.Name)] = &p
	}
	return nil
}

func (r *Registry) IsReserved(name string) bool {
	_, ok := r.reserved[strings.ToLower(name)]
	return ok
}

// CreateTunnel вставляет туннель; имя проверяется на резерв и
// на дубликат без учёта регистра.
func (r *Registry) CreateTunnel(ctx context.Context, t *models.Tunnel) error {
	key := strings.ToLower(t.Name)
	if _, ok := r.reserved[key]; ok {
		return fmt.Errorf("%w: %q", ErrReservedName, t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tunnels[key]; ok {
		return fmt.Errorf("%w: tunnel %q", ErrDuplicateName, t.Name)
	}
	if r.db != nil {
		if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
			return fmt.Errorf("persist tunnel: %w", err)
		}
	}
	r.tunnels[key] = t
	r.peers[key] = make(map[string]*models.Peer)
	return nil
}

// CreatePeer вставляет peer под живой туннель.
func (r *Registry) CreatePeer(ctx context.Context, p *models.Peer) error {
	if _, ok := r.reserved[strings.ToLower(p.Name)]; ok {
		return fmt.Errorf("%w: %q", ErrReservedName, p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tk := strings.ToLower(p.TunnelName)
	if _, ok := r.tunnels[tk]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTunnel, p.TunnelName)
	}
	pk := strings.ToLower(p.Name)
	if _, ok := r.peers[tk][pk]; ok {
		return fmt.Errorf("%w: peer %q under %q", ErrDuplicateName, p.Name, p.TunnelName)
	}
	if r.db != nil {
		if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
			return fmt.Errorf("persist peer: %w", err)
		}
	}
	r.peers[tk][pk] = p
	return nil
}

// RemoveTunnel удаляет туннель вместе с его peer'ами.
// Ресурсы (порт, подсети, адреса) освобождаются самим фактом удаления:
// занятость всегда выводится из живых записей индекса.
func (r *Registry) RemoveTunnel(ctx context.Context, name string) (models.Tunnel, error) {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tunnels[key]
	if !ok {
		return models.Tunnel{}, fmt.Errorf("%w: tunnel %q", ErrNotFound, name)
	}
	if r.db != nil {
		if err := r.db.WithContext(ctx).Where("tunnel_name = ?", t.Name).Delete(&models.Peer{}).Error; err != nil {
			return models.Tunnel{}, fmt.Errorf("delete peers: %w", err)
		}
		if err := r.db.WithContext(ctx).Delete(t).Error; err != nil {
			return models.Tunnel{}, fmt.Errorf("delete tunnel: %w", err)
		}
	}
	delete(r.tunnels, key)
	delete(r.peers, key)
	out := *t
	out.Status = models.TunnelStatusRemoved
	return out, nil
}

// RemovePeer удаляет peer; его адрес становится свободным немедленно.
func (r *Registry) RemovePeer(ctx context.Context, tunnel, name string) (models.Peer, error) {
	tk, pk := strings.ToLower(tunnel), strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tunnels[tk]; !ok {
		return models.Peer{}, fmt.Errorf("%w: %q", ErrUnknownTunnel, tunnel)
	}
	p, ok := r.peers[tk][pk]
	if !ok {
		return models.Peer{}, fmt.Errorf("%w: peer %q under %q", ErrNotFound, name, tunnel)
	}
	if r.db != nil {
		if err := r.db.WithContext(ctx).Delete(p).Error; err != nil {
			return models.Peer{}, fmt.Errorf("delete peer: %w", err)
		}
	}
	delete(r.peers[tk], pk)
	return *p, nil
}

// SetTunnelStatus — переходы Provisioned/Active/Inactive.
func (r *Registry) SetTunnelStatus(ctx context.Context, name, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tunnels[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: tunnel %q", ErrNotFound, name)
	}
	t.Status = status
	if r.db != nil {
		return r.db.WithContext(ctx).Model(t).Update("status", status).Error
	}
	return nil
}

// ---- чтение (копии, индекс снаружи не мутируется) ----

func (r *Registry) Tunnel(name string) (models.Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[strings.ToLower(name)]
	if !ok {
		return models.Tunnel{}, false
	}
	return *t, true
}

func (r *Registry) Peer(tunnel, name string) (models.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[strings.ToLower(tunnel)][strings.ToLower(name)]
	if !ok {
		return models.Peer{}, false
	}
	return *p, true
}

func (r *Registry) Tunnels() []models.Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Peers(tunnel string) ([]models.Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.peers[strings.ToLower(tunnel)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTunnel, tunnel)
	}
	out := make([]models.Peer, 0, len(m))
	for _, p := range m {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---- занятость ресурсов (для аллокатора) ----

func (r *Registry) PortInUse(port int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tunnels {
		if t.Port == port {
			return true
		}
	}
	return false
}

func (r *Registry) SubnetInUse(cidr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tunnels {
		if t.IPv4Subnet == cidr || t.IPv6Subnet == cidr {
			return true
		}
	}
	return false
}

func (r *Registry) PeerAddressInUse(tunnel, addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers[strings.ToLower(tunnel)] {
		if p.Address == addr || (p.AddressV6 != "" && p.AddressV6 == addr) {
			return true
		}
	}
	return false
}

// Counts — счётчики для статусного эндпоинта.
func (r *Registry) Counts() (tunnels, peers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tunnels = len(r.tunnels)
	for _, m := range r.peers {
		peers += len(m)
	}
	return
}
