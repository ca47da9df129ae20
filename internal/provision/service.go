package provision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"warren/config"
	"warren/internal/alloc"
	"warren/internal/logs"
	"warren/internal/models"
	"warren/internal/registry"
	"warren/internal/render/wgconf"
	"warren/internal/system"
	"warren/internal/tarball"
	"warren/internal/vpn/wireguard"
)

// AutoAddress — sentinel «выдай адрес сам» в запросах и batch-вводе.
const AutoAddress = "auto"

// Service — ядро provisioning'а. Все зависимости внедряются явно.
//
// mu сериализует последовательность «скан пула → выбор → коммит»:
// два конкурентных вызова иначе могли бы взять один и тот же слот.
type Service struct {
	mu    sync.Mutex
	reg   *registry.Registry
	alloc *alloc.Allocator
	keys  wireguard.KeyProvider
	act   system.Activator
	deps  system.DepChecker
	cfg   *config.Config
}

func NewService(reg *registry.Registry, al *alloc.Allocator, keys wireguard.KeyProvider,
	act system.Activator, deps system.DepChecker, cfg *config.Config) *Service {
	return &Service{reg: reg, alloc: al, keys: keys, act: act, deps: deps, cfg: cfg}
}

// CheckDependencies — environment-fatal при нехватке инструментов;
// установка делегируется вызывающему.
func (s *Service) CheckDependencies(ctx context.Context) error {
	missing := s.deps.EnsureToolsPresent(ctx)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", system.ErrDependencyMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ---- туннели ----

type TunnelRequest struct {
	Name string
	Port int // 0 — выделить из пула
}

func (s *Service) CreateTunnel(ctx context.Context, req TunnelRequest) (models.Tunnel, error) {
	if err := validateTunnelName(req.Name); err != nil {
		return models.Tunnel{}, err
	}
	if req.Port != 0 {
		if err := validatePort(req.Port); err != nil {
			return models.Tunnel{}, err
		}
	}

	// генерация ключей — внешний блокирующий вызов, держать lock незачем
	kp, err := s.keys.GenerateKeypair()
	if err != nil {
		return models.Tunnel{}, err
	}

	s.mu.Lock()
	port := req.Port
	if port == 0 {
		if port, err = s.alloc.AllocatePort(); err != nil {
			s.mu.Unlock()
			return models.Tunnel{}, err
		}
	} else if s.reg.PortInUse(port) {
		s.mu.Unlock()
		return models.Tunnel{}, fmt.Errorf("%w: port %d already bound", alloc.ErrAddressConflict, port)
	}
	pair, err := s.alloc.AllocateSubnetPair()
	if err != nil {
		s.mu.Unlock()
		return models.Tunnel{}, err
	}
	t := &models.Tunnel{
		UUID:       uuid.NewString(),
		Name:       req.Name,
		Port:       port,
		IPv4Subnet: pair.V4,
		IPv6Subnet: pair.V6,
		PrivateKey: kp.Private,
		PublicKey:  kp.Public,
		Status:     models.TunnelStatusProvisioned,
	}
	if err := s.reg.CreateTunnel(ctx, t); err != nil {
		s.mu.Unlock()
		return models.Tunnel{}, err
	}
	s.mu.Unlock()

	s.syncTunnel(ctx, t.Name)
	return *t, nil
}

func (s *Service) RemoveTunnel(ctx context.Context, name string) (models.Tunnel, error) {
	t, err := s.reg.RemoveTunnel(ctx, name)
	if err != nil {
		return models.Tunnel{}, err
	}
	if err := s.act.Remove(ctx, t.Name); err != nil {
		logs.Logger.Warnf("tunnel %s: engine cleanup failed: %v", t.Name, err)
	}
	return t, nil
}

func (s *Service) ActivateTunnel(ctx context.Context, name string) error {
	if err := s.CheckDependencies(ctx); err != nil {
		return err
	}
	if _, ok := s.reg.Tunnel(name); !ok {
		return fmt.Errorf("%w: tunnel %q", registry.ErrNotFound, name)
	}
	// сбой активации — предупреждение, сущность остаётся provisioned
	if err := s.act.Activate(ctx, name); err != nil {
		logs.Logger.Warnf("tunnel %s: activation failed: %v", name, err)
		return nil
	}
	return s.reg.SetTunnelStatus(ctx, name, models.TunnelStatusActive)
}

func (s *Service) DeactivateTunnel(ctx context.Context, name string) error {
	if _, ok := s.reg.Tunnel(name); !ok {
		return fmt.Errorf("%w: tunnel %q", registry.ErrNotFound, name)
	}
	if err := s.act.Deactivate(ctx, name); err != nil {
		logs.Logger.Warnf("tunnel %s: deactivation failed: %v", name, err)
		return nil
	}
	return s.reg.SetTunnelStatus(ctx, name, models.TunnelStatusInactive)
}

// ---- peers ----

type PeerRequest struct {
	Tunnel     string
	Name       string
	Address    string   // "" или "auto" — из пула; иначе IPv4-литерал
	AllowedIPs []string // nil — дефолты конфига
	DNS        []string // nil — дефолты конфига
	Keepalive  *int     // nil — дефолт конфига
}

// CreatePeer создаёт peer и возвращает его клиентский артефакт.
func (s *Service) CreatePeer(ctx context.Context, req PeerRequest) (models.Peer, []byte, error) {
	if err := validatePeerName(req.Name); err != nil {
		return models.Peer{}, nil, err
	}
	if err := validatePeerAddress(req.Address); err != nil {
		return models.Peer{}, nil, err
	}
	routes := req.AllowedIPs
	if routes == nil {
		routes = s.cfg.WireGuard.AllowedIPs
	}
	if err := validateCIDRList("allowed_ips", routes); err != nil {
		return models.Peer{}, nil, err
	}
	dns := req.DNS
	if dns == nil {
		dns = s.cfg.WireGuard.DNS
	}
	if err := validateAddrList("dns", dns); err != nil {
		return models.Peer{}, nil, err
	}
	keepalive := s.cfg.WireGuard.Keepalive
	if req.Keepalive != nil {
		keepalive = *req.Keepalive
	}
	if err := validateKeepalive(keepalive); err != nil {
		return models.Peer{}, nil, err
	}

	kp, err := s.keys.GenerateKeypair()
	if err != nil {
		return models.Peer{}, nil, err
	}
	psk, err := s.keys.GeneratePresharedSecret()
	if err != nil {
		return models.Peer{}, nil, err
	}

	s.mu.Lock()
	t, ok := s.reg.Tunnel(req.Tunnel)
	if !ok {
		s.mu.Unlock()
		return models.Peer{}, nil, fmt.Errorf("%w: %q", registry.ErrUnknownTunnel, req.Tunnel)
	}
	var addr alloc.PeerAddress
	if req.Address == "" || req.Address == AutoAddress {
		addr, err = s.alloc.AllocatePeerAddress(t.Name, t.IPv4Subnet, t.IPv6Subnet)
	} else {
		addr, err = s.alloc.VerifyPeerAddress(t.Name, t.IPv4Subnet, t.IPv6Subnet, req.Address)
	}
	if err != nil {
		s.mu.Unlock()
		return models.Peer{}, nil, err
	}
	p := &models.Peer{
		UUID:         uuid.NewString(),
		TunnelName:   t.Name,
		Name:         req.Name,
		Address:      addr.V4,
		AddressV6:    addr.V6,
		AllowedIPs:   models.JoinCSV(routes),
		DNS:          models.JoinCSV(dns),
		Keepalive:    keepalive,
		PrivateKey:   kp.Private,
		PublicKey:    kp.Public,
		PresharedKey: psk,
	}
	if err := s.reg.CreatePeer(ctx, p); err != nil {
		// адрес не закоммичен — занятость выводится из живых записей,
		// так что слот свободен сразу, отдельного release не нужно
		s.mu.Unlock()
		return models.Peer{}, nil, err
	}
	s.mu.Unlock()

	artifact := wgconf.RenderPeer(t, *p, s.endpointHost())
	s.syncTunnel(ctx, t.Name)
	return *p, artifact, nil
}

// RemovePeer удаляет peer, освобождает его адрес и отзывает его
// из серверного артефакта.
func (s *Service) RemovePeer(ctx context.Context, tunnel, name string) (models.Peer, error) {
	p, err := s.reg.RemovePeer(ctx, tunnel, name)
	if err != nil {
		return models.Peer{}, err
	}
	s.syncTunnel(ctx, tunnel)
	return p, nil
}

// ---- чтение ----

func (s *Service) Tunnel(name string) (models.Tunnel, bool) { return s.reg.Tunnel(name) }

func (s *Service) Tunnels() []models.Tunnel { return s.reg.Tunnels() }

func (s *Service) Peer(tunnel, name string) (models.Peer, bool) { return s.reg.Peer(tunnel, name) }

func (s *Service) Peers(tunnel string) ([]models.Peer, error) { return s.reg.Peers(tunnel) }

// ---- артефакты ----

func (s *Service) PeerArtifact(tunnel, peer string) ([]byte, error) {
	t, ok := s.reg.Tunnel(tunnel)
	if !ok {
		return nil, fmt.Errorf("%w: %q", registry.ErrUnknownTunnel, tunnel)
	}
	p, ok := s.reg.Peer(tunnel, peer)
	if !ok {
		return nil, fmt.Errorf("%w: peer %q under %q", registry.ErrNotFound, peer, tunnel)
	}
	return wgconf.RenderPeer(t, p, s.endpointHost()), nil
}

func (s *Service) TunnelArtifact(tunnel string) ([]byte, error) {
	t, ok := s.reg.Tunnel(tunnel)
	if !ok {
		return nil, fmt.Errorf("%w: tunnel %q", registry.ErrNotFound, tunnel)
	}
	peers, err := s.reg.Peers(tunnel)
	if err != nil {
		return nil, err
	}
	return wgconf.RenderTunnel(t, peers), nil
}

// Bundle собирает tar.gz со всеми артефактами туннеля
// (серверный + по одному на peer) и возвращает архив с checksum'ом.
func (s *Service) Bundle(tunnel string) ([]byte, string, error) {
	t, ok := s.reg.Tunnel(tunnel)
	if !ok {
		return nil, "", fmt.Errorf("%w: tunnel %q", registry.ErrNotFound, tunnel)
	}
	peers, err := s.reg.Peers(tunnel)
	if err != nil {
		return nil, "", err
	}
	files := []tarball.File{
		{Name: t.Name + "/" + t.Name + ".conf", Data: wgconf.RenderTunnel(t, peers), Mode: 0o600},
	}
	for _, p := range peers {
		files = append(files, tarball.File{
			Name: t.Name + "/peers/" + p.Name + ".conf",
			Data: wgconf.RenderPeer(t, p, s.endpointHost()),
			Mode: 0o600,
		})
	}
	return tarball.Build(files)
}

// ---- статус ----

type Status struct {
	Tunnels         int `json:"tunnels"`
	ActiveTunnels   int `json:"active_tunnels"`
	Peers           int `json:"peers"`
	FreePorts       int `json:"free_ports"`
	FreeSubnetPairs int `json:"free_subnet_pairs"`
}

func (s *Service) Status() Status {
	tunnels, peers := s.reg.Counts()
	st := Status{Tunnels: tunnels, Peers: peers}
	for _, t := range s.reg.Tunnels() {
		if t.Status == models.TunnelStatusActive {
			st.ActiveTunnels++
		}
	}
	st.FreePorts, st.FreeSubnetPairs = s.alloc.PoolStats()
	return st
}

// ---- внутреннее ----

func (s *Service) endpointHost() string {
	if h := strings.TrimSpace(s.cfg.WireGuard.EndpointHost); h != "" {
		return h
	}
	return s.cfg.Server.Address
}

// syncTunnel отдаёт движку свежий серверный артефакт (best-effort).
func (s *Service) syncTunnel(ctx context.Context, tunnel string) {
	t, ok := s.reg.Tunnel(tunnel)
	if !ok {
		return
	}
	peers, err := s.reg.Peers(tunnel)
	if err != nil {
		return
	}
	if err := s.act.Sync(ctx, t.Name, wgconf.RenderTunnel(t, peers)); err != nil {
		logs.Logger.Warnf("tunnel %s: engine sync failed: %v", t.Name, err)
	}
}
