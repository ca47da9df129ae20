package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warren/internal/models"
)

func newTestRegistry() *Registry {
	return New(nil, []string{"server", "all", "none", "auto"})
}

func tunnel(name string, port int) *models.Tunnel {
	return &models.Tunnel{
		UUID:       "uuid-" + name,
		Name:       name,
		Port:       port,
		IPv4Subnet: "10.8.0.0/24",
		IPv6Subnet: "fd00:8::/64",
		Status:     models.TunnelStatusProvisioned,
	}
}

func peer(tunnel, name, addr string) *models.Peer {
	return &models.Peer{
		UUID:       "uuid-" + tunnel + "-" + name,
		TunnelName: tunnel,
		Name:       name,
		Address:    addr,
	}
}

func TestCreateTunnel(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))

	got, ok := r.Tunnel("wg0")
	require.True(t, ok)
	assert.Equal(t, 51820, got.Port)
	assert.Equal(t, models.TunnelStatusProvisioned, got.Status)
}

func TestCreateTunnelDuplicateCaseInsensitive(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))
	assert.ErrorIs(t, r.CreateTunnel(ctx, tunnel("WG0", 51821)), ErrDuplicateName)

	// и поиск без учёта регистра
	_, ok := r.Tunnel("Wg0")
	assert.True(t, ok)
}

func TestCreateTunnelReservedName(t *testing.T) {
	r := newTestRegistry()
	err := r.CreateTunnel(context.Background(), tunnel("server", 51820))
	assert.ErrorIs(t, err, ErrReservedName)

	err = r.CreateTunnel(context.Background(), tunnel("Auto", 51820))
	assert.ErrorIs(t, err, ErrReservedName)

	assert.True(t, r.IsReserved("AUTO"))
	assert.False(t, r.IsReserved("wg0"))
}

func TestCreatePeer(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))

	require.NoError(t, r.CreatePeer(ctx, peer("wg0", "alice", "10.8.0.2")))

	assert.ErrorIs(t, r.CreatePeer(ctx, peer("wg0", "ALICE", "10.8.0.3")), ErrDuplicateName)
	assert.ErrorIs(t, r.CreatePeer(ctx, peer("wg1", "bob", "10.8.0.3")), ErrUnknownTunnel)
	assert.ErrorIs(t, r.CreatePeer(ctx, peer("wg0", "all", "10.8.0.3")), ErrReservedName)

	// одно имя под разными туннелями — не дубликат
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg1", 51821)))
	assert.NoError(t, r.CreatePeer(ctx, peer("wg1", "alice", "10.8.0.2")))
}

func TestRemoveTunnelCascades(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))
	require.NoError(t, r.CreatePeer(ctx, peer("wg0", "alice", "10.8.0.2")))

	removed, err := r.RemoveTunnel(ctx, "wg0")
	require.NoError(t, err)
	assert.Equal(t, models.TunnelStatusRemoved, removed.Status)

	_, ok := r.Tunnel("wg0")
	assert.False(t, ok)
	_, ok = r.Peer("wg0", "alice")
	assert.False(t, ok)

	// ресурсы свободны сразу после удаления
	assert.False(t, r.PortInUse(51820))
	assert.False(t, r.SubnetInUse("10.8.0.0/24"))
	assert.False(t, r.PeerAddressInUse("wg0", "10.8.0.2"))

	_, err = r.RemoveTunnel(ctx, "wg0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemovePeer(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))
	require.NoError(t, r.CreatePeer(ctx, peer("wg0", "alice", "10.8.0.2")))

	removed, err := r.RemovePeer(ctx, "wg0", "alice")
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.2", removed.Address)
	assert.False(t, r.PeerAddressInUse("wg0", "10.8.0.2"))

	_, err = r.RemovePeer(ctx, "wg0", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.RemovePeer(ctx, "wg9", "alice")
	assert.ErrorIs(t, err, ErrUnknownTunnel)
}

func TestSetTunnelStatus(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))

	require.NoError(t, r.SetTunnelStatus(ctx, "wg0", models.TunnelStatusActive))
	got, _ := r.Tunnel("wg0")
	assert.Equal(t, models.TunnelStatusActive, got.Status)

	assert.ErrorIs(t, r.SetTunnelStatus(ctx, "wg9", models.TunnelStatusActive), ErrNotFound)
}

func TestListsSortedAndCopied(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wgB", 51821)))
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wgA", 51820)))
	require.NoError(t, r.CreatePeer(ctx, peer("wgA", "zoe", "10.8.0.3")))
	require.NoError(t, r.CreatePeer(ctx, peer("wgA", "ann", "10.8.0.2")))

	tunnels := r.Tunnels()
	require.Len(t, tunnels, 2)
	assert.Equal(t, "wgA", tunnels[0].Name)

	peers, err := r.Peers("wgA")
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "ann", peers[0].Name)

	// мутация копии не трогает индекс
	peers[0].Address = "mutated"
	got, _ := r.Peer("wgA", "ann")
	assert.Equal(t, "10.8.0.2", got.Address)

	_, err = r.Peers("wg9")
	assert.ErrorIs(t, err, ErrUnknownTunnel)
}

func TestCounts(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	require.NoError(t, r.CreateTunnel(ctx, tunnel("wg0", 51820)))
	require.NoError(t, r.CreatePeer(ctx, peer("wg0", "alice", "10.8.0.2")))
	require.NoError(t, r.CreatePeer(ctx, peer("wg0", "bob", "10.8.0.3")))

	tunnels, peers := r.Counts()
	assert.Equal(t, 1, tunnels)
	assert.Equal(t, 2, peers)
}
