package wgconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warren/internal/models"
)

func fixtureTunnel() models.Tunnel {
	return models.Tunnel{
		Name:       "wg0",
		Port:       51820,
		IPv4Subnet: "10.8.0.0/24",
		IPv6Subnet: "fd00:8::/64",
		PrivateKey: "SERVER_PRIV",
		PublicKey:  "SERVER_PUB",
	}
}

func fixturePeer() models.Peer {
	return models.Peer{
		TunnelName:   "wg0",
		Name:         "alice",
		Address:      "10.8.0.2",
		AddressV6:    "fd00:8::2",
		AllowedIPs:   "0.0.0.0/0,::/0",
		DNS:          "1.1.1.1,1.0.0.1",
		Keepalive:    25,
		PrivateKey:   "PEER_PRIV",
		PublicKey:    "PEER_PUB",
		PresharedKey: "PEER_PSK",
	}
}

func TestRenderPeerExact(t *testing.T) {
	got := RenderPeer(fixtureTunnel(), fixturePeer(), "vpn.example.com")

	want := `[Interface]
PrivateKey = PEER_PRIV
Address = 10.8.0.2/24,fd00:8::2/64
DNS = 1.1.1.1,1.0.0.1

[Peer]
PublicKey = SERVER_PUB
PresharedKey = PEER_PSK
Endpoint = vpn.example.com:51820
AllowedIPs = 0.0.0.0/0,::/0
PersistentKeepalive = 25
`
	assert.Equal(t, want, string(got))
}

func TestRenderPeerOmitsOptional(t *testing.T) {
	p := fixturePeer()
	p.Keepalive = 0
	p.PresharedKey = ""
	p.DNS = ""

	got := string(RenderPeer(fixtureTunnel(), p, "vpn.example.com"))
	assert.NotContains(t, got, "PersistentKeepalive")
	assert.NotContains(t, got, "PresharedKey")
	assert.NotContains(t, got, "DNS")
}

func TestRenderTunnelExact(t *testing.T) {
	bob := fixturePeer()
	bob.Name = "bob"
	bob.Address = "10.8.0.3"
	bob.AddressV6 = "fd00:8::3"
	bob.PublicKey = "BOB_PUB"
	bob.PresharedKey = ""
	bob.Keepalive = 0

	got := RenderTunnel(fixtureTunnel(), []models.Peer{fixturePeer(), bob})

	want := `[Interface]
PrivateKey = SERVER_PRIV
Address = 10.8.0.1/24,fd00:8::1/64
ListenPort = 51820

[Peer]
PublicKey = PEER_PUB
PresharedKey = PEER_PSK
AllowedIPs = 10.8.0.2/32,fd00:8::2/128
PersistentKeepalive = 25

[Peer]
PublicKey = BOB_PUB
AllowedIPs = 10.8.0.3/32,fd00:8::3/128
`
	assert.Equal(t, want, string(got))
}

func TestRenderTunnelV4Only(t *testing.T) {
	tn := fixtureTunnel()
	tn.IPv6Subnet = ""
	p := fixturePeer()
	p.AddressV6 = ""

	got := string(RenderTunnel(tn, []models.Peer{p}))
	assert.Contains(t, got, "Address = 10.8.0.1/24\n")
	assert.Contains(t, got, "AllowedIPs = 10.8.0.2/32\n")
}

func TestRoundTripPeer(t *testing.T) {
	artifact := RenderPeer(fixtureTunnel(), fixturePeer(), "vpn.example.com")

	cfg, err := Parse(artifact)
	require.NoError(t, err)
	assert.Equal(t, "PEER_PRIV", cfg.Interface.PrivateKey)
	assert.Equal(t, []string{"10.8.0.2/24", "fd00:8::2/64"}, cfg.Interface.Addresses)
	assert.Equal(t, []string{"1.1.1.1", "1.0.0.1"}, cfg.Interface.DNS)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "SERVER_PUB", cfg.Peers[0].PublicKey)
	assert.Equal(t, "PEER_PSK", cfg.Peers[0].PresharedKey)
	assert.Equal(t, "vpn.example.com:51820", cfg.Peers[0].Endpoint)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, cfg.Peers[0].AllowedIPs)
	assert.Equal(t, 25, cfg.Peers[0].PersistentKeepalive)
}

func TestRoundTripTunnel(t *testing.T) {
	bob := fixturePeer()
	bob.Name = "bob"
	bob.Address = "10.8.0.3"
	bob.PublicKey = "BOB_PUB"

	artifact := RenderTunnel(fixtureTunnel(), []models.Peer{fixturePeer(), bob})

	cfg, err := Parse(artifact)
	require.NoError(t, err)
	assert.Equal(t, "SERVER_PRIV", cfg.Interface.PrivateKey)
	assert.Equal(t, 51820, cfg.Interface.ListenPort)
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, "PEER_PUB", cfg.Peers[0].PublicKey)
	assert.Equal(t, "BOB_PUB", cfg.Peers[1].PublicKey)
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := Parse([]byte("[Interface]\nBogusKey = 1\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("[Bogus]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("PrivateKey = x\n"))
	assert.Error(t, err, "ключ вне секции")

	_, err = Parse([]byte("[Interface]\nno equals here\n"))
	assert.Error(t, err)
}

func TestParseSkipsCommentsAndBlank(t *testing.T) {
	cfg, err := Parse([]byte("# заголовок\n\n[Interface]\nPrivateKey = x\n\n# хвост\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Interface.PrivateKey)
}
