package wgconf

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"warren/internal/models"
)

// Формат артефакта парсится внешним движком туннеля дословно:
// имена ключей и пробелы вокруг «=» фиксированы, менять нельзя.

// RenderPeer — клиентский артефакт peer'а: [Interface] самого peer'а
// плюс один [Peer] с серверной стороной туннеля.
func RenderPeer(t models.Tunnel, p models.Peer, endpointHost string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", peerAddressList(t, p))
	if dns := p.DNSServers(); len(dns) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(dns, ","))
	}

	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", t.PublicKey)
	if p.PresharedKey != "" {
		fmt.Fprintf(&b, "PresharedKey = %s\n", p.PresharedKey)
	}
	fmt.Fprintf(&b, "Endpoint = %s\n", net.JoinHostPort(endpointHost, strconv.Itoa(t.Port)))
	if routes := p.AllowedRoutes(); len(routes) > 0 {
		fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(routes, ","))
	}
	if p.Keepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.Keepalive)
	}
	return []byte(b.String())
}

// RenderTunnel — серверный артефакт туннеля: [Interface] со шлюзовым
// адресом (.1) и ListenPort, далее по [Peer]-блоку на каждый peer.
func RenderTunnel(t models.Tunnel, peers []models.Peer) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", t.PrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", gatewayAddressList(t))
	fmt.Fprintf(&b, "ListenPort = %d\n", t.Port)

	for _, p := range peers {
		fmt.Fprintf(&b, "\n[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
		if p.PresharedKey != "" {
			fmt.Fprintf(&b, "PresharedKey = %s\n", p.PresharedKey)
		}
		fmt.Fprintf(&b, "AllowedIPs = %s\n", peerHostRoutes(p))
		if p.Keepalive > 0 {
			fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.Keepalive)
		}
	}
	return []byte(b.String())
}

// Адрес peer'а с префиксами его подсетей: "10.8.0.2/24,fd00:8:0::2/64".
func peerAddressList(t models.Tunnel, p models.Peer) string {
	parts := []string{p.Address + "/" + prefixLen(t.IPv4Subnet, "24")}
	if p.AddressV6 != "" && t.IPv6Subnet != "" {
		parts = append(parts, p.AddressV6+"/"+prefixLen(t.IPv6Subnet, "64"))
	}
	return strings.Join(parts, ",")
}

// Серверная сторона всегда на offset 1 своих подсетей.
func gatewayAddressList(t models.Tunnel) string {
	parts := []string{hostOne(t.IPv4Subnet) + "/" + prefixLen(t.IPv4Subnet, "24")}
	if t.IPv6Subnet != "" {
		parts = append(parts, hostOneV6(t.IPv6Subnet)+"/"+prefixLen(t.IPv6Subnet, "64"))
	}
	return strings.Join(parts, ",")
}

// Маршруты на peer со стороны сервера: только его host-адреса.
func peerHostRoutes(p models.Peer) string {
	parts := []string{p.Address + "/32"}
	if p.AddressV6 != "" {
		parts = append(parts, p.AddressV6+"/128")
	}
	return strings.Join(parts, ",")
}

func prefixLen(cidr, def string) string {
	if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
		ones, _ := ipnet.Mask.Size()
		return strconv.Itoa(ones)
	}
	return def
}

func hostOne(v4Subnet string) string {
	_, ipnet, err := net.ParseCIDR(v4Subnet)
	if err != nil || ipnet.IP.To4() == nil {
		return ""
	}
	b := ipnet.IP.To4()
	return net.IPv4(b[0], b[1], b[2], 1).String()
}

func hostOneV6(v6Subnet string) string {
	_, ipnet, err := net.ParseCIDR(v6Subnet)
	if err != nil {
		return ""
	}
	ip := make(net.IP, net.IPv6len)
	copy(ip, ipnet.IP.To16())
	ip[15] = 1
	return ip.String()
}
