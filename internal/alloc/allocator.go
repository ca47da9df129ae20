package alloc

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrPortRangeExhausted   = errors.New("port range exhausted")
	ErrSubnetPoolExhausted  = errors.New("subnet pool exhausted")
	ErrAddressPoolExhausted = errors.New("address pool exhausted")
	ErrAddressConflict      = errors.New("address conflict")
)

// Usage — взгляд аллокатора на занятость ресурсов. Реализуется реестром;
// освобождение отдельной операцией не нужно: свободно всё, что не занято
// живой записью, поэтому повторный release — естественный no-op.
type Usage interface {
	PortInUse(port int) bool
	SubnetInUse(cidr string) bool
	PeerAddressInUse(tunnel, addr string) bool
}

// SubnetPair — кандидат из пула: v4 и v6 подсети выдаются вместе.
type SubnetPair struct {
	V4 string // "10.8.0.0/24"
	V6 string // "fd00:8:0::/64"
}

// PeerAddress — адрес peer'а в обеих семьях с общим host-offset.
type PeerAddress struct {
	V4     string // "10.8.0.2"
	V6     string // "fd00:8:0::2"
	Offset int
}

// Смещения 0 (сеть), 1 (адрес сервера) и 255 (broadcast) не выдаются.
const (
	hostOffsetMin = 2
	hostOffsetMax = 254
)

// Allocator — детерминированная выдача из конечных упорядоченных пулов.
// Правило одно: всегда наименьший свободный индекс.
type Allocator struct {
	portMin, portMax int
	pairs            []SubnetPair
	usage            Usage
}

func New(usage Usage, portMin, portMax int, pairs []SubnetPair) *Allocator {
	return &Allocator{portMin: portMin, portMax: portMax, pairs: pairs, usage: usage}
}

// BuildSubnetPairs разворачивает пул из базовых подсетей:
// инкрементируется последний байт префикса (10.8.0.0/24 → 10.8.1.0/24, ...).
func BuildSubnetPairs(v4Base, v6Base string, count int) ([]SubnetPair, error) {
	pairs := make([]SubnetPair, 0, count)
	for i := 0; i < count; i++ {
		v4, err := shiftCIDR(v4Base, i)
		if err != nil {
			return nil, fmt.Errorf("subnet pool v4: %w", err)
		}
		v6, err := shiftCIDR(v6Base, i)
		if err != nil {
			return nil, fmt.Errorf("subnet pool v6: %w", err)
		}
		pairs = append(pairs, SubnetPair{V4: v4, V6: v6})
	}
	return pairs, nil
}

// AllocatePort — восходящий скан диапазона, первый свободный порт.
func (a *Allocator) AllocatePort() (int, error) {
	for p := a.portMin; p <= a.portMax; p++ {
		if !a.usage.PortInUse(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: [%d, %d]", ErrPortRangeExhausted, a.portMin, a.portMax)
}

// AllocateSubnetPair — первая пара, у которой свободны обе стороны.
func (a *Allocator) AllocateSubnetPair() (SubnetPair, error) {
	for _, pair := range a.pairs {
		if !a.usage.SubnetInUse(pair.V4) && !a.usage.SubnetInUse(pair.V6) {
			return pair, nil
		}
	}
	return SubnetPair{}, fmt.Errorf("%w: %d candidates", ErrSubnetPoolExhausted, len(a.pairs))
}

// AllocatePeerAddress — восходящий скан смещений 2..254 внутри подсетей
// туннеля; offset общий для v4 и v6.
func (a *Allocator) AllocatePeerAddress(tunnelName, v4Subnet, v6Subnet string) (PeerAddress, error) {
	for off := hostOffsetMin; off <= hostOffsetMax; off++ {
		addr, err := hostAt(v4Subnet, v6Subnet, off)
		if err != nil {
			return PeerAddress{}, err
		}
		if a.usage.PeerAddressInUse(tunnelName, addr.V4) {
			continue
		}
		return addr, nil
	}
	return PeerAddress{}, fmt.Errorf("%w: subnet %s", ErrAddressPoolExhausted, v4Subnet)
}

// VerifyPeerAddress проверяет явно заданный v4-адрес: внутри подсети,
// не служебный offset, не занят. Любое нарушение — ErrAddressConflict.
func (a *Allocator) VerifyPeerAddress(tunnelName, v4Subnet, v6Subnet, ip string) (PeerAddress, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return PeerAddress{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrAddressConflict, ip)
	}
	_, ipnet, err := net.ParseCIDR(v4Subnet)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("parse subnet %q: %w", v4Subnet, err)
	}
	if !ipnet.Contains(parsed) {
		return PeerAddress{}, fmt.Errorf("%w: %s outside subnet %s", ErrAddressConflict, ip, v4Subnet)
	}
	off := int(parsed.To4()[3])
	if off < hostOffsetMin || off > hostOffsetMax {
		return PeerAddress{}, fmt.Errorf("%w: %s is a reserved host offset", ErrAddressConflict, ip)
	}
	if a.usage.PeerAddressInUse(tunnelName, parsed.To4().String()) {
		return PeerAddress{}, fmt.Errorf("%w: %s already assigned", ErrAddressConflict, ip)
	}
	return hostAt(v4Subnet, v6Subnet, off)
}

// PoolStats — сколько осталось свободных портов и пар подсетей.
func (a *Allocator) PoolStats() (freePorts, freePairs int) {
	for p := a.portMin; p <= a.portMax; p++ {
		if !a.usage.PortInUse(p) {
			freePorts++
		}
	}
	for _, pair := range a.pairs {
		if !a.usage.SubnetInUse(pair.V4) && !a.usage.SubnetInUse(pair.V6) {
			freePairs++
		}
	}
	return
}

// ---- адресная арифметика ----

func hostAt(v4Subnet, v6Subnet string, offset int) (PeerAddress, error) {
	_, v4net, err := net.ParseCIDR(v4Subnet)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("parse subnet %q: %w", v4Subnet, err)
	}
	base4 := v4net.IP.To4()
	if base4 == nil {
		return PeerAddress{}, fmt.Errorf("subnet %q is not IPv4", v4Subnet)
	}
	v4 := net.IPv4(base4[0], base4[1], base4[2], byte(offset)).String()

	addr := PeerAddress{V4: v4, Offset: offset}
	if v6Subnet != "" {
		_, v6net, err := net.ParseCIDR(v6Subnet)
		if err != nil {
			return PeerAddress{}, fmt.Errorf("parse subnet %q: %w", v6Subnet, err)
		}
		base6 := v6net.IP.To16()
		ip := make(net.IP, len(base6))
		copy(ip, base6)
		ip[15] = byte(offset)
		addr.V6 = ip.String()
	}
	return addr, nil
}

// shiftCIDR сдвигает подсеть на i шагов по последнему байту префикса
// (с переносом в старшие байты). Маска должна быть кратна 8 битам.
func shiftCIDR(cidr string, i int) (string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", err
	}
	ones, bits := ipnet.Mask.Size()
	if ones%8 != 0 {
		return "", fmt.Errorf("prefix length %d not byte-aligned in %q", ones, cidr)
	}
	ip := ipnet.IP
	if bits == 32 {
		ip = ip.To4()
	} else {
		ip = ip.To16()
	}
	out := make(net.IP, len(ip))
	copy(out, ip)

	carry := i
	for idx := ones/8 - 1; idx >= 0 && carry > 0; idx-- {
		sum := int(out[idx]) + carry
		out[idx] = byte(sum % 256)
		carry = sum / 256
	}
	if carry > 0 {
		return "", fmt.Errorf("subnet pool overflow at step %d from %q", i, cidr)
	}
	return (&net.IPNet{IP: out, Mask: ipnet.Mask}).String(), nil
}
