package provision

import (
	"fmt"
	"net"
	"regexp"
)

// ValidationError — нарушение ограничения конкретного поля запроса.
// Поле попадает в machine-readable причину отказа (см. Reason).
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

var (
	tunnelNameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	peerNameRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
)

func validateTunnelName(name string) error {
	if !tunnelNameRe.MatchString(name) {
		return &ValidationError{Field: "name", Msg: "1-15 chars, alphanumeric and underscore"}
	}
	return nil
}

func validatePeerName(name string) error {
	if !peerNameRe.MatchString(name) {
		return &ValidationError{Field: "name", Msg: "1-32 chars, alphanumeric, underscore and dash"}
	}
	return nil
}

func validateKeepalive(seconds int) error {
	if seconds < 0 || seconds > 3600 {
		return &ValidationError{Field: "keepalive", Msg: "must be in [0, 3600]"}
	}
	return nil
}

func validatePort(port int) error {
	if port < 1024 || port > 65535 {
		return &ValidationError{Field: "port", Msg: "must be in [1024, 65535]"}
	}
	return nil
}

// Адрес peer'а: sentinel "auto" либо IPv4-литерал.
// Принадлежность подсети и занятость проверяет аллокатор.
func validatePeerAddress(addr string) error {
	if addr == "" || addr == AutoAddress {
		return nil
	}
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return &ValidationError{Field: "ip", Msg: "literal IPv4 address or \"auto\""}
	}
	return nil
}

func validateCIDRList(field string, cidrs []string) error {
	for _, c := range cidrs {
		if _, _, err := net.ParseCIDR(c); err != nil {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("bad CIDR %q", c)}
		}
	}
	return nil
}

func validateAddrList(field string, addrs []string) error {
	for _, a := range addrs {
		if net.ParseIP(a) == nil {
			return &ValidationError{Field: field, Msg: fmt.Sprintf("bad address %q", a)}
		}
	}
	return nil
}
