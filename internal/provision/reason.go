package provision

import (
	"errors"

	"warren/internal/alloc"
	"warren/internal/registry"
	"warren/internal/system"
	"warren/internal/vpn/wireguard"
)

// Reason сводит ошибку к machine-readable коду для ledger'а и API.
// Коды стабильны, на них опираются тесты и вызывающие.
func Reason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "ValidationError:" + ve.Field
	}
	switch {
	case errors.Is(err, registry.ErrDuplicateName):
		return "DuplicateName"
	case errors.Is(err, registry.ErrReservedName):
		return "ReservedName"
	case errors.Is(err, registry.ErrUnknownTunnel):
		return "UnknownTunnel"
	case errors.Is(err, registry.ErrNotFound):
		return "NotFound"
	case errors.Is(err, alloc.ErrPortRangeExhausted):
		return "PortRangeExhausted"
	case errors.Is(err, alloc.ErrSubnetPoolExhausted):
		return "SubnetPoolExhausted"
	case errors.Is(err, alloc.ErrAddressPoolExhausted):
		return "AddressPoolExhausted"
	case errors.Is(err, alloc.ErrAddressConflict):
		return "AddressConflict"
	case errors.Is(err, wireguard.ErrKeyGenFailed):
		return "KeyGenFailed"
	case errors.Is(err, system.ErrDependencyMissing):
		return "DependencyMissing"
	}
	return "InternalError"
}

// Fatal — ошибки окружения, после которых продолжать прогон бессмысленно.
func Fatal(err error) bool {
	return errors.Is(err, wireguard.ErrKeyGenFailed) || errors.Is(err, system.ErrDependencyMissing)
}
