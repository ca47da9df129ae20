package wireguard

import (
	"errors"
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ErrKeyGenFailed — фатальная для окружения ошибка: ретраев нет,
// решение (переустановить зависимости и повторить) — за вызывающим.
var ErrKeyGenFailed = errors.New("KeyGenFailed")

type Keypair struct {
	Private string
	Public  string
}

// KeyProvider — внешний генератор ключевого материала.
// Ядро обращается с ключами как с непрозрачными строками.
type KeyProvider interface {
	GenerateKeypair() (Keypair, error)
	GeneratePresharedSecret() (string, error)
}

// Provider — боевая реализация поверх wgtypes (Curve25519).
type Provider struct{}

func NewProvider() Provider { return Provider{} }

func (Provider) GenerateKeypair() (Keypair, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
	}
	return Keypair{Private: priv.String(), Public: priv.PublicKey().String()}, nil
}

func (Provider) GeneratePresharedSecret() (string, error) {
	psk, err := wgtypes.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyGenFailed, err)
	}
	return psk.String(), nil
}
