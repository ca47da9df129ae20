package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"

	"warren/internal/models"
	"warren/internal/repo"
)

// Service — выпуск и проверка API-токенов. Токен отдаётся один раз в виде
// "<keyID>.<secret-hex>", в БД живёт только argon2-хэш секрета.
type Service struct{ Store *repo.TokenStore }

func New(store *repo.TokenStore) *Service { return &Service{Store: store} }

const saltLabel = "warren-api"

func hashSecret(secret []byte) []byte {
	return argon2.IDKey(secret, []byte(saltLabel), 1, 64*1024, 1, 32)
}

func (s *Service) Issue(ctx context.Context, scope string) (token string, err error) {
	var raw [32]byte
	_, _ = rand.Read(raw[:])
	keyID := hex.EncodeToString(raw[:6]) // короткий id
	err = s.Store.Create(ctx, &models.APIToken{
		KeyID:      keyID,
		SecretHash: hashSecret(raw[:]),
		Scope:      scope,
	})
	if err != nil {
		return "", err
	}
	return keyID + "." + hex.EncodeToString(raw[:]), nil
}

// Verify принимает токен в presented-виде и сверяет его с активной записью.
func (s *Service) Verify(ctx context.Context, token string) bool {
	keyID, secretHex, ok := strings.Cut(token, ".")
	if !ok {
		return false
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return false
	}
	rec, err := s.Store.GetActive(ctx, keyID)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(hashSecret(secret), rec.SecretHash) == 1
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	return s.Store.Revoke(ctx, keyID)
}
