package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"warren/internal/models"
)

var ErrTokenNotFound = errors.New("api token not found")

type TokenStore struct{ db *gorm.DB }

func NewTokenStore(db *gorm.DB) *TokenStore { return &TokenStore{db: db} }

func (s *TokenStore) Create(ctx context.Context, t *models.APIToken) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *TokenStore) GetActive(ctx context.Context, keyID string) (*models.APIToken, error) {
	var t models.APIToken
	err := s.db.WithContext(ctx).Where("key_id = ? AND revoked_at IS NULL", keyID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TokenStore) Revoke(ctx context.Context, keyID string) error {
	return s.db.WithContext(ctx).Model(&models.APIToken{}).
		Where("key_id = ?", keyID).
		Update("revoked_at", time.Now().UTC()).Error
}
