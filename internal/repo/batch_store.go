package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"warren/internal/models"
)

var ErrRunNotFound = errors.New("batch run not found")

// BatchRunStore — аудиторские записи пакетных прогонов.
// При nil-БД запись тихо пропускается: ledger уходит вызывающему в ответе.
type BatchRunStore struct{ db *gorm.DB }

func NewBatchRunStore(db *gorm.DB) *BatchRunStore { return &BatchRunStore{db: db} }

func (s *BatchRunStore) Save(ctx context.Context, run *models.BatchRun) error {
	if s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *BatchRunStore) Get(ctx context.Context, uuid string) (*models.BatchRun, error) {
	if s.db == nil {
		return nil, ErrRunNotFound
	}
	var run models.BatchRun
	err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List — последние прогоны, свежие сверху; tunnel == "" — по всем.
func (s *BatchRunStore) List(ctx context.Context, tunnel string, limit int) ([]models.BatchRun, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id desc").Limit(limit)
	if tunnel != "" {
		q = q.Where("tunnel_name = ?", tunnel)
	}
	var runs []models.BatchRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
