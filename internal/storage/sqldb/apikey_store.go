package sqldb

import (
	"context"
	"time"

	"github.com/goodtune/dwelltime/internal/storage"
	"gorm.io/gorm"
)

type apiKeyStore struct {
	db *gorm.DB
}

func (s *apiKeyStore) Create(ctx context.Context, key storage.APIKey) error {
	row := apiKey{
		Digest:    key.Digest,
		CreatedAt: key.CreatedAt.UTC(),
		ExpiresAt: key.ExpiresAt.UTC(),
	}
	return translate(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *apiKeyStore) Get(ctx context.Context, digest string) (*storage.APIKey, error) {
	var row apiKey
	if err := s.db.WithContext(ctx).Where("digest = ?", digest).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	return &storage.APIKey{
		Digest:    row.Digest,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *apiKeyStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", cutoff.UTC()).Delete(&apiKey{})
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return int(res.RowsAffected), nil
}
