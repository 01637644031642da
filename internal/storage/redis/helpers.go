package redis

import (
	"fmt"
	"time"

	"github.com/goodtune/dwelltime/internal/storage"
)

func apiKeyKey(digest string) string {
	return keyPrefix + "apikey:" + digest
}

func expiryIndexKey() string {
	return keyPrefix + "apikeys:expiry"
}

// parseAPIKey converts a Redis hash to APIKey
func parseAPIKey(data map[string]string) (*storage.APIKey, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, data["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	return &storage.APIKey{
		Digest:    data["digest"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}
