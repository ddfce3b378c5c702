package dummydb

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
)

type apiKeyRepository struct {
	db *table[apikey.APIKey]
}

var _ apikey.Repository = (*apiKeyRepository)(nil) // interface compliance check

func NewAPIKeyRepository(db *DB) *apiKeyRepository {
	return &apiKeyRepository{db: db.apiKeys}
}

func (repo *apiKeyRepository) Create(_ context.Context, k apikey.APIKey) (apikey.APIKey, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.rows {
		if existing.KeyHash == k.KeyHash {
			return apikey.APIKey{}, core.ErrConflict
		}
	}
	k.ID = newID()
	repo.db.rows[k.ID] = &k
	return k, nil
}

func (repo *apiKeyRepository) GetByHash(_ context.Context, hash string) (apikey.APIKey, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	found := repo.db.all(func(k apikey.APIKey) bool { return k.KeyHash == hash })
	if len(found) == 0 {
		return apikey.APIKey{}, apikey.ErrNotFound
	}
	return found[0], nil
}

func (repo *apiKeyRepository) ListByUser(_ context.Context, userID string) ([]apikey.APIKey, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	keys := repo.db.all(func(k apikey.APIKey) bool { return k.UserID == userID })
	orderItems(keys, []core.DBOrdering{{Field: "created_at"}}, func(k apikey.APIKey, _ string) interface{} { return k.CreatedAt })
	return keys, nil
}

func (repo *apiKeyRepository) Delete(_ context.Context, id, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	k, ok := repo.db.rows[id]
	if !ok || k.UserID != userID {
		return apikey.ErrNotFound
	}
	delete(repo.db.rows, id)
	return nil
}

func (repo *apiKeyRepository) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	k, ok := repo.db.rows[id]
	if !ok {
		return apikey.ErrNotFound
	}
	k.LastUsedAt = at.UTC()
	return nil
}
