package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
)

const apiKeysTable = "api_keys"

var apiKeyColumns = []string{"id", "user_id", "name", "prefix", "key_hash", "is_active", "last_used_at", "created_at"}

type apiKeyRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Name       string    `db:"name"`
	Prefix     string    `db:"prefix"`
	KeyHash    string    `db:"key_hash"`
	IsActive   bool      `db:"is_active"`
	LastUsedAt null.Time `db:"last_used_at"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r apiKeyRow) unboil() apikey.APIKey {
	return apikey.APIKey{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Prefix:     r.Prefix,
		KeyHash:    r.KeyHash,
		IsActive:   r.IsActive,
		LastUsedAt: timeOf(r.LastUsedAt),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type apiKeyRepository struct {
	base
}

var _ apikey.Repository = (*apiKeyRepository)(nil) // interface compliance check

func NewAPIKeyRepository(exec core.DBExecutor) *apiKeyRepository {
	return &apiKeyRepository{base{exec: exec}}
}

func (repo apiKeyRepository) Create(ctx context.Context, k apikey.APIKey) (apikey.APIKey, error) {
	k.ID = uuid.NewString()
	_, err := repo.run(ctx, psql.Insert(apiKeysTable).
		Columns(apiKeyColumns...).
		Values(k.ID, k.UserID, k.Name, k.Prefix, k.KeyHash, k.IsActive, nullTime(k.LastUsedAt), k.CreatedAt.UTC()))
	if err != nil {
		return apikey.APIKey{}, trapErr(err, apikey.ErrNotFound, "inserting api key")
	}
	return k, nil
}

func (repo apiKeyRepository) GetByHash(ctx context.Context, hash string) (apikey.APIKey, error) {
	var row apiKeyRow
	query := psql.Select(apiKeyColumns...).From(apiKeysTable).Where(sq.Eq{"key_hash": hash})
	if err := repo.get(ctx, &row, query); err != nil {
		return apikey.APIKey{}, trapErr(err, apikey.ErrNotFound, "getting api key")
	}
	return row.unboil(), nil
}

func (repo apiKeyRepository) ListByUser(ctx context.Context, userID string) ([]apikey.APIKey, error) {
	if !validID(userID) {
		return []apikey.APIKey{}, nil
	}
	var rows []apiKeyRow
	query := psql.Select(apiKeyColumns...).From(apiKeysTable).Where(sq.Eq{"user_id": userID}).OrderBy("created_at DESC")
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing api keys")
	}
	keys := make([]apikey.APIKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.unboil())
	}
	return keys, nil
}

func (repo apiKeyRepository) Delete(ctx context.Context, id, userID string) error {
	if !validID(id) || !validID(userID) {
		return apikey.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Delete(apiKeysTable).Where(sq.Eq{"id": id, "user_id": userID}))
	if err != nil {
		return errors.Wrap(err, "deleting api key")
	}
	if n == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

func (repo apiKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return apikey.ErrNotFound
	}
	_, err := repo.run(ctx, psql.Update(apiKeysTable).Set("last_used_at", at.UTC()).Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "touching api key")
}
