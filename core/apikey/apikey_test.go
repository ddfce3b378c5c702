package apikey_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
	testutil "github.com/PiotrRomanczuk/guitar-crm-sub014/tests"
)

func TestHash(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", apikey.Hash("hello"))
	assert.NotEqual(t, apikey.Hash("gcrm_a"), apikey.Hash("gcrm_b"))
}

func TestService(t *testing.T) {
	ctx := context.Background()
	db, err := dummydb.Open()
	require.NoError(t, err)

	profiles := dummydb.NewProfileRepository(db)
	repo := dummydb.NewAPIKeyRepository(db)
	svc := apikey.NewService(repo, testutil.ProfileFinder{Repo: profiles}, logsvc.NewRollbarLogger(io.Discard, core.Conf))

	admin := testutil.CreateProfile(t, profiles, "Admin", "admin", "admin@test.test", "", []string{profile.RoleAdmin}, true)
	other := testutil.CreateProfile(t, profiles, "Other", "other", "other@test.test", "", []string{profile.RoleAdmin}, true)

	created, err := svc.Create(ctx, admin, apikey.NewAPIKey{Name: "widget"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, apikey.Prefix))
	assert.Equal(t, created.Key[:len(created.Prefix)], created.Prefix)
	assert.Equal(t, apikey.Hash(created.Key), created.KeyHash)
	assert.True(t, created.IsActive)

	keys, err := svc.List(ctx, admin)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "widget", keys[0].Name)
	assert.True(t, keys[0].LastUsedAt.IsZero())

	keys, err = svc.List(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, keys)

	t.Run("authenticate", func(t *testing.T) {
		tests := []struct {
			name    string
			key     string
			wantErr error
		}{
			{name: "empty", key: "", wantErr: apikey.ErrInvalidKey},
			{name: "missing prefix", key: strings.TrimPrefix(created.Key, apikey.Prefix), wantErr: apikey.ErrInvalidKey},
			{name: "unknown", key: apikey.Prefix + "lol", wantErr: apikey.ErrInvalidKey},
			{name: "valid", key: created.Key},
			{name: "surrounding spaces", key: "  " + created.Key + " "},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				owner, err := svc.Authenticate(ctx, tt.key)
				if tt.wantErr != nil {
					assert.Equal(t, tt.wantErr, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, admin.ID, owner.ID)
			})
		}

		keys, err := svc.List(ctx, admin)
		require.NoError(t, err)
		assert.False(t, keys[0].LastUsedAt.IsZero())
	})

	t.Run("inactive owner", func(t *testing.T) {
		inactive := testutil.CreateProfile(t, profiles, "Gone", "gone", "gone@test.test", "", []string{profile.RoleAdmin}, false)
		k, err := svc.Create(ctx, inactive, apikey.NewAPIKey{Name: "old"})
		require.NoError(t, err)
		_, err = svc.Authenticate(ctx, k.Key)
		assert.Equal(t, apikey.ErrInvalidKey, err)
	})

	t.Run("delete", func(t *testing.T) {
		assert.True(t, core.IsNotFound(svc.Delete(ctx, other, created.ID)))
		require.NoError(t, svc.Delete(ctx, admin, created.ID))
		_, err := svc.Authenticate(ctx, created.Key)
		assert.Equal(t, apikey.ErrInvalidKey, err)
	})
}
