package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const (
	// Prefix starts every plaintext key.
	Prefix       = "gcrm_"
	randomBytes  = 32
	displayChars = 12
)

var (
	ErrNotFound   = core.NotFoundError{Resource: "api key"}
	ErrInvalidKey = errors.New("invalid api key")
)

type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"` // first characters of the key, for display
	KeyHash    string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Created is returned once, on creation; Key is never stored.
type Created struct {
	APIKey
	Key string `json:"key"`
}

type NewAPIKey struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (nk *NewAPIKey) Validate(validate *validator.Validate) error {
	nk.Name = core.CleanString(nk.Name)
	return validate.Struct(nk)
}

type (
	Repository interface {
		Create(ctx context.Context, k APIKey) (APIKey, error)
		GetByHash(ctx context.Context, hash string) (APIKey, error)
		ListByUser(ctx context.Context, userID string) ([]APIKey, error)
		// Delete removes the key if owned by userID.
		Delete(ctx context.Context, id, userID string) error
		TouchLastUsed(ctx context.Context, id string, at time.Time) error
	}

	ProfileFinder interface {
		GetByID(ctx context.Context, id string) (profile.Profile, error)
	}

	Service struct {
		repo     Repository
		profiles ProfileFinder
		logger   core.Logger
	}
)

func NewService(repo Repository, profiles ProfileFinder, logger core.Logger) *Service {
	return &Service{repo: repo, profiles: profiles, logger: logger}
}

// Hash returns the hex encoded SHA-256 of a plaintext key.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func generate() (string, error) {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func (svc *Service) Create(ctx context.Context, actor profile.Profile, nk NewAPIKey) (Created, error) {
	key, err := generate()
	if err != nil {
		return Created{}, errors.Wrap(err, "generating key")
	}
	k, err := svc.repo.Create(ctx, APIKey{
		UserID:    actor.ID,
		Name:      nk.Name,
		Prefix:    key[:displayChars],
		KeyHash:   Hash(key),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Created{}, errors.Wrap(err, "creating api key")
	}
	return Created{APIKey: k, Key: key}, nil
}

func (svc *Service) List(ctx context.Context, actor profile.Profile) ([]APIKey, error) {
	keys, err := svc.repo.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrap(err, "listing api keys")
	}
	if keys == nil {
		keys = []APIKey{}
	}
	return keys, nil
}

func (svc *Service) Delete(ctx context.Context, actor profile.Profile, id string) error {
	return svc.repo.Delete(ctx, id, actor.ID)
}

// Authenticate returns the active owner of a plaintext key and records its use.
func (svc *Service) Authenticate(ctx context.Context, key string) (profile.Profile, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, Prefix) {
		return profile.Profile{}, ErrInvalidKey
	}

	k, err := svc.repo.GetByHash(ctx, Hash(key))
	if err != nil {
		if core.IsNotFound(err) {
			return profile.Profile{}, ErrInvalidKey
		}
		return profile.Profile{}, errors.Wrap(err, "getting api key")
	}
	if !k.IsActive {
		return profile.Profile{}, ErrInvalidKey
	}

	owner, err := svc.profiles.GetByID(ctx, k.UserID)
	if err != nil {
		if core.IsNotFound(err) {
			return profile.Profile{}, ErrInvalidKey
		}
		return profile.Profile{}, errors.Wrap(err, "getting key owner")
	}
	if !owner.IsActive {
		return profile.Profile{}, ErrInvalidKey
	}

	if err = svc.repo.TouchLastUsed(ctx, k.ID, time.Now().UTC()); err != nil {
		svc.logger.Warn("updating api key last use", err)
	}
	return owner, nil
}
