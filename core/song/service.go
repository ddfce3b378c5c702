package song

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

var ErrNotFound = core.NotFoundError{Resource: "song"}

type (
	Repository interface {
		Create(ctx context.Context, s Song) (Song, error)
		// Get ignores soft deleted songs.
		Get(ctx context.Context, id string) (Song, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]Song, int, error)
		Update(ctx context.Context, s Song) (Song, error)
		SoftDelete(ctx context.Context, id string, at time.Time) error
		// IsLinkedToStudent reports whether the song is part of one of the student's lessons.
		IsLinkedToStudent(ctx context.Context, songID, studentID string) (bool, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, actor profile.Profile, in SongInput) (Song, error) {
	if !actor.IsStaff() {
		return Song{}, core.ErrForbidden
	}
	now := time.Now().UTC()
	s := Song{CreatedAt: now, UpdatedAt: now}
	in.apply(&s)

	s, err := svc.repo.Create(ctx, s)
	return s, errors.Wrap(err, "creating song")
}

// Get returns a song; students only see songs from their lessons.
func (svc *Service) Get(ctx context.Context, actor profile.Profile, id string) (Song, error) {
	s, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Song{}, err
	}
	if !actor.IsStaff() {
		linked, err := svc.repo.IsLinkedToStudent(ctx, id, actor.ID)
		if err != nil {
			return Song{}, errors.Wrap(err, "checking song access")
		}
		if !linked {
			return Song{}, ErrNotFound
		}
	}
	return s, nil
}

func (svc *Service) Query(ctx context.Context, actor profile.Profile, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) (core.Page[Song], error) {
	filter.Clean()
	page.Clean()
	if !actor.IsStaff() {
		filter.StudentID = actor.ID
	}

	songs, total, err := svc.repo.Query(ctx, filter, CleanOrdering(ordering), page)
	if err != nil {
		return core.Page[Song]{}, errors.Wrap(err, "querying songs")
	}
	return core.NewPage(songs, total, page), nil
}

func (svc *Service) Update(ctx context.Context, actor profile.Profile, id string, in SongInput) (Song, error) {
	if !actor.IsStaff() {
		return Song{}, core.ErrForbidden
	}
	s, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Song{}, err
	}
	in.apply(&s)
	s.UpdatedAt = time.Now().UTC()

	s, err = svc.repo.Update(ctx, s)
	return s, errors.Wrap(err, "updating song")
}

// Delete soft deletes a song; it stays attached to past lessons.
func (svc *Service) Delete(ctx context.Context, actor profile.Profile, id string) error {
	if !actor.IsStaff() {
		return core.ErrForbidden
	}
	if _, err := svc.repo.Get(ctx, id); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.SoftDelete(ctx, id, time.Now().UTC()), "deleting song")
}
