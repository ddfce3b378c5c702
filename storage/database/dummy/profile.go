package dummydb

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

type profileRepository struct {
	db *table[profile.Profile]
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *DB) *profileRepository {
	return &profileRepository{db: db.profiles}
}

func profileField(p profile.Profile, field string) interface{} {
	switch field {
	case "email":
		return p.Email
	case "username":
		return p.Username
	case "first_name":
		return p.FirstName
	case "last_name":
		return p.LastName
	case "updated_at":
		return p.UpdatedAt
	case "last_login":
		return p.LastLogin
	}
	return p.CreatedAt
}

func (repo *profileRepository) CheckUniqueness(_ context.Context, username, email, excludedID string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, p := range repo.db.rows {
		if p.ID == excludedID {
			continue
		}
		if username != "" && p.Username == username {
			return profile.ErrUsernameExists
		}
		if p.Email == email {
			return profile.ErrEmailExists
		}
	}
	return nil
}

func (repo *profileRepository) Create(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = newID()
	repo.db.rows[p.ID] = &p
	return p, nil
}

func (repo *profileRepository) Get(_ context.Context, id string) (profile.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.rows[id]; ok {
		return *p, nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) find(match func(profile.Profile) bool) (profile.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if found := repo.db.all(match); len(found) > 0 {
		return found[0], nil
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) GetByEmail(_ context.Context, email string) (profile.Profile, error) {
	return repo.find(func(p profile.Profile) bool { return p.Email == email })
}

func (repo *profileRepository) GetByUsernameOrEmail(_ context.Context, login string) (profile.Profile, error) {
	return repo.find(func(p profile.Profile) bool {
		return p.Email == login || (p.Username != "" && p.Username == login)
	})
}

func matchProfile(f profile.QueryFilter) func(profile.Profile) bool {
	return func(p profile.Profile) bool {
		if f.Search != "" && !(contains(p.FirstName, f.Search) || contains(p.LastName, f.Search) ||
			contains(p.Username, f.Search) || contains(p.Email, f.Search)) {
			return false
		}
		switch f.Role {
		case "":
		case profile.RoleAdmin:
			if !p.IsAdmin {
				return false
			}
		case profile.RoleTeacher:
			if !p.IsTeacher {
				return false
			}
		case profile.RoleStudent:
			if !p.IsStudent {
				return false
			}
		default:
			return false
		}
		if f.IsActive != nil && p.IsActive != *f.IsActive {
			return false
		}
		return f.StudentStatus == "" || p.StudentStatus == f.StudentStatus
	}
}

func (repo *profileRepository) Query(_ context.Context, filter profile.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]profile.Profile, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	profiles := repo.db.all(matchProfile(filter))
	orderItems(profiles, ordering, profileField)
	return paginate(profiles, page), len(profiles), nil
}

func (repo *profileRepository) ListStudents(_ context.Context, status string) ([]profile.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := repo.db.all(func(p profile.Profile) bool {
		return p.IsStudent && (status == "" || p.StudentStatus == status)
	})
	orderItems(students, []core.DBOrdering{{Field: "created_at", Ascending: true}}, profileField)
	return students, nil
}

func (repo *profileRepository) ListTeachers(_ context.Context) ([]profile.Profile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	teachers := repo.db.all(func(p profile.Profile) bool { return p.IsTeacher })
	orderItems(teachers, []core.DBOrdering{{Field: "created_at", Ascending: true}}, profileField)
	return teachers, nil
}

func (repo *profileRepository) Update(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[p.ID]; !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	repo.db.rows[p.ID] = &p
	return p, nil
}

func (repo *profileRepository) UpdateStudentStatus(_ context.Context, ids []string, status string, changedAt time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, id := range ids {
		if p, ok := repo.db.rows[id]; ok && p.IsStudent {
			p.StudentStatus = status
			p.StatusChangedAt = changedAt.UTC()
			p.UpdatedAt = changedAt.UTC()
		}
	}
	return nil
}

func (repo *profileRepository) Delete(_ context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, id := range ids {
		delete(repo.db.rows, id)
	}
	return nil
}
