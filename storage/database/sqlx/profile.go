package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const profilesTable = "profiles"

var profileColumns = []string{
	"id", "email", "username", "first_name", "last_name", "bio",
	"is_admin", "is_teacher", "is_student", "is_active", "is_test",
	"student_status", "status_changed_at", "notifications_enabled", "bounce_count",
	"password_hash", "created_at", "updated_at", "last_login",
}

type profileRow struct {
	ID                   string      `db:"id"`
	Email                string      `db:"email"`
	Username             null.String `db:"username"`
	FirstName            string      `db:"first_name"`
	LastName             string      `db:"last_name"`
	Bio                  string      `db:"bio"`
	IsAdmin              bool        `db:"is_admin"`
	IsTeacher            bool        `db:"is_teacher"`
	IsStudent            bool        `db:"is_student"`
	IsActive             bool        `db:"is_active"`
	IsTest               bool        `db:"is_test"`
	StudentStatus        string      `db:"student_status"`
	StatusChangedAt      null.Time   `db:"status_changed_at"`
	NotificationsEnabled bool        `db:"notifications_enabled"`
	BounceCount          int         `db:"bounce_count"`
	PasswordHash         null.Bytes  `db:"password_hash"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
	LastLogin            null.Time   `db:"last_login"`
}

func boilProfile(p profile.Profile) profileRow {
	return profileRow{
		ID:                   p.ID,
		Email:                p.Email,
		Username:             nullString(p.Username),
		FirstName:            p.FirstName,
		LastName:             p.LastName,
		Bio:                  p.Bio,
		IsAdmin:              p.IsAdmin,
		IsTeacher:            p.IsTeacher,
		IsStudent:            p.IsStudent,
		IsActive:             p.IsActive,
		IsTest:               p.IsTest,
		StudentStatus:        p.StudentStatus,
		StatusChangedAt:      nullTime(p.StatusChangedAt),
		NotificationsEnabled: p.NotificationsEnabled,
		BounceCount:          p.BounceCount,
		PasswordHash:         nullBytes(p.PasswordHash),
		CreatedAt:            p.CreatedAt.UTC(),
		UpdatedAt:            p.UpdatedAt.UTC(),
		LastLogin:            nullTime(p.LastLogin),
	}
}

func (r profileRow) unboil() profile.Profile {
	return profile.Profile{
		ID:                   r.ID,
		Email:                r.Email,
		Username:             r.Username.String,
		FirstName:            r.FirstName,
		LastName:             r.LastName,
		Bio:                  r.Bio,
		IsAdmin:              r.IsAdmin,
		IsTeacher:            r.IsTeacher,
		IsStudent:            r.IsStudent,
		IsActive:             r.IsActive,
		IsTest:               r.IsTest,
		StudentStatus:        r.StudentStatus,
		StatusChangedAt:      timeOf(r.StatusChangedAt),
		NotificationsEnabled: r.NotificationsEnabled,
		BounceCount:          r.BounceCount,
		PasswordHash:         r.PasswordHash.Bytes,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
		LastLogin:            timeOf(r.LastLogin),
	}
}

func (r profileRow) values() map[string]interface{} {
	return map[string]interface{}{
		"email":                 r.Email,
		"username":              r.Username,
		"first_name":            r.FirstName,
		"last_name":             r.LastName,
		"bio":                   r.Bio,
		"is_admin":              r.IsAdmin,
		"is_teacher":            r.IsTeacher,
		"is_student":            r.IsStudent,
		"is_active":             r.IsActive,
		"is_test":               r.IsTest,
		"student_status":        r.StudentStatus,
		"status_changed_at":     r.StatusChangedAt,
		"notifications_enabled": r.NotificationsEnabled,
		"bounce_count":          r.BounceCount,
		"password_hash":         r.PasswordHash,
		"created_at":            r.CreatedAt,
		"updated_at":            r.UpdatedAt,
		"last_login":            r.LastLogin,
	}
}

func unboilProfiles(rows []profileRow) []profile.Profile {
	profiles := make([]profile.Profile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, r.unboil())
	}
	return profiles
}

type profileRepository struct {
	base
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(exec core.DBExecutor) *profileRepository {
	return &profileRepository{base{exec: exec}}
}

func (repo profileRepository) selectProfiles() sq.SelectBuilder {
	return psql.Select(profileColumns...).From(profilesTable)
}

func (repo profileRepository) CheckUniqueness(ctx context.Context, username, email, excludedID string) error {
	match := sq.Or{sq.Eq{"email": email}}
	if username != "" {
		match = append(match, sq.Eq{"username": username})
	}
	query := psql.Select("email", "username").From(profilesTable).Where(match)
	if validID(excludedID) {
		query = query.Where(sq.NotEq{"id": excludedID})
	}

	var rows []profileRow
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return errors.Wrap(err, "checking profile uniqueness")
	}
	for _, r := range rows {
		if username != "" && r.Username.String == username {
			return profile.ErrUsernameExists
		}
	}
	if len(rows) > 0 {
		return profile.ErrEmailExists
	}
	return nil
}

func (repo profileRepository) Create(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	p.ID = uuid.NewString()
	row := boilProfile(p)
	vals := row.values()
	vals["id"] = row.ID

	if _, err := repo.run(ctx, psql.Insert(profilesTable).SetMap(vals)); err != nil {
		return profile.Profile{}, trapErr(err, profile.ErrNotFound, "inserting profile")
	}
	return row.unboil(), nil
}

func (repo profileRepository) getBy(ctx context.Context, where sq.Sqlizer) (profile.Profile, error) {
	var row profileRow
	if err := repo.get(ctx, &row, repo.selectProfiles().Where(where).Limit(1)); err != nil {
		return profile.Profile{}, trapErr(err, profile.ErrNotFound, "getting profile")
	}
	return row.unboil(), nil
}

func (repo profileRepository) Get(ctx context.Context, id string) (profile.Profile, error) {
	if !validID(id) {
		return profile.Profile{}, profile.ErrNotFound
	}
	return repo.getBy(ctx, sq.Eq{"id": id})
}

func (repo profileRepository) GetByEmail(ctx context.Context, email string) (profile.Profile, error) {
	return repo.getBy(ctx, sq.Eq{"email": email})
}

func (repo profileRepository) GetByUsernameOrEmail(ctx context.Context, login string) (profile.Profile, error) {
	return repo.getBy(ctx, sq.Or{sq.Eq{"username": login}, sq.Eq{"email": login}})
}

func profileWhere(f profile.QueryFilter) sq.And {
	where := sq.And{}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, sq.Or{
			sq.ILike{"first_name": like},
			sq.ILike{"last_name": like},
			sq.ILike{"username": like},
			sq.ILike{"email": like},
		})
	}
	switch f.Role {
	case "":
	case profile.RoleAdmin:
		where = append(where, sq.Eq{"is_admin": true})
	case profile.RoleTeacher:
		where = append(where, sq.Eq{"is_teacher": true})
	case profile.RoleStudent:
		where = append(where, sq.Eq{"is_student": true})
	default:
		where = append(where, sq.Expr("FALSE"))
	}
	if f.IsActive != nil {
		where = append(where, sq.Eq{"is_active": *f.IsActive})
	}
	if f.StudentStatus != "" {
		where = append(where, sq.Eq{"student_status": f.StudentStatus})
	}
	return where
}

func (repo profileRepository) Query(ctx context.Context, filter profile.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]profile.Profile, int, error) {
	where := profileWhere(filter)

	total, err := repo.count(ctx, psql.Select("COUNT(*)").From(profilesTable).Where(where))
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting profiles")
	}

	var rows []profileRow
	query := paginate(repo.selectProfiles().Where(where).OrderBy(orderBy(ordering)...), page)
	if err = repo.selectAll(ctx, &rows, query); err != nil {
		return nil, 0, errors.Wrap(err, "querying profiles")
	}
	return unboilProfiles(rows), total, nil
}

func (repo profileRepository) ListStudents(ctx context.Context, status string) ([]profile.Profile, error) {
	where := sq.And{sq.Eq{"is_student": true}}
	if status != "" {
		where = append(where, sq.Eq{"student_status": status})
	}
	var rows []profileRow
	if err := repo.selectAll(ctx, &rows, repo.selectProfiles().Where(where).OrderBy("created_at")); err != nil {
		return nil, errors.Wrap(err, "listing students")
	}
	return unboilProfiles(rows), nil
}

func (repo profileRepository) ListTeachers(ctx context.Context) ([]profile.Profile, error) {
	var rows []profileRow
	if err := repo.selectAll(ctx, &rows, repo.selectProfiles().Where(sq.Eq{"is_teacher": true}).OrderBy("created_at")); err != nil {
		return nil, errors.Wrap(err, "listing teachers")
	}
	return unboilProfiles(rows), nil
}

func (repo profileRepository) Update(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if !validID(p.ID) {
		return profile.Profile{}, profile.ErrNotFound
	}
	row := boilProfile(p)
	n, err := repo.run(ctx, psql.Update(profilesTable).SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return profile.Profile{}, trapErr(err, profile.ErrNotFound, "updating profile")
	}
	if n == 0 {
		return profile.Profile{}, profile.ErrNotFound
	}
	return row.unboil(), nil
}

func (repo profileRepository) UpdateStudentStatus(ctx context.Context, ids []string, status string, changedAt time.Time) error {
	if ids = validIDs(ids); len(ids) == 0 {
		return nil
	}
	_, err := repo.run(ctx, psql.Update(profilesTable).
		Set("student_status", status).
		Set("status_changed_at", changedAt.UTC()).
		Set("updated_at", changedAt.UTC()).
		Where(sq.Eq{"id": ids, "is_student": true}))
	return errors.Wrap(err, "updating student status")
}

func (repo profileRepository) Delete(ctx context.Context, ids ...string) error {
	if ids = validIDs(ids); len(ids) == 0 {
		return nil
	}
	_, err := repo.run(ctx, psql.Delete(profilesTable).Where(sq.Eq{"id": ids}))
	return errors.Wrap(err, "deleting profiles")
}
