package profile

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

var (
	// errors
	ErrNotFound             = core.NotFoundError{Resource: "profile"}
	ErrEmailExists          = errors.New("a profile with this email already exists")
	ErrUsernameExists       = errors.New("a profile with this username already exists")
	ErrCannotDeleteSelf     = errors.New("you cannot delete your own profile")
	errNoPermsToSetRoles    = "not enough rights to set these roles"
	errTeacherStudentsOnly  = "teachers can only create students"
	errInvalidResetLink     = errors.New("invalid password reset link")
	errPasswordResetExpired = errors.New("password reset link has expired")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists when another profile
		// (other than excludedID) holds the username or email.
		CheckUniqueness(ctx context.Context, username, email, excludedID string) error
		Create(ctx context.Context, p Profile) (Profile, error)
		Get(ctx context.Context, id string) (Profile, error)
		GetByEmail(ctx context.Context, email string) (Profile, error)
		GetByUsernameOrEmail(ctx context.Context, login string) (Profile, error)
		// Query applies AND operation on the filter fields.
		// QueryFilter.Search does a case-insensitive match on names, username or email.
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]Profile, int, error)
		ListStudents(ctx context.Context, status string) ([]Profile, error)
		ListTeachers(ctx context.Context) ([]Profile, error)
		Update(ctx context.Context, p Profile) (Profile, error)
		UpdateStudentStatus(ctx context.Context, ids []string, status string, changedAt time.Time) error
		Delete(ctx context.Context, ids ...string) error
	}

	Service struct {
		repo     Repository
		mailSvc  core.EmailService
		notifier notification.Queuer
		logger   core.Logger
	}
)

var _ notification.RecipientStore = (*Service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, notifier notification.Queuer, logger core.Logger) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, notifier: notifier, logger: logger}
}

func (svc *Service) checkUniqueness(ctx context.Context, uname, email, excludedID string) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, excludedID); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Create adds a profile. Admins may create any role; teachers may only create students.
func (svc *Service) Create(ctx context.Context, actor Profile, np NewProfile) (Profile, error) {
	if !actor.IsStaff() {
		return Profile{}, core.ErrForbidden
	}
	if !actor.IsAdmin {
		if len(np.Roles) != 1 || np.Roles[0] != RoleStudent {
			return Profile{}, core.NewFieldError("roles", errTeacherStudentsOnly)
		}
	}
	if maxRolePriority(np.Roles) > RolePriority(actor.Role()) {
		return Profile{}, core.NewFieldError("roles", errNoPermsToSetRoles)
	}
	if err := svc.checkUniqueness(ctx, np.Username, np.Email, ""); err != nil {
		return Profile{}, err
	}

	now := time.Now().UTC()
	p := Profile{
		Email:                np.Email,
		Username:             np.Username,
		FirstName:            np.FirstName,
		LastName:             np.LastName,
		Bio:                  np.Bio,
		IsActive:             true,
		IsTest:               np.IsTest,
		StudentStatus:        StatusActive,
		NotificationsEnabled: true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	p.SetRoles(np.Roles...)
	if p.IsStudent {
		p.StatusChangedAt = now
	}
	if np.Password != "" {
		if err := p.SetPassword(np.Password); err != nil {
			return Profile{}, errors.Wrap(err, "hashing password")
		}
	}

	p, err := svc.repo.Create(ctx, p)
	if err != nil {
		return Profile{}, errors.Wrap(err, "creating profile")
	}

	if p.IsStudent && !p.IsTest {
		svc.queueWelcome(ctx, actor, p)
	}
	return p, nil
}

func (svc *Service) queueWelcome(ctx context.Context, actor, student Profile) {
	_, err := svc.notifier.Queue(ctx, notification.Params{
		Type:        notification.TypeStudentWelcome,
		RecipientID: student.ID,
		TemplateData: map[string]interface{}{
			"studentName": student.FullName(),
			"teacherName": actor.FullName(),
			"loginLink":   core.Conf.FrontendBaseURL + "/sign-in",
		},
		EntityType: "profile",
		EntityID:   student.ID,
	})
	if err != nil {
		svc.logger.Warn("queueing welcome notification", err)
	}
}

func (svc *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return svc.repo.Get(ctx, id)
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, login string) (Profile, error) {
	return svc.repo.GetByUsernameOrEmail(ctx, core.CleanString(login, true /* lower */))
}

// Get returns a profile visible to actor: admins see everyone, teachers see students and themselves.
func (svc *Service) Get(ctx context.Context, actor Profile, id string) (Profile, error) {
	p, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if !canView(actor, p) {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func canView(actor, p Profile) bool {
	return actor.IsAdmin || actor.ID == p.ID || (actor.IsTeacher && p.IsStudent)
}

// Query lists the profiles actor may see. Teachers only get students; students only get themselves.
func (svc *Service) Query(ctx context.Context, actor Profile, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) (core.Page[Profile], error) {
	filter.Clean()
	page.Clean()

	switch actor.Role() {
	case RoleAdmin:
	case RoleTeacher:
		filter.Role = RoleStudent
	default:
		return core.NewPage([]Profile{actor}, 1, page), nil
	}

	profiles, total, err := svc.repo.Query(ctx, filter, CleanOrdering(ordering), page)
	if err != nil {
		return core.Page[Profile]{}, errors.Wrap(err, "querying profiles")
	}
	return core.NewPage(profiles, total, page), nil
}

// Update modifies a profile. Non admins may only edit their own names, bio and password.
func (svc *Service) Update(ctx context.Context, actor Profile, id string, up UpdateProfile) (Profile, error) {
	p, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Profile{}, err
	}
	if !actor.IsAdmin {
		if actor.ID != p.ID || up.adminOnly() {
			return Profile{}, core.ErrForbidden
		}
	}
	if up.Roles != nil && maxRolePriority(up.Roles) > RolePriority(actor.Role()) {
		return Profile{}, core.NewFieldError("roles", errNoPermsToSetRoles)
	}

	if up.Email != "" {
		p.Email = up.Email
	}
	if up.Username != "" {
		p.Username = up.Username
	}
	if up.Email != "" || up.Username != "" {
		if err = svc.checkUniqueness(ctx, p.Username, p.Email, p.ID); err != nil {
			return Profile{}, err
		}
	}
	if up.FirstName != "" {
		p.FirstName = up.FirstName
	}
	if up.LastName != "" {
		p.LastName = up.LastName
	}
	if up.Bio != nil {
		p.Bio = *up.Bio
	}
	if up.Roles != nil {
		p.SetRoles(up.Roles...)
	}
	if up.IsActive != nil {
		p.IsActive = *up.IsActive
	}
	now := time.Now().UTC()
	if up.StudentStatus != "" && up.StudentStatus != p.StudentStatus {
		p.StudentStatus = up.StudentStatus
		p.StatusChangedAt = now
	}
	if up.Password != "" {
		if err = p.SetPassword(up.Password); err != nil {
			return Profile{}, errors.Wrap(err, "hashing password")
		}
	}
	p.UpdatedAt = now

	p, err = svc.repo.Update(ctx, p)
	return p, errors.Wrap(err, "updating profile")
}

// Delete removes profiles. Only admins may delete, and never themselves.
func (svc *Service) Delete(ctx context.Context, actor Profile, ids ...string) error {
	if !actor.IsAdmin {
		return core.ErrForbidden
	}
	if core.StringInSlice(actor.ID, ids) {
		return ErrCannotDeleteSelf
	}
	return errors.Wrap(svc.repo.Delete(ctx, ids...), "deleting profiles")
}

func (svc *Service) SetLastLogin(ctx context.Context, p Profile) (Profile, error) {
	p.LastLogin = time.Now().UTC()
	return svc.repo.Update(ctx, p)
}

// SetPassword sets a new password without permission checks (admin CLI).
func (svc *Service) SetPassword(ctx context.Context, login, pwd string) error {
	p, err := svc.GetByUsernameOrEmail(ctx, login)
	if err != nil {
		return err
	}
	if err = p.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	p.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.Update(ctx, p)
	return errors.Wrap(err, "updating profile")
}

// UpsertAdmin creates or updates an active admin profile (admin CLI).
func (svc *Service) UpsertAdmin(ctx context.Context, email, username, pwd string) (Profile, error) {
	email = core.CleanString(email, true /* lower */)
	username = core.CleanString(username, true /* lower */)
	now := time.Now().UTC()

	p, err := svc.repo.GetByEmail(ctx, email)
	if err != nil && !core.IsNotFound(err) {
		return Profile{}, errors.Wrap(err, "finding profile")
	}
	exists := err == nil
	if !exists {
		p = Profile{Email: email, StudentStatus: StatusActive, NotificationsEnabled: true, CreatedAt: now}
	}
	if username != "" {
		p.Username = username
	}
	p.IsAdmin = true
	p.IsActive = true
	p.UpdatedAt = now
	if err = p.SetPassword(pwd); err != nil {
		return Profile{}, errors.Wrap(err, "hashing password")
	}

	if exists {
		p, err = svc.repo.Update(ctx, p)
		return p, errors.Wrap(err, "updating profile")
	}
	p, err = svc.repo.Create(ctx, p)
	return p, errors.Wrap(err, "creating profile")
}

// RequestPasswordReset emails a password reset link to the profile owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	p, err := svc.repo.GetByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	if !p.IsActive {
		return ErrNotFound
	}
	return svc.sendPasswordResetMail(p)
}

func (svc *Service) sendPasswordResetMail(p Profile) error {
	token, err := MakeToken(p)
	if err != nil {
		return errors.Wrap(err, "making reset token")
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: p.FullName(), Address: p.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: struct {
			Name, UID, Token string
		}{Name: p.FullName(), UID: EncodeUID(p), Token: token},
	})
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetPassword) error {
	id, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(errInvalidResetLink)
	}
	p, err := svc.repo.Get(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewValidationError(errInvalidResetLink)
		}
		return errors.Wrap(err, "finding profile")
	}
	switch verifyToken(p, data.Token) {
	case nil:
	case errTokenExpired:
		return core.NewValidationError(errPasswordResetExpired)
	default:
		return core.NewValidationError(errInvalidResetLink)
	}

	if err = p.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	p.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.Update(ctx, p)
	return errors.Wrap(err, "updating profile")
}

// Recipients

func (svc *Service) GetRecipient(ctx context.Context, id string) (notification.Recipient, error) {
	p, err := svc.repo.Get(ctx, id)
	if err != nil {
		return notification.Recipient{}, err
	}
	return notification.Recipient{
		ID:                   p.ID,
		Email:                p.Email,
		Name:                 p.FullName(),
		IsActive:             p.IsActive,
		NotificationsEnabled: p.NotificationsEnabled,
		BounceCount:          p.BounceCount,
	}, nil
}

func (svc *Service) RecordBounce(ctx context.Context, email string, threshold int) (bool, error) {
	p, err := svc.repo.GetByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		return false, err
	}
	p.BounceCount++
	disabled := p.BounceCount >= threshold && p.NotificationsEnabled
	if disabled {
		p.NotificationsEnabled = false
	}
	p.UpdatedAt = time.Now().UTC()
	if _, err = svc.repo.Update(ctx, p); err != nil {
		return false, errors.Wrap(err, "updating profile")
	}
	return disabled, nil
}

func (svc *Service) ResetBounces(ctx context.Context, id string) error {
	p, err := svc.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.BounceCount == 0 {
		return nil
	}
	p.BounceCount = 0
	_, err = svc.repo.Update(ctx, p)
	return errors.Wrap(err, "updating profile")
}

// Students

func (svc *Service) ListStudents(ctx context.Context, status string) ([]Profile, error) {
	return svc.repo.ListStudents(ctx, status)
}

func (svc *Service) ListTeachers(ctx context.Context) ([]Profile, error) {
	return svc.repo.ListTeachers(ctx)
}

func (svc *Service) SetStudentStatus(ctx context.Context, ids []string, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return svc.repo.UpdateStudentStatus(ctx, ids, status, time.Now().UTC())
}
