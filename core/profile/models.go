package profile

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Student activity statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	AllRoles = []string{RoleAdmin, RoleTeacher, RoleStudent}

	rolePriorities = map[string]int{
		RoleAdmin:   3,
		RoleTeacher: 2,
		RoleStudent: 1,
	}

	// query param -> column
	orderingFields = map[string]string{
		"email":      "email",
		"username":   "username",
		"first_name": "first_name",
		"last_name":  "last_name",
		"created_at": "created_at",
		"updated_at": "updated_at",
		"last_login": "last_login",
	}
	defaultOrdering = core.DBOrdering{Field: "created_at", Ascending: false}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Profile struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	Username             string    `json:"username,omitempty"`
	FirstName            string    `json:"first_name"`
	LastName             string    `json:"last_name"`
	Bio                  string    `json:"bio"`
	IsAdmin              bool      `json:"is_admin"`
	IsTeacher            bool      `json:"is_teacher"`
	IsStudent            bool      `json:"is_student"`
	IsActive             bool      `json:"is_active"`
	IsTest               bool      `json:"is_test"`
	StudentStatus        string    `json:"student_status"`
	StatusChangedAt      time.Time `json:"status_changed_at"` // UTC
	NotificationsEnabled bool      `json:"notifications_enabled"`
	BounceCount          int       `json:"-"`
	PasswordHash         []byte    `json:"-"`
	CreatedAt            time.Time `json:"created_at"` // UTC
	UpdatedAt            time.Time `json:"updated_at"` // UTC
	LastLogin            time.Time `json:"last_login"` // UTC
}

// Role resolves the highest role flag: admin > teacher > student.
func (p Profile) Role() string {
	switch {
	case p.IsAdmin:
		return RoleAdmin
	case p.IsTeacher:
		return RoleTeacher
	case p.IsStudent:
		return RoleStudent
	}
	return ""
}

func (p Profile) Roles() []string {
	roles := make([]string, 0, 3)
	if p.IsAdmin {
		roles = append(roles, RoleAdmin)
	}
	if p.IsTeacher {
		roles = append(roles, RoleTeacher)
	}
	if p.IsStudent {
		roles = append(roles, RoleStudent)
	}
	return roles
}

func (p Profile) HasRole(role string) bool {
	switch role {
	case RoleAdmin:
		return p.IsAdmin
	case RoleTeacher:
		return p.IsTeacher
	case RoleStudent:
		return p.IsStudent
	}
	return false
}

// IsStaff is true for admins and teachers.
func (p Profile) IsStaff() bool { return p.IsAdmin || p.IsTeacher }

func (p Profile) FullName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		if p.Username != "" {
			return p.Username
		}
		return p.Email
	}
	return name
}

func (p Profile) Person() core.Person {
	return core.Person{ID: p.ID, Username: p.Username, Email: p.Email}
}

func (p *Profile) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.PasswordHash = hash
	return nil
}

func (p *Profile) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(pwd))
}

func (p *Profile) SetRoles(roles ...string) {
	p.IsAdmin = core.StringInSlice(RoleAdmin, roles)
	p.IsTeacher = core.StringInSlice(RoleTeacher, roles)
	p.IsStudent = core.StringInSlice(RoleStudent, roles)
}

func maxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

// NewProfile contains information needed to create a new Profile.
type NewProfile struct {
	Email           string   `json:"email" validate:"required,email"`
	Username        string   `json:"username" validate:"omitempty,min=3,alphanum_"`
	FirstName       string   `json:"first_name" validate:"required"`
	LastName        string   `json:"last_name"`
	Bio             string   `json:"bio"`
	Roles           []string `json:"roles" validate:"required,min=1,dive,oneof=admin teacher student"`
	IsTest          bool     `json:"is_test"`
	Password        string   `json:"password" validate:"omitempty,min=8"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (np *NewProfile) Validate(validate *validator.Validate) error {
	np.Email = core.CleanString(np.Email, true /* lower */)
	np.Username = core.CleanString(np.Username, true /* lower */)
	np.FirstName = core.CleanString(np.FirstName)
	np.LastName = core.CleanString(np.LastName)
	np.Bio = core.CleanString(np.Bio)
	return validate.Struct(np)
}

// UpdateProfile defines what information may be provided to modify an existing Profile.
type UpdateProfile struct {
	Email           string   `json:"email" validate:"omitempty,email"`
	Username        string   `json:"username" validate:"omitempty,min=3,alphanum_"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	Bio             *string  `json:"bio"`
	Roles           []string `json:"roles" validate:"omitempty,min=1,dive,oneof=admin teacher student"`
	IsActive        *bool    `json:"is_active"`
	StudentStatus   string   `json:"student_status" validate:"omitempty,oneof=active inactive"`
	Password        string   `json:"password" validate:"omitempty,min=8"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (up *UpdateProfile) Validate(validate *validator.Validate) error {
	up.Email = core.CleanString(up.Email, true /* lower */)
	up.Username = core.CleanString(up.Username, true /* lower */)
	up.FirstName = core.CleanString(up.FirstName)
	up.LastName = core.CleanString(up.LastName)
	if up.Bio != nil {
		bio := core.CleanString(*up.Bio)
		up.Bio = &bio
	}
	return validate.Struct(up)
}

// adminOnly reports whether the update touches fields only admins may change.
func (up UpdateProfile) adminOnly() bool {
	return up.Roles != nil || up.IsActive != nil || up.StudentStatus != "" || up.Email != "" || up.Username != ""
}

type ResetPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search        string `query:"search"`
	Role          string `query:"role"`
	IsActive      *bool  `query:"is_active"`
	StudentStatus string `query:"student_status"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.SanitizeSearch(qf.Search)
	qf.Role = core.CleanString(qf.Role, true /* lower */)
	qf.StudentStatus = core.CleanString(qf.StudentStatus, true /* lower */)
}

// CleanOrdering restricts orderings to sortable profile columns.
func CleanOrdering(ords []core.DBOrdering) []core.DBOrdering {
	return core.CleanOrderings(ords, orderingFields, defaultOrdering)
}
