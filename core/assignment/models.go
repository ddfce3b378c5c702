package assignment

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

// Statuses
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusOverdue    = "overdue"
	StatusCancelled  = "cancelled"
)

const dateLayout = "2006-01-02"

var (
	Statuses = []string{StatusNotStarted, StatusInProgress, StatusCompleted, StatusOverdue, StatusCancelled}

	// OpenStatuses are the statuses an assignment can become overdue from.
	OpenStatuses = []string{StatusNotStarted, StatusInProgress}

	orderingFields = map[string]string{
		"due_date":   "due_date",
		"created_at": "created_at",
		"title":      "title",
		"status":     "status",
	}
	defaultOrdering = core.DBOrdering{Field: "due_date", Ascending: true}
)

type Assignment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"` // UTC; zero if none
	Status      string    `json:"status"`
	TeacherID   string    `json:"teacher_id"`
	StudentID   string    `json:"student_id"`
	LessonID    string    `json:"lesson_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a Assignment) IsOpen() bool {
	return core.StringInSlice(a.Status, OpenStatuses)
}

func (a Assignment) HasDueDate() bool { return !a.DueDate.IsZero() }

type Template struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TeacherID   string    `json:"teacher_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewAssignment struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	StudentID   string     `json:"student_id" validate:"required,uuid"`
	TeacherID   string     `json:"teacher_id" validate:"omitempty,uuid"`
	LessonID    string     `json:"lesson_id" validate:"omitempty,uuid"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	return validate.Struct(na)
}

// UpdateAssignment carries the editable fields. Students may only send Status.
type UpdateAssignment struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Status      string     `json:"status" validate:"omitempty,oneof=not_started in_progress completed overdue cancelled"`
}

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	if ua.Title != nil {
		title := core.CleanString(*ua.Title)
		ua.Title = &title
	}
	return validate.Struct(ua)
}

func (ua UpdateAssignment) onlyStatus() bool {
	return ua.Title == nil && ua.Description == nil && ua.DueDate == nil
}

type NewTemplate struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description"`
}

func (nt *NewTemplate) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	return validate.Struct(nt)
}

// AssignTemplate creates an assignment for a student from a template.
type AssignTemplate struct {
	StudentID string     `json:"student_id" validate:"required,uuid"`
	DueDate   *time.Time `json:"due_date"`
	LessonID  string     `json:"lesson_id" validate:"omitempty,uuid"`
}

func (at AssignTemplate) Validate(validate *validator.Validate) error { return validate.Struct(at) }

type QueryFilter struct {
	Status    string `query:"status"`
	StudentID string `query:"student_id"`
	TeacherID string `query:"teacher_id"`
	LessonID  string `query:"lesson_id"`

	// DueBefore and DueAfter bound due_date (exclusive, inclusive); used by batch jobs.
	DueBefore time.Time
	DueAfter  time.Time
	OpenOnly  bool
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.TeacherID = core.CleanString(qf.TeacherID)
	qf.LessonID = core.CleanString(qf.LessonID)
}

// CleanOrdering restricts orderings to sortable assignment columns.
func CleanOrdering(ords []core.DBOrdering) []core.DBOrdering {
	return core.CleanOrderings(ords, orderingFields, defaultOrdering)
}

// BatchResult is returned by the reminder and overdue batches.
type BatchResult struct {
	Processed int      `json:"processed"`
	Notified  int      `json:"notified"`
	Errors    []string `json:"errors"`
}
