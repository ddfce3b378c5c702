package lesson

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

// Lesson statuses
const (
	StatusScheduled   = "SCHEDULED"
	StatusInProgress  = "IN_PROGRESS"
	StatusCompleted   = "COMPLETED"
	StatusCancelled   = "CANCELLED"
	StatusRescheduled = "RESCHEDULED"
)

// Lesson song statuses, in learning order
const (
	SongToLearn    = "to_learn"
	SongStarted    = "started"
	SongRemembered = "remembered"
	SongWithAuthor = "with_author"
	SongMastered   = "mastered"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	Statuses     = []string{StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled}
	SongStatuses = []string{SongToLearn, SongStarted, SongRemembered, SongWithAuthor, SongMastered}

	orderingFields = map[string]string{
		"scheduled_at":          "scheduled_at",
		"date":                  "scheduled_at",
		"created_at":            "created_at",
		"title":                 "title",
		"status":                "status",
		"lesson_teacher_number": "lesson_teacher_number",
	}
	defaultOrdering = core.DBOrdering{Field: "scheduled_at", Ascending: false}
)

type Lesson struct {
	ID                  string    `json:"id"`
	StudentID           string    `json:"student_id"`
	TeacherID           string    `json:"teacher_id"`
	CreatorUserID       string    `json:"creator_user_id"`
	Title               string    `json:"title"`
	Notes               string    `json:"notes"`
	ScheduledAt         time.Time `json:"scheduled_at"` // UTC
	Status              string    `json:"status"`
	LessonTeacherNumber int       `json:"lesson_teacher_number"`
	GoogleEventID       string    `json:"google_event_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"` // UTC
	UpdatedAt           time.Time `json:"updated_at"` // UTC
}

// IsOpen is true for lessons that still may take place.
func (l Lesson) IsOpen() bool {
	return l.Status == StatusScheduled || l.Status == StatusRescheduled || l.Status == StatusInProgress
}

type LessonSong struct {
	ID        string    `json:"id"`
	LessonID  string    `json:"lesson_id"`
	SongID    string    `json:"song_id"`
	StudentID string    `json:"student_id"`
	Status    string    `json:"song_status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// joined from songs
	SongTitle  string `json:"song_title,omitempty"`
	SongAuthor string `json:"song_author,omitempty"`
}

// StudentActivity summarises a student's lessons relative to a point in time.
type StudentActivity struct {
	StudentID  string
	LastLesson time.Time // most recent non cancelled lesson in the past; zero if none
	NextLesson time.Time // earliest open lesson in the future; zero if none
}

type NewLesson struct {
	StudentID   string    `json:"student_id" validate:"required,uuid"`
	TeacherID   string    `json:"teacher_id" validate:"omitempty,uuid"`
	Title       string    `json:"title" validate:"max=200"`
	Notes       string    `json:"notes"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Status      string    `json:"status" validate:"omitempty,oneof=SCHEDULED IN_PROGRESS COMPLETED CANCELLED RESCHEDULED"`
	// GoogleEventID links the lesson to a calendar event so that calendar changes reach it.
	GoogleEventID string `json:"google_event_id" validate:"omitempty,max=1024"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.Notes = core.CleanString(nl.Notes)
	nl.GoogleEventID = core.CleanString(nl.GoogleEventID)
	if nl.Status == "" {
		nl.Status = StatusScheduled
	}
	return validate.Struct(nl)
}

type UpdateLesson struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Notes       *string    `json:"notes"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Status      string     `json:"status" validate:"omitempty,oneof=SCHEDULED IN_PROGRESS COMPLETED CANCELLED RESCHEDULED"`
	Reason      string     `json:"reason"` // cancellation reason, only used in the notification
	// GoogleEventID relinks the lesson; an empty string unlinks it.
	GoogleEventID *string `json:"google_event_id" validate:"omitempty,max=1024"`
}

func (ul *UpdateLesson) Validate(validate *validator.Validate) error {
	if ul.Title != nil {
		title := core.CleanString(*ul.Title)
		ul.Title = &title
	}
	if ul.GoogleEventID != nil {
		eventID := core.CleanString(*ul.GoogleEventID)
		ul.GoogleEventID = &eventID
	}
	ul.Reason = core.CleanString(ul.Reason)
	return validate.Struct(ul)
}

// MaxBulkLessons bounds the lessons of a single bulk request.
const MaxBulkLessons = 100

type BulkNewLessons struct {
	Lessons []NewLesson `json:"lessons"`
}

type BulkDeleteLessons struct {
	LessonIDs []string `json:"lesson_ids"`
}

// BulkFailure reports why the item at Index of a bulk request was rejected.
type BulkFailure struct {
	Index    int               `json:"index"`
	LessonID string            `json:"lesson_id,omitempty"`
	Error    string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
}

type BulkCreateResult struct {
	Created []Lesson      `json:"created"`
	Errors  []BulkFailure `json:"errors"`
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
}

type BulkDeleteResult struct {
	Deleted []string      `json:"deleted"`
	Errors  []BulkFailure `json:"errors"`
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
}

type AddLessonSong struct {
	SongID string `json:"song_id" validate:"required,uuid"`
	Status string `json:"song_status" validate:"omitempty,oneof=to_learn started remembered with_author mastered"`
}

func (al *AddLessonSong) Validate(validate *validator.Validate) error {
	if al.Status == "" {
		al.Status = SongToLearn
	}
	return validate.Struct(al)
}

type UpdateLessonSong struct {
	Status string `json:"song_status" validate:"required,oneof=to_learn started remembered with_author mastered"`
}

func (ul UpdateLessonSong) Validate(validate *validator.Validate) error { return validate.Struct(ul) }

type QueryFilter struct {
	StudentID string `query:"student_id"`
	TeacherID string `query:"teacher_id"`
	Status    string `query:"status"`
	FromParam string `query:"from"` // RFC3339 or YYYY-MM-DD
	ToParam   string `query:"to"`   // RFC3339 or YYYY-MM-DD, a date includes the whole day

	From time.Time
	To   time.Time // exclusive
	// OpenOnly restricts to SCHEDULED, RESCHEDULED and IN_PROGRESS lessons.
	OpenOnly bool
}

func (qf *QueryFilter) Clean() error {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.TeacherID = core.CleanString(qf.TeacherID)
	qf.Status = core.CleanString(qf.Status)

	var err error
	if qf.FromParam != "" {
		if qf.From, err = core.ParseTime(qf.FromParam); err != nil {
			return core.NewFieldError("from", "invalid date")
		}
	}
	if qf.ToParam != "" {
		if qf.To, err = core.ParseEndTime(qf.ToParam); err != nil {
			return core.NewFieldError("to", "invalid date")
		}
	}
	return nil
}

// CleanOrdering restricts orderings to sortable lesson columns.
func CleanOrdering(ords []core.DBOrdering) []core.DBOrdering {
	return core.CleanOrderings(ords, orderingFields, defaultOrdering)
}
