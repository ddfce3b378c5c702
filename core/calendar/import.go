package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

// Student match statuses of an importable event.
const (
	MatchMatched   = "MATCHED"
	MatchAmbiguous = "AMBIGUOUS" // the attendee email belongs to a profile that is not a student
	MatchNone      = "NONE"
)

const (
	// MaxImportRange bounds the window of importable events.
	MaxImportRange = 92 * 24 * time.Hour
	// MaxImportEvents bounds the events of a single import.
	MaxImportEvents   = 100
	defaultLessonName = "Lesson"
)

var (
	errImportRange         = "the range must end after it starts and span at most 92 days"
	errStudentMatch        = "student match required"
	errAlreadyImported     = "already imported"
	errNotStudentSelection = "the selected profile is not a student"
)

type (
	// LessonImporter creates the lessons of imported events.
	LessonImporter interface {
		FindByGoogleEventID(ctx context.Context, eventID string) (lesson.Lesson, error)
		Create(ctx context.Context, actor profile.Profile, nl lesson.NewLesson) (lesson.Lesson, error)
	}

	// StudentDirectory matches attendees to students and adds the missing ones.
	StudentDirectory interface {
		GetByID(ctx context.Context, id string) (profile.Profile, error)
		GetByUsernameOrEmail(ctx context.Context, login string) (profile.Profile, error)
		Create(ctx context.Context, actor profile.Profile, np profile.NewProfile) (profile.Profile, error)
	}

	// Importer turns the events of a staff member's calendar into lessons.
	Importer struct {
		repo     Repository
		provider Provider
		lessons  LessonImporter
		students StudentDirectory
		logger   core.Logger
	}
)

// ImportCandidate is a calendar event offered for import with its student match.
type ImportCandidate struct {
	GoogleEventID      string    `json:"google_event_id"`
	Title              string    `json:"title"`
	Notes              string    `json:"notes,omitempty"`
	StartTime          time.Time `json:"start_time"`
	AttendeeEmail      string    `json:"attendee_email,omitempty"`
	AttendeeName       string    `json:"attendee_name,omitempty"`
	MatchStatus        string    `json:"match_status"`
	MatchedStudentID   string    `json:"matched_student_id,omitempty"`
	MatchedStudentName string    `json:"matched_student_name,omitempty"`
	LessonID           string    `json:"lesson_id,omitempty"` // set once imported
}

type ImportEvent struct {
	GoogleEventID string    `json:"google_event_id" validate:"required,max=1024"`
	Title         string    `json:"title" validate:"max=200"`
	Notes         string    `json:"notes"`
	StartTime     time.Time `json:"start_time" validate:"required"`
	AttendeeEmail string    `json:"attendee_email" validate:"omitempty,email"`
	AttendeeName  string    `json:"attendee_name"`
	// StudentID overrides the attendee match.
	StudentID string `json:"student_id" validate:"omitempty,uuid"`
}

type ImportLessons struct {
	Events []ImportEvent `json:"events" validate:"required,min=1,max=100,dive"`
}

func (il *ImportLessons) Validate(validate *validator.Validate) error {
	for i := range il.Events {
		ev := &il.Events[i]
		ev.GoogleEventID = core.CleanString(ev.GoogleEventID)
		ev.Title = core.CleanString(ev.Title)
		ev.Notes = core.CleanString(ev.Notes)
		ev.AttendeeEmail = core.CleanString(ev.AttendeeEmail, true /* lower */)
		ev.AttendeeName = core.CleanString(ev.AttendeeName)
		ev.StudentID = core.CleanString(ev.StudentID)
	}
	return validate.Struct(il)
}

type ImportOutcome struct {
	GoogleEventID string `json:"google_event_id"`
	Success       bool   `json:"success"`
	LessonID      string `json:"lesson_id,omitempty"`
	StudentID     string `json:"student_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type ImportResult struct {
	Imported int             `json:"imported"`
	Failed   int             `json:"failed"`
	Results  []ImportOutcome `json:"results"`
}

func NewImporter(repo Repository, provider Provider, lessons LessonImporter, students StudentDirectory, logger core.Logger) *Importer {
	return &Importer{repo: repo, provider: provider, lessons: lessons, students: students, logger: logger}
}

// Candidates lists the timed events of the actor's calendar starting in [from, to).
func (imp *Importer) Candidates(ctx context.Context, actor profile.Profile, from, to time.Time) ([]ImportCandidate, error) {
	if !actor.IsStaff() {
		return nil, core.ErrForbidden
	}
	if !to.After(from) || to.Sub(from) > MaxImportRange {
		return nil, core.NewFieldError("to", errImportRange)
	}
	integ, err := imp.repo.GetIntegration(ctx, actor.ID, ProviderGoogle)
	if err != nil {
		return nil, err
	}

	events, err := imp.provider.EventsInRange(ctx, integ.Token(), from, to)
	if err != nil {
		return nil, errors.Wrap(err, "listing calendar events")
	}

	candidates := make([]ImportCandidate, 0, len(events))
	for _, ev := range events {
		if ev.Cancelled || ev.Start.IsZero() {
			continue
		}
		c := ImportCandidate{
			GoogleEventID: ev.ID,
			Title:         ev.Title,
			Notes:         ev.Description,
			StartTime:     ev.Start.UTC(),
			MatchStatus:   MatchNone,
		}
		if a, ok := studentAttendee(actor, ev); ok {
			c.AttendeeEmail, c.AttendeeName = a.Email, a.Name
			p, status, err := imp.match(ctx, a.Email)
			if err != nil {
				return nil, err
			}
			c.MatchStatus = status
			if status == MatchMatched {
				c.MatchedStudentID, c.MatchedStudentName = p.ID, p.FullName()
			}
		}

		l, err := imp.lessons.FindByGoogleEventID(ctx, ev.ID)
		switch {
		case err == nil:
			c.LessonID = l.ID
		case !core.IsNotFound(err):
			return nil, errors.Wrap(err, "finding imported lesson")
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// studentAttendee is the first attendee that is not the calendar owner.
func studentAttendee(actor profile.Profile, ev Event) (Attendee, bool) {
	for _, a := range ev.Attendees {
		if a.Self || strings.EqualFold(a.Email, actor.Email) {
			continue
		}
		return a, true
	}
	return Attendee{}, false
}

func (imp *Importer) match(ctx context.Context, email string) (profile.Profile, string, error) {
	p, err := imp.students.GetByUsernameOrEmail(ctx, core.CleanString(email, true /* lower */))
	switch {
	case core.IsNotFound(err):
		return profile.Profile{}, MatchNone, nil
	case err != nil:
		return profile.Profile{}, "", errors.Wrap(err, "matching attendee")
	case !p.IsStudent:
		return p, MatchAmbiguous, nil
	}
	return p, MatchMatched, nil
}

// Import creates a lesson per event. The student is the override, else the matched
// attendee, else a new student named after the attendee. Linked events are skipped.
func (imp *Importer) Import(ctx context.Context, actor profile.Profile, events []ImportEvent) (ImportResult, error) {
	if !actor.IsStaff() {
		return ImportResult{}, core.ErrForbidden
	}
	if len(events) > MaxImportEvents {
		return ImportResult{}, core.NewFieldError("events", "too many events")
	}

	res := ImportResult{Results: make([]ImportOutcome, 0, len(events))}
	for _, ev := range events {
		out := ImportOutcome{GoogleEventID: ev.GoogleEventID}
		l, err := imp.importEvent(ctx, actor, ev)
		if err != nil {
			out.Error = outcomeError(err)
			if out.Error == "" {
				return res, err
			}
			res.Failed++
		} else {
			out.Success = true
			out.LessonID, out.StudentID = l.ID, l.StudentID
			res.Imported++
		}
		res.Results = append(res.Results, out)
	}

	imp.logger.Info("calendar events imported", map[string]interface{}{
		"user_id": actor.ID, "imported": res.Imported, "failed": res.Failed,
	})
	return res, nil
}

// rejection skips a single event of an import.
type rejection string

func (r rejection) Error() string { return string(r) }

func reject(reason string) error { return rejection(reason) }

// outcomeError is the message reported for a rejected event, or "" for server errors.
func outcomeError(err error) string {
	var r rejection
	var verr *core.ValidationError
	switch {
	case errors.As(err, &r):
		return string(r)
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Cause(err) == core.ErrForbidden:
		return err.Error()
	}
	return ""
}

func (imp *Importer) importEvent(ctx context.Context, actor profile.Profile, ev ImportEvent) (lesson.Lesson, error) {
	_, err := imp.lessons.FindByGoogleEventID(ctx, ev.GoogleEventID)
	switch {
	case err == nil:
		return lesson.Lesson{}, reject(errAlreadyImported)
	case !core.IsNotFound(err):
		return lesson.Lesson{}, errors.Wrap(err, "finding imported lesson")
	}

	studentID, err := imp.resolveStudent(ctx, actor, ev)
	if err != nil {
		return lesson.Lesson{}, err
	}

	title := ev.Title
	if title == "" {
		title = defaultLessonName
	}
	return imp.lessons.Create(ctx, actor, lesson.NewLesson{
		StudentID:     studentID,
		Title:         title,
		Notes:         ev.Notes,
		ScheduledAt:   ev.StartTime.UTC(),
		Status:        lesson.StatusScheduled,
		GoogleEventID: ev.GoogleEventID,
	})
}

func (imp *Importer) resolveStudent(ctx context.Context, actor profile.Profile, ev ImportEvent) (string, error) {
	if ev.StudentID != "" {
		p, err := imp.students.GetByID(ctx, ev.StudentID)
		if err != nil && !core.IsNotFound(err) {
			return "", errors.Wrap(err, "finding student")
		}
		if err != nil || !p.IsStudent {
			return "", reject(errNotStudentSelection)
		}
		return p.ID, nil
	}
	if ev.AttendeeEmail == "" {
		return "", reject(errStudentMatch)
	}

	p, status, err := imp.match(ctx, ev.AttendeeEmail)
	if err != nil {
		return "", err
	}
	switch {
	case status == MatchMatched:
		return p.ID, nil
	case status == MatchNone && ev.AttendeeName != "":
		first, last := splitName(ev.AttendeeName)
		p, err = imp.students.Create(ctx, actor, profile.NewProfile{
			Email:     ev.AttendeeEmail,
			FirstName: first,
			LastName:  last,
			Roles:     []string{profile.RoleStudent},
		})
		if err != nil {
			return "", errors.Wrap(err, "creating student")
		}
		return p.ID, nil
	}
	return "", reject(errStudentMatch)
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
