package assignment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

var (
	ErrNotFound         = core.NotFoundError{Resource: "assignment"}
	ErrTemplateNotFound = core.NotFoundError{Resource: "assignment template"}

	errNotAStudent   = "the selected profile is not a student"
	errStudentStatus = "students may only change the status of their assignments"
)

// NowFunc is mocked in tests.
var NowFunc = func() time.Time { return time.Now().UTC() }

type (
	Repository interface {
		Create(ctx context.Context, a Assignment) (Assignment, error)
		Get(ctx context.Context, id string) (Assignment, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]Assignment, int, error)
		// List returns every assignment matching filter, ordered by due_date.
		List(ctx context.Context, filter QueryFilter) ([]Assignment, error)
		Update(ctx context.Context, a Assignment) (Assignment, error)
		Delete(ctx context.Context, id string) error

		CreateTemplate(ctx context.Context, t Template) (Template, error)
		GetTemplate(ctx context.Context, id string) (Template, error)
		// ListTemplates returns the templates of teacherID, or all templates if empty.
		ListTemplates(ctx context.Context, teacherID string) ([]Template, error)
		DeleteTemplate(ctx context.Context, id string) error
	}

	ProfileFinder interface {
		GetByID(ctx context.Context, id string) (profile.Profile, error)
	}

	Service struct {
		repo     Repository
		profiles ProfileFinder
		notifier notification.Queuer
		logger   core.Logger
	}
)

func NewService(repo Repository, profiles ProfileFinder, notifier notification.Queuer, logger core.Logger) *Service {
	return &Service{repo: repo, profiles: profiles, notifier: notifier, logger: logger}
}

func canView(actor profile.Profile, a Assignment) bool {
	return actor.IsAdmin || a.TeacherID == actor.ID || a.StudentID == actor.ID
}

func canEdit(actor profile.Profile, a Assignment) bool {
	return actor.IsAdmin || (actor.IsTeacher && a.TeacherID == actor.ID)
}

func assignmentLink(id string) string {
	return core.Conf.FrontendBaseURL + "/dashboard/assignments/" + id
}

func (svc *Service) Query(ctx context.Context, actor profile.Profile, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) (core.Page[Assignment], error) {
	filter.Clean()
	page.Clean()
	switch actor.Role() {
	case profile.RoleAdmin:
	case profile.RoleTeacher:
		filter.TeacherID = actor.ID
	default:
		filter.StudentID = actor.ID
	}

	items, total, err := svc.repo.Query(ctx, filter, CleanOrdering(ordering), page)
	if err != nil {
		return core.Page[Assignment]{}, errors.Wrap(err, "querying assignments")
	}
	return core.NewPage(items, total, page), nil
}

func (svc *Service) Get(ctx context.Context, actor profile.Profile, id string) (Assignment, error) {
	a, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !canView(actor, a) {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (svc *Service) Create(ctx context.Context, actor profile.Profile, na NewAssignment) (Assignment, error) {
	if !actor.IsStaff() {
		return Assignment{}, core.ErrForbidden
	}
	teacherID := actor.ID
	if actor.IsAdmin && na.TeacherID != "" {
		teacherID = na.TeacherID
	}

	student, err := svc.findStudent(ctx, na.StudentID)
	if err != nil {
		return Assignment{}, err
	}

	now := NowFunc()
	a := Assignment{
		Title:       na.Title,
		Description: na.Description,
		Status:      StatusNotStarted,
		TeacherID:   teacherID,
		StudentID:   student.ID,
		LessonID:    na.LessonID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if na.DueDate != nil {
		a.DueDate = na.DueDate.UTC()
	}
	if a, err = svc.repo.Create(ctx, a); err != nil {
		return Assignment{}, errors.Wrap(err, "creating assignment")
	}
	svc.notifyStudent(ctx, notification.TypeAssignmentCreated, student, a, nil)
	return a, nil
}

func (svc *Service) findStudent(ctx context.Context, id string) (profile.Profile, error) {
	student, err := svc.profiles.GetByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return profile.Profile{}, core.NewFieldError("student_id", errNotAStudent)
		}
		return profile.Profile{}, errors.Wrap(err, "finding student")
	}
	if !student.IsStudent {
		return profile.Profile{}, core.NewFieldError("student_id", errNotAStudent)
	}
	return student, nil
}

// Update edits an assignment. Students may only move the status of their own assignments.
func (svc *Service) Update(ctx context.Context, actor profile.Profile, id string, ua UpdateAssignment) (Assignment, error) {
	a, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Assignment{}, err
	}
	if !canEdit(actor, a) {
		if a.StudentID != actor.ID {
			return Assignment{}, core.ErrForbidden
		}
		if !ua.onlyStatus() {
			return Assignment{}, core.NewFieldError("status", errStudentStatus)
		}
	}

	prev := a.Status
	if ua.Title != nil {
		a.Title = *ua.Title
	}
	if ua.Description != nil {
		a.Description = *ua.Description
	}
	if ua.DueDate != nil {
		a.DueDate = ua.DueDate.UTC()
	}
	if ua.Status != "" {
		a.Status = ua.Status
	}
	a.UpdatedAt = NowFunc()

	if a, err = svc.repo.Update(ctx, a); err != nil {
		return Assignment{}, errors.Wrap(err, "updating assignment")
	}
	if a.Status == StatusCompleted && prev != StatusCompleted {
		svc.notifyCompleted(ctx, a)
	}
	return a, nil
}

func (svc *Service) Delete(ctx context.Context, actor profile.Profile, id string) error {
	a, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !canEdit(actor, a) {
		return core.ErrForbidden
	}
	return errors.Wrap(svc.repo.Delete(ctx, id), "deleting assignment")
}

// List returns assignments matching filter without role scoping (batch jobs).
func (svc *Service) List(ctx context.Context, filter QueryFilter) ([]Assignment, error) {
	return svc.repo.List(ctx, filter)
}

// Templates

func (svc *Service) ListTemplates(ctx context.Context, actor profile.Profile) ([]Template, error) {
	if !actor.IsStaff() {
		return nil, core.ErrForbidden
	}
	teacherID := actor.ID
	if actor.IsAdmin {
		teacherID = ""
	}
	tmpls, err := svc.repo.ListTemplates(ctx, teacherID)
	if err != nil {
		return nil, errors.Wrap(err, "listing templates")
	}
	if tmpls == nil {
		tmpls = []Template{}
	}
	return tmpls, nil
}

func (svc *Service) GetTemplate(ctx context.Context, actor profile.Profile, id string) (Template, error) {
	if !actor.IsStaff() {
		return Template{}, core.ErrForbidden
	}
	t, err := svc.repo.GetTemplate(ctx, id)
	if err != nil {
		return Template{}, err
	}
	if !actor.IsAdmin && t.TeacherID != actor.ID {
		return Template{}, ErrTemplateNotFound
	}
	return t, nil
}

func (svc *Service) CreateTemplate(ctx context.Context, actor profile.Profile, nt NewTemplate) (Template, error) {
	if !actor.IsStaff() {
		return Template{}, core.ErrForbidden
	}
	now := NowFunc()
	t, err := svc.repo.CreateTemplate(ctx, Template{
		Title:       nt.Title,
		Description: nt.Description,
		TeacherID:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return t, errors.Wrap(err, "creating template")
}

func (svc *Service) DeleteTemplate(ctx context.Context, actor profile.Profile, id string) error {
	if _, err := svc.GetTemplate(ctx, actor, id); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteTemplate(ctx, id), "deleting template")
}

// Assign creates an assignment from a template.
func (svc *Service) Assign(ctx context.Context, actor profile.Profile, templateID string, at AssignTemplate) (Assignment, error) {
	t, err := svc.GetTemplate(ctx, actor, templateID)
	if err != nil {
		return Assignment{}, err
	}
	return svc.Create(ctx, actor, NewAssignment{
		Title:       t.Title,
		Description: t.Description,
		DueDate:     at.DueDate,
		StudentID:   at.StudentID,
		TeacherID:   t.TeacherID,
		LessonID:    at.LessonID,
	})
}

// Batches

// MarkOverdue flags open assignments past their due date and alerts their students.
func (svc *Service) MarkOverdue(ctx context.Context) (BatchResult, error) {
	now := NowFunc()
	res := BatchResult{Errors: []string{}}
	items, err := svc.repo.List(ctx, QueryFilter{DueBefore: now, OpenOnly: true})
	if err != nil {
		return res, errors.Wrap(err, "listing overdue assignments")
	}

	for _, a := range items {
		res.Processed++
		a.Status = StatusOverdue
		a.UpdatedAt = now
		if _, err = svc.repo.Update(ctx, a); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		student, err := svc.profiles.GetByID(ctx, a.StudentID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		daysOverdue := int(math.Floor(now.Sub(a.DueDate).Hours() / 24))
		if svc.notifyStudent(ctx, notification.TypeAssignmentOverdueAlert, student, a, map[string]interface{}{"daysOverdue": daysOverdue}) {
			res.Notified++
		}
	}
	return res, nil
}

// SendDueReminders queues a reminder for open assignments due within the next 24 hours.
func (svc *Service) SendDueReminders(ctx context.Context) (BatchResult, error) {
	now := NowFunc()
	res := BatchResult{Errors: []string{}}
	items, err := svc.repo.List(ctx, QueryFilter{DueAfter: now, DueBefore: now.Add(24 * time.Hour), OpenOnly: true})
	if err != nil {
		return res, errors.Wrap(err, "listing due assignments")
	}

	for _, a := range items {
		res.Processed++
		student, err := svc.profiles.GetByID(ctx, a.StudentID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		if svc.notifyStudent(ctx, notification.TypeAssignmentDueReminder, student, a, nil) {
			res.Notified++
		}
	}
	return res, nil
}

func (svc *Service) notifyStudent(ctx context.Context, typ notification.Type, student profile.Profile, a Assignment, extra map[string]interface{}) bool {
	due := ""
	if a.HasDueDate() {
		due = a.DueDate.Format(dateLayout)
	}
	data := map[string]interface{}{
		"studentName":     student.FullName(),
		"assignmentTitle": a.Title,
		"dueDate":         due,
		"assignmentLink":  assignmentLink(a.ID),
	}
	for k, v := range extra {
		data[k] = v
	}
	_, err := svc.notifier.Queue(ctx, notification.Params{
		Type:         typ,
		RecipientID:  student.ID,
		TemplateData: data,
		EntityType:   "assignment",
		EntityID:     a.ID,
	})
	if err != nil {
		svc.logger.Warn("queueing assignment notification", err)
		return false
	}
	return true
}

func (svc *Service) notifyCompleted(ctx context.Context, a Assignment) {
	teacher, err := svc.profiles.GetByID(ctx, a.TeacherID)
	if err != nil {
		svc.logger.Warn("finding assignment teacher", err)
		return
	}
	student, err := svc.profiles.GetByID(ctx, a.StudentID)
	if err != nil {
		svc.logger.Warn("finding assignment student", err)
		return
	}
	if _, err = svc.notifier.Queue(ctx, notification.Params{
		Type:        notification.TypeAssignmentCompleted,
		RecipientID: teacher.ID,
		TemplateData: map[string]interface{}{
			"teacherName":     teacher.FullName(),
			"studentName":     student.FullName(),
			"assignmentTitle": a.Title,
		},
		EntityType: "assignment",
		EntityID:   a.ID,
	}); err != nil {
		svc.logger.Warn("queueing assignment notification", err)
	}
}
