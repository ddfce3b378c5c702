package insights

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const progressExportTemplate = "student_progress_export"

var errNotAStudent = "the profile is not a student"

var progressHeader = []string{"kind", "date", "number", "title", "status"}

// ProgressExport is the lesson and assignment history of a student.
type ProgressExport struct {
	Student     profile.Profile
	Lessons     []lesson.Lesson
	Assignments []assignment.Assignment
	Mastered    int
	GeneratedAt time.Time
}

// Filename is like "progress-sam-smith-2026-10-19.csv".
func (pe ProgressExport) Filename() string {
	name := strings.ToLower(strings.Join(strings.Fields(pe.Student.FullName()), "-"))
	if name == "" {
		name = pe.Student.ID
	}
	return fmt.Sprintf("progress-%s-%s.csv", name, pe.GeneratedAt.Format("2006-01-02"))
}

// CSV writes one row per lesson then one per assignment, oldest first.
func (pe ProgressExport) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(progressHeader); err != nil {
		return nil, err
	}
	for _, l := range pe.Lessons {
		row := []string{"lesson", l.ScheduledAt.Format(time.RFC3339), strconv.Itoa(l.LessonTeacherNumber), l.Title, l.Status}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	for _, a := range pe.Assignments {
		due := ""
		if !a.DueDate.IsZero() {
			due = a.DueDate.Format(time.RFC3339)
		}
		if err := w.Write([]string{"assignment", due, "", a.Title, a.Status}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Exporter builds student progress reports and mails them as CSV attachments.
type Exporter struct {
	profiles    ProfileStore
	lessons     LessonStore
	assignments AssignmentStore
	mailSvc     core.EmailService
	logger      core.Logger
}

func NewExporter(profiles ProfileStore, lessons LessonStore, assignments AssignmentStore, mailSvc core.EmailService, logger core.Logger) *Exporter {
	return &Exporter{profiles: profiles, lessons: lessons, assignments: assignments, mailSvc: mailSvc, logger: logger}
}

// StudentProgress gathers the history of a student. Teachers only see their own lessons and assignments.
func (ex *Exporter) StudentProgress(ctx context.Context, actor profile.Profile, studentID string) (ProgressExport, error) {
	if !actor.IsStaff() {
		return ProgressExport{}, core.ErrForbidden
	}
	student, err := ex.profiles.GetByID(ctx, studentID)
	if err != nil {
		return ProgressExport{}, err
	}
	if !student.IsStudent {
		return ProgressExport{}, core.NewFieldError("student_id", errNotAStudent)
	}

	teacherID := ""
	if !actor.IsAdmin {
		teacherID = actor.ID
	}
	lessons, err := ex.lessons.List(ctx, lesson.QueryFilter{StudentID: student.ID, TeacherID: teacherID})
	if err != nil {
		return ProgressExport{}, errors.Wrap(err, "listing lessons")
	}
	assignments, err := ex.assignments.List(ctx, assignment.QueryFilter{StudentID: student.ID, TeacherID: teacherID})
	if err != nil {
		return ProgressExport{}, errors.Wrap(err, "listing assignments")
	}
	mastered, err := ex.lessons.CountMastered(ctx, student.ID, time.Time{})
	if err != nil {
		return ProgressExport{}, errors.Wrap(err, "counting mastered songs")
	}

	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].ScheduledAt.Before(lessons[j].ScheduledAt) })
	sort.SliceStable(assignments, func(i, j int) bool { return assignments[i].CreatedAt.Before(assignments[j].CreatedAt) })
	return ProgressExport{
		Student:     student,
		Lessons:     lessons,
		Assignments: assignments,
		Mastered:    mastered,
		GeneratedAt: NowFunc(),
	}, nil
}

// EmailStudentProgress sends the CSV report of a student to the actor.
func (ex *Exporter) EmailStudentProgress(ctx context.Context, actor profile.Profile, studentID string) (ProgressExport, error) {
	pe, err := ex.StudentProgress(ctx, actor, studentID)
	if err != nil {
		return ProgressExport{}, err
	}
	content, err := pe.CSV()
	if err != nil {
		return ProgressExport{}, errors.Wrap(err, "writing csv")
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: actor.FullName(), Address: actor.Email}},
		Subject:      "Progress report: " + pe.Student.FullName(),
		TemplateName: progressExportTemplate,
		TemplateData: map[string]interface{}{
			"studentName": pe.Student.FullName(),
			"lessons":     len(pe.Lessons),
			"assignments": len(pe.Assignments),
			"mastered":    pe.Mastered,
		},
	}
	if err = msg.Attach(bytes.NewReader(content), pe.Filename(), "text/csv"); err != nil {
		return ProgressExport{}, errors.Wrap(err, "attaching csv")
	}
	if err = ex.mailSvc.Send(ctx, msg); err != nil {
		return ProgressExport{}, errors.Wrap(err, "sending progress report")
	}

	ex.logger.Info("progress report sent", map[string]interface{}{"user_id": actor.ID, "student_id": pe.Student.ID})
	return pe, nil
}
