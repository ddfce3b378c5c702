package assignment_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
	testutil "github.com/PiotrRomanczuk/guitar-crm-sub014/tests"
)

type fixture struct {
	svc      *assignment.Service
	repo     assignment.Repository
	notifier *testutil.Queuer

	admin, teacher, other, student profile.Profile
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	profiles := dummydb.NewProfileRepository(db)
	f := &fixture{repo: dummydb.NewAssignmentRepository(db), notifier: new(testutil.Queuer)}
	f.svc = assignment.NewService(f.repo, testutil.ProfileFinder{Repo: profiles}, f.notifier, logsvc.NewRollbarLogger(io.Discard, core.Conf))

	f.admin = testutil.CreateProfile(t, profiles, "Admin", "admin", "admin@test.test", "", []string{profile.RoleAdmin}, true)
	f.teacher = testutil.CreateProfile(t, profiles, "Tom", "tom", "tom@test.test", "", []string{profile.RoleTeacher}, true)
	f.other = testutil.CreateProfile(t, profiles, "Tina", "tina", "tina@test.test", "", []string{profile.RoleTeacher}, true)
	f.student = testutil.CreateProfile(t, profiles, "Sam", "sam", "sam@test.test", "", []string{profile.RoleStudent}, true)
	return f
}

func mockNow(t *testing.T, now time.Time) {
	orig := assignment.NowFunc
	assignment.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { assignment.NowFunc = orig })
}

func (f *fixture) create(t *testing.T, title string, due time.Time, status string) assignment.Assignment {
	t.Helper()
	a, err := f.repo.Create(context.Background(), assignment.Assignment{
		Title:     title,
		DueDate:   due,
		Status:    status,
		TeacherID: f.teacher.ID,
		StudentID: f.student.ID,
	})
	require.NoError(t, err)
	return a
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2030, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		actor       func(f *fixture) profile.Profile
		student     func(f *fixture) string
		teacherID   func(f *fixture) string
		wantErr     error
		wantInvalid bool
		wantTeacher func(f *fixture) string
	}{
		{
			name:    "student",
			actor:   func(f *fixture) profile.Profile { return f.student },
			student: func(f *fixture) string { return f.student.ID },
			wantErr: core.ErrForbidden,
		},
		{
			name:        "not a student",
			actor:       func(f *fixture) profile.Profile { return f.teacher },
			student:     func(f *fixture) string { return f.other.ID },
			wantInvalid: true,
		},
		{
			name:        "teacher",
			actor:       func(f *fixture) profile.Profile { return f.teacher },
			student:     func(f *fixture) string { return f.student.ID },
			teacherID:   func(f *fixture) string { return f.other.ID },
			wantTeacher: func(f *fixture) string { return f.teacher.ID },
		},
		{
			name:        "admin on behalf of a teacher",
			actor:       func(f *fixture) profile.Profile { return f.admin },
			student:     func(f *fixture) string { return f.student.ID },
			teacherID:   func(f *fixture) string { return f.other.ID },
			wantTeacher: func(f *fixture) string { return f.other.ID },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			na := assignment.NewAssignment{Title: "Scales", DueDate: &due, StudentID: tt.student(f)}
			if tt.teacherID != nil {
				na.TeacherID = tt.teacherID(f)
			}

			a, err := f.svc.Create(ctx, tt.actor(f), na)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				assert.Empty(t, f.notifier.Types())
			case tt.wantInvalid:
				var verr *core.ValidationError
				assert.True(t, errors.As(err, &verr), "got %v", err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantTeacher(f), a.TeacherID)
				assert.Equal(t, assignment.StatusNotStarted, a.Status)

				require.Equal(t, []notification.Type{notification.TypeAssignmentCreated}, f.notifier.Types())
				p := f.notifier.Last()
				assert.Equal(t, f.student.ID, p.RecipientID)
				assert.Equal(t, "Scales", p.TemplateData["assignmentTitle"])
				assert.Equal(t, "2030-01-15", p.TemplateData["dueDate"])
				assert.Equal(t, core.Conf.FrontendBaseURL+"/dashboard/assignments/"+a.ID, p.TemplateData["assignmentLink"])
			}
		})
	}
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	title := "Arpeggios"

	t.Run("student may only move the status", func(t *testing.T) {
		f := setup(t)
		a := f.create(t, "Scales", time.Time{}, assignment.StatusNotStarted)

		_, err := f.svc.Update(ctx, f.student, a.ID, assignment.UpdateAssignment{Title: &title})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr), "got %v", err)

		_, err = f.svc.Update(ctx, f.other, a.ID, assignment.UpdateAssignment{Status: assignment.StatusCompleted})
		assert.True(t, core.IsNotFound(err))

		got, err := f.svc.Update(ctx, f.student, a.ID, assignment.UpdateAssignment{Status: assignment.StatusInProgress})
		require.NoError(t, err)
		assert.Equal(t, assignment.StatusInProgress, got.Status)
		assert.Empty(t, f.notifier.Types())
	})

	t.Run("completion notifies the teacher once", func(t *testing.T) {
		f := setup(t)
		a := f.create(t, "Scales", time.Time{}, assignment.StatusInProgress)

		for i := 0; i < 2; i++ {
			_, err := f.svc.Update(ctx, f.student, a.ID, assignment.UpdateAssignment{Status: assignment.StatusCompleted})
			require.NoError(t, err)
		}
		require.Equal(t, []notification.Type{notification.TypeAssignmentCompleted}, f.notifier.Types())
		p := f.notifier.Last()
		assert.Equal(t, f.teacher.ID, p.RecipientID)
		assert.Equal(t, "Sam", p.TemplateData["studentName"])
	})

	t.Run("teacher edits", func(t *testing.T) {
		f := setup(t)
		a := f.create(t, "Scales", time.Time{}, assignment.StatusNotStarted)

		got, err := f.svc.Update(ctx, f.teacher, a.ID, assignment.UpdateAssignment{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, title, got.Title)

		assert.Equal(t, core.ErrForbidden, errors.Cause(f.svc.Delete(ctx, f.student, a.ID)))
		require.NoError(t, f.svc.Delete(ctx, f.teacher, a.ID))
		_, err = f.svc.Get(ctx, f.teacher, a.ID)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_templates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.svc.CreateTemplate(ctx, f.student, assignment.NewTemplate{Title: "Scales"})
	assert.Equal(t, core.ErrForbidden, errors.Cause(err))

	tmpl, err := f.svc.CreateTemplate(ctx, f.teacher, assignment.NewTemplate{Title: "Scales", Description: "C major"})
	require.NoError(t, err)
	_, err = f.svc.CreateTemplate(ctx, f.other, assignment.NewTemplate{Title: "Chords"})
	require.NoError(t, err)

	mine, err := f.svc.ListTemplates(ctx, f.teacher)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	all, err := f.svc.ListTemplates(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetTemplate(ctx, f.other, tmpl.ID)
	assert.True(t, core.IsNotFound(err))

	a, err := f.svc.Assign(ctx, f.admin, tmpl.ID, assignment.AssignTemplate{StudentID: f.student.ID})
	require.NoError(t, err)
	assert.Equal(t, "Scales", a.Title)
	assert.Equal(t, "C major", a.Description)
	assert.Equal(t, f.teacher.ID, a.TeacherID)
	assert.False(t, a.HasDueDate())

	require.NoError(t, f.svc.DeleteTemplate(ctx, f.teacher, tmpl.ID))
	_, err = f.svc.GetTemplate(ctx, f.teacher, tmpl.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestService_MarkOverdue(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	now := time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)
	mockNow(t, now)

	late := f.create(t, "Late", now.Add(-3*24*time.Hour-time.Hour), assignment.StatusInProgress)
	done := f.create(t, "Done", now.Add(-48*time.Hour), assignment.StatusCompleted)
	upcoming := f.create(t, "Upcoming", now.Add(time.Hour), assignment.StatusNotStarted)
	noDue := f.create(t, "No due date", time.Time{}, assignment.StatusNotStarted)

	res, err := f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, assignment.BatchResult{Processed: 1, Notified: 1, Errors: []string{}}, res)

	for id, want := range map[string]string{
		late.ID:     assignment.StatusOverdue,
		done.ID:     assignment.StatusCompleted,
		upcoming.ID: assignment.StatusNotStarted,
		noDue.ID:    assignment.StatusNotStarted,
	} {
		a, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, a.Status, a.Title)
	}

	require.Equal(t, []notification.Type{notification.TypeAssignmentOverdueAlert}, f.notifier.Types())
	assert.Equal(t, 3, f.notifier.Last().TemplateData["daysOverdue"])

	// overdue assignments are not open anymore
	res, err = f.svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestService_SendDueReminders(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	now := time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)
	mockNow(t, now)

	soon := f.create(t, "Soon", now.Add(5*time.Hour), assignment.StatusNotStarted)
	f.create(t, "Later", now.Add(30*time.Hour), assignment.StatusNotStarted)
	f.create(t, "Done", now.Add(5*time.Hour), assignment.StatusCompleted)
	f.create(t, "Past", now.Add(-time.Hour), assignment.StatusInProgress)

	res, err := f.svc.SendDueReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, assignment.BatchResult{Processed: 1, Notified: 1, Errors: []string{}}, res)
	require.Equal(t, []notification.Type{notification.TypeAssignmentDueReminder}, f.notifier.Types())
	assert.Equal(t, soon.ID, f.notifier.Last().EntityID)
}
