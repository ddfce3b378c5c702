package insights_test

import (
	"context"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	emailsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/email"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	testutil "github.com/PiotrRomanczuk/guitar-crm-sub014/tests"
)

func TestExporter(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	logger := logsvc.NewRollbarLogger(io.Discard, core.Conf)
	core.ParseEmailTemplates(logger)
	outbox := new(emailsvc.Outbox)
	profiles := profile.NewService(f.profiles, nil, f.notifier, logger)
	ex := insights.NewExporter(profiles, f.lessons, f.assignments, emailsvc.NewConsoleServiceMock(outbox), logger)

	sam := f.student(t, "sam")
	other := testutil.CreateProfile(t, f.profiles, "Olga", "olga", "olga@test.test", "", []string{profile.RoleTeacher}, true)

	for i, at := range []time.Time{now.Add(-2 * day), now.Add(-9 * day)} {
		_, err := f.lessons.Create(ctx, lesson.Lesson{
			StudentID:           sam.ID,
			TeacherID:           f.teacher.ID,
			Title:               "Blues",
			ScheduledAt:         at,
			Status:              lesson.StatusCompleted,
			LessonTeacherNumber: 2 - i,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
		require.NoError(t, err)
	}
	_, err := f.lessons.Create(ctx, lesson.Lesson{
		StudentID: sam.ID, TeacherID: other.ID, Title: "Jazz", ScheduledAt: now.Add(-day), Status: lesson.StatusScheduled, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, err = f.assignments.Create(ctx, assignment.Assignment{
		Title: "Scales, major", DueDate: now.Add(3 * day), Status: assignment.StatusNotStarted,
		TeacherID: f.teacher.ID, StudentID: sam.ID, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	t.Run("access", func(t *testing.T) {
		_, err := ex.StudentProgress(ctx, sam, sam.ID)
		assert.Equal(t, core.ErrForbidden, err)
		_, err = ex.StudentProgress(ctx, f.teacher, "nope")
		assert.True(t, core.IsNotFound(err))

		_, err = ex.StudentProgress(ctx, f.teacher, other.ID)
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "student_id", verr.Fields[0].Field)
	})

	t.Run("teacher sees own history", func(t *testing.T) {
		pe, err := ex.StudentProgress(ctx, f.teacher, sam.ID)
		require.NoError(t, err)
		require.Len(t, pe.Lessons, 2)
		assert.Len(t, pe.Assignments, 1)
		assert.Equal(t, "progress-sam-2030-06-12.csv", pe.Filename())

		content, err := pe.CSV()
		require.NoError(t, err)
		assert.Equal(t, "kind,date,number,title,status\n"+
			"lesson,2030-06-03T10:00:00Z,1,Blues,COMPLETED\n"+
			"lesson,2030-06-10T10:00:00Z,2,Blues,COMPLETED\n"+
			"assignment,2030-06-15T10:00:00Z,,\"Scales, major\",not_started\n", string(content))
	})

	t.Run("admin sees everything", func(t *testing.T) {
		pe, err := ex.StudentProgress(ctx, f.admin, sam.ID)
		require.NoError(t, err)
		assert.Len(t, pe.Lessons, 3)
	})

	t.Run("emailed as attachment", func(t *testing.T) {
		pe, err := ex.EmailStudentProgress(ctx, f.teacher, sam.ID)
		require.NoError(t, err)
		want, err := pe.CSV()
		require.NoError(t, err)

		msgs := outbox.Messages()
		require.Len(t, msgs, 1)
		msg := msgs[0]
		assert.Equal(t, f.teacher.Email, msg.To[0].Address)
		assert.Equal(t, "Progress report: sam", msg.Subject)
		assert.Contains(t, msg.TextContent, "Lessons: 2")

		require.Len(t, msg.Attachments, 1)
		at := msg.Attachments[0]
		assert.Equal(t, pe.Filename(), at.Filename)
		assert.Equal(t, "text/csv", at.ContentType)
		got, err := base64.StdEncoding.DecodeString(at.Content.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}
