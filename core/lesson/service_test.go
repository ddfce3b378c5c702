package lesson_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
	testutil "github.com/PiotrRomanczuk/guitar-crm-sub014/tests"
)

func errField(t *testing.T, err error) string {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	require.NotEmpty(t, verr.Fields)
	return verr.Fields[0].Field
}

type fixture struct {
	svc      *lesson.Service
	repo     lesson.Repository
	songs    song.Repository
	notifier *testutil.Queuer

	admin, teacher, other, student profile.Profile
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	profiles := dummydb.NewProfileRepository(db)
	f := &fixture{
		repo:     dummydb.NewLessonRepository(db),
		songs:    dummydb.NewSongRepository(db),
		notifier: new(testutil.Queuer),
	}
	f.svc = lesson.NewService(f.repo, testutil.ProfileFinder{Repo: profiles}, f.songs, f.notifier, logsvc.NewRollbarLogger(io.Discard, core.Conf))

	f.admin = testutil.CreateProfile(t, profiles, "Admin", "admin", "admin@test.test", "", []string{profile.RoleAdmin}, true)
	f.teacher = testutil.CreateProfile(t, profiles, "Tom", "tom", "tom@test.test", "", []string{profile.RoleTeacher}, true)
	f.other = testutil.CreateProfile(t, profiles, "Tina", "tina", "tina@test.test", "", []string{profile.RoleTeacher}, true)
	f.student = testutil.CreateProfile(t, profiles, "Sam", "sam", "sam@test.test", "", []string{profile.RoleStudent}, true)
	return f
}

func (f *fixture) lesson(t *testing.T, actor profile.Profile, at time.Time) lesson.Lesson {
	t.Helper()
	l, err := f.svc.Create(context.Background(), actor, lesson.NewLesson{
		StudentID:   f.student.ID,
		Title:       "Blues basics",
		ScheduledAt: at,
		Status:      lesson.StatusScheduled,
	})
	require.NoError(t, err)
	return l
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	at := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name        string
		actor       profile.Profile
		nl          lesson.NewLesson
		wantErr     error
		wantField   string
		wantTeacher string
	}{
		{
			name:    "student",
			actor:   f.student,
			nl:      lesson.NewLesson{StudentID: f.student.ID, ScheduledAt: at},
			wantErr: core.ErrForbidden,
		},
		{
			name:      "not a student",
			actor:     f.teacher,
			nl:        lesson.NewLesson{StudentID: f.other.ID, ScheduledAt: at},
			wantField: "student_id",
		},
		{
			name:      "unknown student",
			actor:     f.teacher,
			nl:        lesson.NewLesson{StudentID: "lol", ScheduledAt: at},
			wantField: "student_id",
		},
		{
			name:      "admin picks a non teacher",
			actor:     f.admin,
			nl:        lesson.NewLesson{StudentID: f.student.ID, TeacherID: f.student.ID, ScheduledAt: at},
			wantField: "teacher_id",
		},
		{
			name:        "teacher owns the lesson",
			actor:       f.teacher,
			nl:          lesson.NewLesson{StudentID: f.student.ID, TeacherID: f.other.ID, ScheduledAt: at},
			wantTeacher: f.teacher.ID,
		},
		{
			name:        "admin assigns a teacher",
			actor:       f.admin,
			nl:          lesson.NewLesson{StudentID: f.student.ID, TeacherID: f.other.ID, ScheduledAt: at},
			wantTeacher: f.other.ID,
		},
		{
			name:        "admin defaults to self",
			actor:       f.admin,
			nl:          lesson.NewLesson{StudentID: f.student.ID, ScheduledAt: at},
			wantTeacher: f.admin.ID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := f.svc.Create(ctx, tt.actor, tt.nl)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantField != "":
				assert.Equal(t, tt.wantField, errField(t, err))
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantTeacher, l.TeacherID)
				assert.Equal(t, tt.actor.ID, l.CreatorUserID)
				assert.Equal(t, f.student.ID, l.StudentID)
			}
		})
	}
}

func TestService_Create_numbering(t *testing.T) {
	f := setup(t)
	at := time.Now().Add(time.Hour)

	assert.Equal(t, 1, f.lesson(t, f.teacher, at).LessonTeacherNumber)
	assert.Equal(t, 2, f.lesson(t, f.teacher, at).LessonTeacherNumber)
	// numbering is per teacher and student pair
	assert.Equal(t, 1, f.lesson(t, f.other, at).LessonTeacherNumber)
	assert.Equal(t, 3, f.lesson(t, f.teacher, at).LessonTeacherNumber)
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.lesson(t, f.teacher, time.Now())

	for _, actor := range []profile.Profile{f.admin, f.teacher, f.student} {
		got, err := f.svc.Get(ctx, actor, l.ID)
		require.NoError(t, err, actor.Username)
		assert.Equal(t, l.ID, got.ID)
	}
	_, err := f.svc.Get(ctx, f.other, l.ID)
	assert.True(t, core.IsNotFound(err))

	_, err = f.svc.Update(ctx, f.student, l.ID, lesson.UpdateLesson{Status: lesson.StatusCancelled})
	assert.Equal(t, core.ErrForbidden, errors.Cause(err))
	assert.Equal(t, core.ErrForbidden, errors.Cause(f.svc.Delete(ctx, f.student, l.ID)))
}

func TestService_Update_notifications(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2030, 5, 1, 17, 0, 0, 0, time.UTC)
	moved := at.Add(48 * time.Hour)
	title := "Renamed"

	tests := []struct {
		name     string
		update   lesson.UpdateLesson
		wantType notification.Type
		wantData map[string]interface{}
	}{
		{name: "title only", update: lesson.UpdateLesson{Title: &title}},
		{
			name:     "cancelled",
			update:   lesson.UpdateLesson{Status: lesson.StatusCancelled, Reason: "sick"},
			wantType: notification.TypeLessonCancelled,
			wantData: map[string]interface{}{"reason": "sick", "lessonDate": "2030-05-01", "lessonTime": "17:00"},
		},
		{
			name:     "rescheduled",
			update:   lesson.UpdateLesson{ScheduledAt: &moved},
			wantType: notification.TypeLessonRescheduled,
			wantData: map[string]interface{}{"oldDate": "2030-05-01", "newDate": "2030-05-03", "newTime": "17:00"},
		},
		{
			name:     "completed",
			update:   lesson.UpdateLesson{Status: lesson.StatusCompleted},
			wantType: notification.TypeLessonRecap,
			wantData: map[string]interface{}{"lessonTitle": "Blues basics", "studentName": "Sam"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			l := f.lesson(t, f.teacher, at)

			_, err := f.svc.Update(ctx, f.teacher, l.ID, tt.update)
			require.NoError(t, err)

			if tt.wantType == "" {
				assert.Empty(t, f.notifier.Types())
				return
			}
			require.Equal(t, []notification.Type{tt.wantType}, f.notifier.Types())
			p := f.notifier.Last()
			assert.Equal(t, f.student.ID, p.RecipientID)
			assert.Equal(t, "lesson", p.EntityType)
			assert.Equal(t, l.ID, p.EntityID)
			for k, v := range tt.wantData {
				assert.Equal(t, v, p.TemplateData[k], k)
			}
		})
	}
}

func TestService_ApplyCalendarChange(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	at := time.Now().Add(24 * time.Hour).Truncate(time.Second).UTC()

	l := f.lesson(t, f.teacher, at)
	l.GoogleEventID = "evt-1"
	_, err := f.repo.Update(ctx, l)
	require.NoError(t, err)

	_, _, err = f.svc.ApplyCalendarChange(ctx, "lol", false, at)
	assert.True(t, core.IsNotFound(err))

	_, changed, err := f.svc.ApplyCalendarChange(ctx, "evt-1", false, at)
	require.NoError(t, err)
	assert.False(t, changed)

	got, changed, err := f.svc.ApplyCalendarChange(ctx, "evt-1", false, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, lesson.StatusRescheduled, got.Status)
	assert.True(t, got.ScheduledAt.Equal(at.Add(time.Hour)))

	got, changed, err = f.svc.ApplyCalendarChange(ctx, "evt-1", true, time.Time{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, lesson.StatusCancelled, got.Status)

	_, changed, err = f.svc.ApplyCalendarChange(ctx, "evt-1", true, time.Time{})
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, []notification.Type{notification.TypeLessonRescheduled, notification.TypeLessonCancelled}, f.notifier.Types())
}

func TestService_googleEventLink(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	at := time.Now().Add(24 * time.Hour)

	linked, err := f.svc.Create(ctx, f.teacher, lesson.NewLesson{
		StudentID: f.student.ID, ScheduledAt: at, Status: lesson.StatusScheduled, GoogleEventID: "evt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", linked.GoogleEventID)

	found, err := f.svc.FindByGoogleEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, linked.ID, found.ID)
	_, err = f.svc.FindByGoogleEventID(ctx, "")
	assert.True(t, core.IsNotFound(err))

	_, err = f.svc.Create(ctx, f.teacher, lesson.NewLesson{
		StudentID: f.student.ID, ScheduledAt: at, Status: lesson.StatusScheduled, GoogleEventID: "evt-1",
	})
	assert.Equal(t, "google_event_id", errField(t, err))

	other := f.lesson(t, f.teacher, at)
	taken := "evt-1"
	_, err = f.svc.Update(ctx, f.teacher, other.ID, lesson.UpdateLesson{GoogleEventID: &taken})
	assert.Equal(t, "google_event_id", errField(t, err))

	// relinking a lesson to its own event is a no-op
	got, err := f.svc.Update(ctx, f.teacher, linked.ID, lesson.UpdateLesson{GoogleEventID: &taken})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.GoogleEventID)

	fresh := "evt-2"
	got, err = f.svc.Update(ctx, f.teacher, other.ID, lesson.UpdateLesson{GoogleEventID: &fresh})
	require.NoError(t, err)
	assert.Equal(t, "evt-2", got.GoogleEventID)

	got, changed, err := f.svc.ApplyCalendarChange(ctx, "evt-2", true, time.Time{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, other.ID, got.ID)
	assert.Equal(t, lesson.StatusCancelled, got.Status)

	unlink := ""
	got, err = f.svc.Update(ctx, f.teacher, other.ID, lesson.UpdateLesson{GoogleEventID: &unlink})
	require.NoError(t, err)
	assert.Empty(t, got.GoogleEventID)
}

func TestService_BulkCreate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	validate, _ := core.NewValidator()
	at := time.Now().Add(24 * time.Hour)

	_, err := f.svc.BulkCreate(ctx, f.student, validate, []lesson.NewLesson{{StudentID: f.student.ID, ScheduledAt: at}})
	assert.Equal(t, core.ErrForbidden, err)
	_, err = f.svc.BulkCreate(ctx, f.teacher, validate, nil)
	assert.Equal(t, "lessons", errField(t, err))
	_, err = f.svc.BulkCreate(ctx, f.teacher, validate, make([]lesson.NewLesson, lesson.MaxBulkLessons+1))
	assert.Equal(t, "lessons", errField(t, err))

	res, err := f.svc.BulkCreate(ctx, f.teacher, validate, []lesson.NewLesson{
		{StudentID: f.student.ID, ScheduledAt: at, Title: "First"},
		{StudentID: f.student.ID},
		{StudentID: f.other.ID, ScheduledAt: at},
		{StudentID: f.student.ID, ScheduledAt: at.Add(time.Hour), Title: "Second"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 2, res.Failed)

	require.Len(t, res.Created, 2)
	assert.Equal(t, []int{1, 2}, []int{res.Created[0].LessonTeacherNumber, res.Created[1].LessonTeacherNumber})
	assert.Equal(t, lesson.StatusScheduled, res.Created[0].Status)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "validation failed", res.Errors[0].Error)
	assert.Contains(t, res.Errors[0].Fields, "scheduled_at")
	assert.Equal(t, 2, res.Errors[1].Index)
	assert.Contains(t, res.Errors[1].Fields, "student_id")
}

func TestService_BulkDelete(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	at := time.Now().Add(24 * time.Hour)
	mine := f.lesson(t, f.teacher, at)
	theirs := f.lesson(t, f.other, at)

	_, err := f.svc.BulkDelete(ctx, f.student, []string{mine.ID})
	assert.Equal(t, core.ErrForbidden, err)

	res, err := f.svc.BulkDelete(ctx, f.teacher, []string{mine.ID, theirs.ID, "", mine.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, res.Deleted)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 3, res.Failed)

	require.Len(t, res.Errors, 3)
	// other teachers' lessons are invisible
	assert.Equal(t, lesson.BulkFailure{Index: 1, LessonID: theirs.ID, Error: lesson.ErrNotFound.Error()}, res.Errors[0])
	assert.Equal(t, 2, res.Errors[1].Index)
	assert.Contains(t, res.Errors[1].Fields, "lesson_id")
	assert.Equal(t, lesson.ErrNotFound.Error(), res.Errors[2].Error)

	_, err = f.svc.Get(ctx, f.admin, theirs.ID)
	assert.NoError(t, err)
}

func TestService_Query_dateRange(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	day := time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC)
	f.lesson(t, f.teacher, day.Add(-time.Hour))
	evening := f.lesson(t, f.teacher, day.Add(18*time.Hour))
	f.lesson(t, f.teacher, day.Add(30*time.Hour))

	tests := []struct {
		name   string
		filter lesson.QueryFilter
		want   int
	}{
		{name: "single day", filter: lesson.QueryFilter{FromParam: "2026-10-19", ToParam: "2026-10-19"}, want: 1},
		{name: "exclusive timestamp", filter: lesson.QueryFilter{FromParam: "2026-10-19", ToParam: "2026-10-19T18:00:00Z"}, want: 0},
		{name: "open ended", filter: lesson.QueryFilter{FromParam: "2026-10-19"}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.svc.Query(ctx, f.teacher, tt.filter, nil, core.Pagination{})
			require.NoError(t, err)
			require.Len(t, page.Items, tt.want)
			if tt.want == 1 {
				assert.Equal(t, evening.ID, page.Items[0].ID)
			}
		})
	}
}

func TestService_songs(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.lesson(t, f.teacher, time.Now())

	s, err := f.songs.Create(ctx, song.Song{Title: "Blackbird", Author: "The Beatles", CreatedAt: time.Now(), UpdatedAt: time.Now()})
	require.NoError(t, err)

	_, err = f.svc.AddSong(ctx, f.teacher, l.ID, lesson.AddLessonSong{SongID: "lol", Status: lesson.SongToLearn})
	assert.Equal(t, "song_id", errField(t, err))

	_, err = f.svc.AddSong(ctx, f.student, l.ID, lesson.AddLessonSong{SongID: s.ID, Status: lesson.SongToLearn})
	assert.Equal(t, core.ErrForbidden, errors.Cause(err))

	ls, err := f.svc.AddSong(ctx, f.teacher, l.ID, lesson.AddLessonSong{SongID: s.ID, Status: lesson.SongToLearn})
	require.NoError(t, err)
	assert.Equal(t, f.student.ID, ls.StudentID)
	assert.Equal(t, "Blackbird", ls.SongTitle)
	assert.Empty(t, f.notifier.Types())

	_, err = f.svc.AddSong(ctx, f.teacher, l.ID, lesson.AddLessonSong{SongID: s.ID, Status: lesson.SongToLearn})
	assert.Equal(t, core.ErrConflict, errors.Cause(err))

	for _, status := range []string{lesson.SongStarted, lesson.SongMastered, lesson.SongMastered} {
		ls, err = f.svc.UpdateSongStatus(ctx, f.teacher, l.ID, s.ID, lesson.UpdateLessonSong{Status: status})
		require.NoError(t, err)
		assert.Equal(t, status, ls.Status)
	}
	// mastering twice only notifies once
	require.Equal(t, []notification.Type{notification.TypeSongMastery}, f.notifier.Types())
	p := f.notifier.Last()
	assert.Equal(t, "Blackbird", p.TemplateData["songTitle"])
	assert.Equal(t, 1, p.TemplateData["totalSongsMastered"])
	assert.Equal(t, 3, p.Priority)

	songs, err := f.svc.ListSongs(ctx, f.student, l.ID)
	require.NoError(t, err)
	require.Len(t, songs, 1)

	require.NoError(t, f.svc.RemoveSong(ctx, f.teacher, l.ID, s.ID))
	songs, err = f.svc.ListSongs(ctx, f.student, l.ID)
	require.NoError(t, err)
	assert.Empty(t, songs)
}
