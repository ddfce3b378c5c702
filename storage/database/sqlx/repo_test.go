package sqlxrepos

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const (
	profileID = "5d0c1b4e-6c0e-4b8e-9a55-000000000001"
	otherID   = "5d0c1b4e-6c0e-4b8e-9a55-000000000002"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestProfileRepository_Get(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("invalid id", func(t *testing.T) {
		db, _ := newMock(t)
		_, err := NewProfileRepository(db).Get(context.Background(), "nope")
		assert.Equal(t, profile.ErrNotFound, err)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1 LIMIT 1")).
			WithArgs(profileID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewProfileRepository(db).Get(context.Background(), profileID)
		assert.Equal(t, profile.ErrNotFound, err)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("found", func(t *testing.T) {
		db, mock := newMock(t)
		rows := sqlmock.NewRows([]string{"id", "email", "username", "first_name", "is_student", "is_active", "student_status", "created_at", "updated_at", "last_login"}).
			AddRow(profileID, "s@test.test", nil, "Sam", true, true, "active", now, now, nil)
		mock.ExpectQuery("SELECT (.+) FROM profiles WHERE id = ").WithArgs(profileID).WillReturnRows(rows)

		p, err := NewProfileRepository(db).Get(context.Background(), profileID)
		require.NoError(t, err)
		assert.Equal(t, "s@test.test", p.Email)
		assert.Empty(t, p.Username)
		assert.True(t, p.IsStudent)
		assert.True(t, p.LastLogin.IsZero())
		assert.Equal(t, now, p.CreatedAt)
	})
}

func TestProfileRepository_CheckUniqueness(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{name: "unique", rows: sqlmock.NewRows([]string{"email", "username"})},
		{name: "username taken", rows: sqlmock.NewRows([]string{"email", "username"}).AddRow("x@test.test", "sam"), wantErr: profile.ErrUsernameExists},
		{name: "email taken", rows: sqlmock.NewRows([]string{"email", "username"}).AddRow("s@test.test", nil), wantErr: profile.ErrEmailExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT email, username FROM profiles WHERE (email = $1 OR username = $2) AND id <> $3")).
				WithArgs("s@test.test", "sam", profileID).
				WillReturnRows(tt.rows)

			err := NewProfileRepository(db).CheckUniqueness(context.Background(), "sam", "s@test.test", profileID)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestLessonRepository_AddSongConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("INSERT INTO lesson_songs").WillReturnError(&pq.Error{Code: "23505"})

	_, err := NewLessonRepository(db).AddSong(context.Background(), lesson.LessonSong{
		LessonID:  profileID,
		SongID:    otherID,
		StudentID: profileID,
		Status:    lesson.SongToLearn,
	})
	assert.Equal(t, core.ErrConflict, err)
}

func TestLessonWhere(t *testing.T) {
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		filter   lesson.QueryFilter
		wantSQL  string
		wantArgs []interface{}
	}{
		{name: "empty", wantSQL: "(1=1)", wantArgs: []interface{}{}},
		{name: "invalid student", filter: lesson.QueryFilter{StudentID: "x"}, wantSQL: "(FALSE)", wantArgs: nil},
		{
			name:     "student and teacher in order",
			filter:   lesson.QueryFilter{StudentID: profileID, TeacherID: otherID, From: from},
			wantSQL:  "(student_id = ? AND teacher_id = ? AND scheduled_at >= ?)",
			wantArgs: []interface{}{profileID, otherID, from},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := lessonWhere(tt.filter).ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestAssignmentRepository_List(t *testing.T) {
	db, mock := newMock(t)
	due := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (status IN ($1,$2)) ORDER BY due_date ASC NULLS LAST, created_at ASC")).
		WithArgs(assignment.StatusNotStarted, assignment.StatusInProgress).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "due_date", "status", "lesson_id"}).
			AddRow(profileID, "Scales", due, assignment.StatusNotStarted, nil).
			AddRow(otherID, "Chords", nil, assignment.StatusInProgress, profileID))

	items, err := NewAssignmentRepository(db).List(context.Background(), assignment.QueryFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, due, items[0].DueDate)
	assert.Empty(t, items[0].LessonID)
	assert.False(t, items[1].HasDueDate())
	assert.Equal(t, profileID, items[1].LessonID)
}

func TestAPIKeyRepository_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "deleted", affected: 1},
		{name: "not owned", affected: 0, wantErr: apikey.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			mock.ExpectExec(regexp.QuoteMeta("DELETE FROM api_keys WHERE id = $1 AND user_id = $2")).
				WithArgs(otherID, profileID).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := NewAPIKeyRepository(db).Delete(context.Background(), otherID, profileID)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestNotificationRepository_ListDueQueueItems(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_queue WHERE status = $1 AND scheduled_for <= $2 ORDER BY priority ASC, scheduled_for ASC LIMIT 10")).
		WithArgs("pending", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "notification_type", "recipient_user_id", "template_data", "scheduled_for", "status", "priority"}).
			AddRow(profileID, "lesson_recap", otherID, []byte(`{"lessonTitle":"Blues"}`), now, "pending", 1))

	items, err := NewNotificationRepository(db).ListDueQueueItems(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, notification.TypeLessonRecap, items[0].Type)
	assert.Equal(t, "Blues", items[0].TemplateData["lessonTitle"])
	assert.True(t, items[0].ProcessedAt.IsZero())
}

func TestNotificationRepository_GetLatestLogByEmail(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_log WHERE recipient_email = $1 ORDER BY created_at DESC LIMIT 1")).
		WithArgs("gone@test.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewNotificationRepository(db).GetLatestLogByEmail(context.Background(), "gone@test.test")
	assert.Equal(t, notification.ErrLogNotFound, err)
}

func TestCalendarRepository_DeleteExpiredSubscriptions(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM webhook_subscriptions WHERE provider = $1 AND expiration < $2")).
		WithArgs(calendar.ProviderGoogle, int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewCalendarRepository(db).DeleteExpiredSubscriptions(context.Background(), calendar.ProviderGoogle, 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStatsRepository_DashboardStats(t *testing.T) {
	t.Run("student scope", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("(SELECT COUNT(*) FROM lessons WHERE student_id = $")).
			WillReturnRows(sqlmock.NewRows([]string{"students", "active_students", "songs", "lessons", "upcoming_lessons", "recent_lessons", "pending_assignments"}).
				AddRow(0, 0, 4, 12, 2, 3, 1))

		stats, err := NewStatsRepository(db).DashboardStats(context.Background(), insights.StatsScope{StudentID: profileID}, time.Now())
		require.NoError(t, err)
		assert.Equal(t, insights.Stats{Songs: 4, Lessons: 12, UpcomingLessons: 2, RecentLessons: 3, PendingAssignments: 1}, stats)
	})

	t.Run("invalid teacher", func(t *testing.T) {
		db, _ := newMock(t)
		stats, err := NewStatsRepository(db).DashboardStats(context.Background(), insights.StatsScope{TeacherID: "x"}, time.Now())
		require.NoError(t, err)
		assert.Zero(t, stats)
	})
}
