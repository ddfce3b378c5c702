package notification_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
)

type mailer struct {
	mu   sync.Mutex
	sent []*core.EmailMessage
	fail error
}

func (m *mailer) SendMessages(msgs ...*core.EmailMessage) {
	for _, msg := range msgs {
		_ = m.Send(context.Background(), msg)
	}
}

func (m *mailer) Send(_ context.Context, msg *core.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recipients struct {
	mu      sync.Mutex
	byID    map[string]*notification.Recipient
	bounces map[string]int
}

func newRecipients(rcpts ...notification.Recipient) *recipients {
	r := &recipients{byID: make(map[string]*notification.Recipient), bounces: make(map[string]int)}
	for i := range rcpts {
		r.byID[rcpts[i].ID] = &rcpts[i]
	}
	return r
}

func (r *recipients) GetRecipient(_ context.Context, id string) (notification.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rcpt, ok := r.byID[id]; ok {
		return *rcpt, nil
	}
	return notification.Recipient{}, core.NotFoundError{Resource: "profile"}
}

func (r *recipients) RecordBounce(_ context.Context, email string, threshold int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rcpt := range r.byID {
		if rcpt.Email == email {
			rcpt.BounceCount++
			if rcpt.BounceCount >= threshold && rcpt.NotificationsEnabled {
				rcpt.NotificationsEnabled = false
				return true, nil
			}
			return false, nil
		}
	}
	return false, core.NotFoundError{Resource: "profile"}
}

func (r *recipients) ResetBounces(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rcpt, ok := r.byID[id]; ok {
		rcpt.BounceCount = 0
	}
	return nil
}

type queueInspector interface {
	QueueItems() []notification.QueueItem
}

type fixture struct {
	svc    *notification.Service
	repo   notification.Repository
	mail   *mailer
	rcpts  *recipients
	active notification.Recipient
}

func setup(t *testing.T, limiter *notification.RateLimiter) *fixture {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	active := notification.Recipient{ID: "u1", Email: "jimi@test.test", Name: "Jimi", IsActive: true, NotificationsEnabled: true}
	rcpts := newRecipients(
		active,
		notification.Recipient{ID: "u2", Email: "off@test.test", Name: "Off", IsActive: true},
		notification.Recipient{ID: "u3", Email: "gone@test.test", Name: "Gone", NotificationsEnabled: true},
	)
	if limiter == nil {
		limiter = notification.NewRateLimiter(0, 0)
	}
	repo := dummydb.NewNotificationRepository(db)
	m := new(mailer)
	svc := notification.NewService(repo, rcpts, m, limiter, logsvc.NewRollbarLogger(io.Discard, core.Conf))
	return &fixture{svc: svc, repo: repo, mail: m, rcpts: rcpts, active: active}
}

func mockNow(t *testing.T, now time.Time) {
	orig := notification.NowFunc
	notification.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { notification.NowFunc = orig })
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		typ  notification.Type
		data map[string]interface{}
		want string
	}{
		{typ: notification.TypeLessonRecap, data: map[string]interface{}{"lessonTitle": "Blues"}, want: "Lesson Recap: Blues"},
		{typ: notification.TypeLessonRecap, want: "Lesson Recap"},
		{typ: notification.TypeAssignmentCreated, data: map[string]interface{}{"assignmentTitle": "Scales"}, want: "New Assignment: Scales"},
		{typ: notification.TypeSongMastery, data: map[string]interface{}{"songTitle": "Blackbird"}, want: `Congratulations! You Mastered "Blackbird"`},
		{typ: notification.TypeTeacherDailySummary, data: map[string]interface{}{"date": "2024-05-01"}, want: "Daily Summary - 2024-05-01"},
		{typ: notification.TypeStudentWelcome, want: "Welcome to Guitar Lessons!"},
		{typ: "lol", want: "Notification from " + core.Conf.AppName},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, notification.SubjectFor(tt.typ, tt.data))
		})
	}
}

func TestService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown type", func(t *testing.T) {
		f := setup(t, nil)
		_, err := f.svc.Send(ctx, notification.Params{Type: "lol", RecipientID: "u1"})
		assert.Error(t, err)
	})

	t.Run("unknown recipient", func(t *testing.T) {
		f := setup(t, nil)
		res, err := f.svc.Send(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "lol"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Zero(t, f.mail.count())
	})

	tests := []struct {
		name        string
		recipientID string
		optOut      bool
		wantSkipped bool
	}{
		{name: "sent", recipientID: "u1"},
		{name: "notifications disabled", recipientID: "u2", wantSkipped: true},
		{name: "inactive recipient", recipientID: "u3", wantSkipped: true},
		{name: "opted out of the type", recipientID: "u1", optOut: true, wantSkipped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, nil)
			if tt.optOut {
				_, err := f.svc.UpdatePreferences(ctx, tt.recipientID, []notification.UpdatePreference{{Type: notification.TypeLessonRecap}})
				require.NoError(t, err)
			}

			res, err := f.svc.Send(ctx, notification.Params{
				Type:         notification.TypeLessonRecap,
				RecipientID:  tt.recipientID,
				TemplateData: map[string]interface{}{"lessonTitle": "Blues"},
			})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.wantSkipped, res.Skipped)

			log, err := f.repo.GetLog(ctx, res.LogID)
			require.NoError(t, err)
			if tt.wantSkipped {
				assert.Equal(t, notification.StatusSkipped, log.Status)
				assert.Zero(t, f.mail.count())
				return
			}
			assert.Equal(t, notification.StatusSent, log.Status)
			assert.Equal(t, "Lesson Recap: Blues", log.Subject)
			assert.Equal(t, "jimi@test.test", log.RecipientEmail)
			assert.False(t, log.SentAt.IsZero())
			require.Equal(t, 1, f.mail.count())
			assert.Equal(t, string(notification.TypeLessonRecap), f.mail.sent[0].TemplateName)
		})
	}

	t.Run("delivery failure", func(t *testing.T) {
		f := setup(t, nil)
		f.mail.fail = errors.New("smtp down")

		res, err := f.svc.Send(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "u1"})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "smtp down", res.Error)

		log, err := f.repo.GetLog(ctx, res.LogID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusFailed, log.Status)
		assert.Equal(t, "smtp down", log.ErrorMessage)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := setup(t, notification.NewRateLimiter(1, 100))
		_, err := f.svc.Send(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "u1"})
		require.NoError(t, err)
		_, err = f.svc.Send(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "u1"})
		assert.Equal(t, core.ErrRateLimit, errors.Cause(err))
		assert.Equal(t, 1, f.mail.count())
	})
}

func TestService_ProcessQueue(t *testing.T) {
	ctx := context.Background()
	f := setup(t, notification.NewRateLimiter(2, 100))
	now := time.Now().UTC()

	queue := func(typ notification.Type, rcpt string, priority int, at time.Time) {
		_, err := f.svc.Queue(ctx, notification.Params{Type: typ, RecipientID: rcpt, Priority: priority, ScheduledFor: at})
		require.NoError(t, err)
	}
	queue(notification.TypeWeeklyProgressDigest, "u1", 5, now.Add(-2*time.Hour))
	queue(notification.TypeLessonCancelled, "u1", 1, now.Add(-time.Minute))
	queue(notification.TypeLessonRecap, "u1", 3, now.Add(-time.Hour))
	queue(notification.TypeStudentWelcome, "u2", 5, now.Add(-time.Hour))
	queue(notification.TypeStudentWelcome, "lol", 5, now.Add(-time.Hour))
	queue(notification.TypeLessonRecap, "u1", 1, now.Add(time.Hour))

	res, err := f.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, notification.ProcessResult{Processed: 3, Failed: 1, Deferred: 1}, res)

	// most urgent first; the digest hit the per-user limit
	require.Equal(t, 2, f.mail.count())
	assert.Equal(t, string(notification.TypeLessonCancelled), f.mail.sent[0].TemplateName)
	assert.Equal(t, string(notification.TypeLessonRecap), f.mail.sent[1].TemplateName)

	statuses := make(map[notification.Type][]notification.Status)
	for _, item := range f.repo.(queueInspector).QueueItems() {
		statuses[item.Type] = append(statuses[item.Type], item.Status)
	}
	assert.Equal(t, []notification.Status{notification.StatusPending}, statuses[notification.TypeWeeklyProgressDigest])
	assert.ElementsMatch(t, []notification.Status{notification.StatusSkipped, notification.StatusFailed}, statuses[notification.TypeStudentWelcome])
	assert.ElementsMatch(t, []notification.Status{notification.StatusSent, notification.StatusPending}, statuses[notification.TypeLessonRecap])
}

func TestService_ProcessQueue_MockedClock(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	past := time.Date(2020, time.March, 2, 9, 0, 0, 0, time.UTC)
	mockNow(t, past)

	item, err := f.svc.Queue(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, past, item.ScheduledFor)
	assert.Equal(t, past, item.CreatedAt)

	res, err := f.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, notification.ProcessResult{Processed: 1}, res)
	assert.Equal(t, 1, f.mail.count())
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{retries: -1, want: time.Minute},
		{retries: 0, want: time.Minute},
		{retries: 1, want: 5 * time.Minute},
		{retries: 2, want: 30 * time.Minute},
		{retries: 3, want: 2 * time.Hour},
		{retries: 4, want: 24 * time.Hour},
		{retries: 9, want: 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, notification.Backoff(tt.retries), tt.retries)
	}
}

func TestRetryDue(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name string
		log  notification.Log
		want bool
	}{
		{name: "not failed", log: notification.Log{Status: notification.StatusSent, UpdatedAt: now.Add(-time.Hour)}},
		{name: "backoff pending", log: notification.Log{Status: notification.StatusFailed, RetryCount: 1, UpdatedAt: now.Add(-time.Minute)}},
		{name: "backoff elapsed", log: notification.Log{Status: notification.StatusFailed, RetryCount: 1, UpdatedAt: now.Add(-6 * time.Minute)}, want: true},
		{name: "falls back to created_at", log: notification.Log{Status: notification.StatusFailed, CreatedAt: now.Add(-2 * time.Minute)}, want: true},
		{name: "exhausted", log: notification.Log{Status: notification.StatusFailed, RetryCount: 5, UpdatedAt: now.Add(-48 * time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, notification.RetryDue(tt.log, now))
		})
	}
}

func TestService_RetryFailed(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	now := time.Now().UTC()
	mockNow(t, now)

	create := func(rcpt notification.Recipient, retries int, updated time.Time) notification.Log {
		log, err := f.repo.CreateLog(ctx, notification.Log{
			Type:           notification.TypeStudentWelcome,
			RecipientID:    rcpt.ID,
			RecipientEmail: rcpt.Email,
			Status:         notification.StatusFailed,
			ErrorMessage:   "smtp down",
			RetryCount:     retries,
			MaxRetries:     notification.MaxRetryAttempts,
			CreatedAt:      updated,
			UpdatedAt:      updated,
		})
		require.NoError(t, err)
		return log
	}
	due := create(f.active, 0, now.Add(-2*time.Minute))
	waiting := create(f.active, 2, now.Add(-time.Minute))
	optedOut := create(notification.Recipient{ID: "u2", Email: "off@test.test"}, 0, now.Add(-time.Hour))
	exhausted := create(f.active, notification.MaxRetryAttempts, now.Add(-48*time.Hour))

	res, err := f.svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.RetryResult{Retried: 1, DeadLettered: 1}, res)

	check := func(id string, status notification.Status, retries int) {
		log, err := f.repo.GetLog(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, log.Status, id)
		assert.Equal(t, retries, log.RetryCount, id)
	}
	check(due.ID, notification.StatusSent, 1)
	check(waiting.ID, notification.StatusFailed, 2)
	check(optedOut.ID, notification.StatusCancelled, 0)
	check(exhausted.ID, notification.DeadLetterStatus, notification.MaxRetryAttempts)

	log, err := f.repo.GetLog(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, "maximum retry attempts exceeded: smtp down", log.ErrorMessage)
}

func TestService_HandleBounce(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)

	_, err := f.svc.HandleBounce(ctx, notification.Bounce{Email: "jimi@test.test"})
	assert.True(t, core.IsNotFound(err))

	// bounces arrive after delivery, a successful send in between would reset the counter
	logIDs := make([]string, notification.BounceDisableThreshold)
	for i := range logIDs {
		res, err := f.svc.Send(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "u1"})
		require.NoError(t, err)
		logIDs[i] = res.LogID
	}

	var last notification.BounceResult
	for i, id := range logIDs {
		var err error
		last, err = f.svc.HandleBounce(ctx, notification.Bounce{LogID: id, Reason: "mailbox full"})
		require.NoError(t, err)
		assert.Equal(t, id, last.LogID)
		assert.Equal(t, i == len(logIDs)-1, last.NotificationsDisabled)

		log, err := f.repo.GetLog(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusBounced, log.Status)
		assert.Equal(t, "mailbox full", log.ErrorMessage)
	}
	assert.True(t, last.NotificationsDisabled)

	rcpt, err := f.rcpts.GetRecipient(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rcpt.NotificationsEnabled)

	res, err := f.svc.Send(ctx, notification.Params{Type: notification.TypeStudentWelcome, RecipientID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestService_Preferences(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)

	_, err := f.svc.UpdatePreferences(ctx, "u1", []notification.UpdatePreference{{Type: "lol"}})
	assert.Error(t, err)

	prefs, err := f.svc.UpdatePreferences(ctx, "u1", []notification.UpdatePreference{
		{Type: notification.TypeWeeklyProgressDigest, Enabled: false},
		{Type: notification.TypeLessonRecap, Enabled: true},
	})
	require.NoError(t, err)
	require.Len(t, prefs, len(notification.AllTypes()))
	for _, p := range prefs {
		assert.Equal(t, p.Type != notification.TypeWeeklyProgressDigest, p.Enabled, p.Type)
	}

	enabled, err := f.svc.Enabled(ctx, "u1", notification.TypeWeeklyProgressDigest)
	require.NoError(t, err)
	assert.False(t, enabled)
	enabled, err = f.svc.Enabled(ctx, "u9", notification.TypeWeeklyProgressDigest)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestRateLimiter(t *testing.T) {
	now := time.Now()

	rl := notification.NewRateLimiter(2, 3)
	assert.True(t, rl.AllowAt("a", now))
	assert.True(t, rl.AllowAt("a", now))
	assert.False(t, rl.AllowAt("a", now), "per user limit")
	assert.True(t, rl.AllowAt("b", now))
	assert.False(t, rl.AllowAt("c", now), "system limit")
	assert.True(t, rl.AllowAt("a", now.Add(31*time.Minute)), "refilled")

	rl.Disable()
	assert.True(t, rl.AllowAt("a", now))

	var nilLimiter *notification.RateLimiter
	assert.True(t, nilLimiter.Allow("a"))
}
