// Package jobs names the batch operations run by the cron endpoints, the worker and the admin CLI.
package jobs

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/metrics"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

// Job names
const (
	ProcessNotificationQueue = "process-notification-queue"
	RetryFailedNotifications = "retry-failed-notifications"
	WeeklyDigest             = "weekly-digest"
	TeacherDailySummary      = "teacher-daily-summary"
	RenewWebhooks            = "renew-webhooks"
	UpdateStudentActivity    = "update-student-activity"
	LessonReminders          = "lesson-reminders"
	AssignmentReminders      = "assignment-reminders"
)

var ErrUnknownJob = core.NotFoundError{Resource: "job"}

// Func runs a job and returns its JSON serialisable result.
type Func func(ctx context.Context) (interface{}, error)

type Job struct {
	Name     string
	Schedule string // cron expression used by the worker
	Run      Func
}

type Registry struct {
	jobs   map[string]Job
	logger core.Logger
}

type Services struct {
	Notifications *notification.Service
	Assignments   *assignment.Service
	Calendar      *calendar.Service
	Insights      *insights.Service
}

// AssignmentReminderResult combines the overdue and due-soon batches.
type AssignmentReminderResult struct {
	Overdue assignment.BatchResult `json:"overdue"`
	DueSoon assignment.BatchResult `json:"due_soon"`
}

func NewRegistry(svcs Services, logger core.Logger) *Registry {
	r := &Registry{jobs: make(map[string]Job), logger: logger}

	r.Register(ProcessNotificationQueue, "*/5 * * * *", func(ctx context.Context) (interface{}, error) {
		return svcs.Notifications.ProcessQueue(ctx, core.Conf.Notifications.QueueBatchSize)
	})
	r.Register(RetryFailedNotifications, "*/15 * * * *", func(ctx context.Context) (interface{}, error) {
		return svcs.Notifications.RetryFailed(ctx)
	})
	r.Register(WeeklyDigest, "0 18 * * 0", func(ctx context.Context) (interface{}, error) {
		return svcs.Insights.WeeklyDigest(ctx)
	})
	r.Register(TeacherDailySummary, "0 7 * * *", func(ctx context.Context) (interface{}, error) {
		return svcs.Insights.TeacherDailySummary(ctx)
	})
	r.Register(RenewWebhooks, "0 */6 * * *", func(ctx context.Context) (interface{}, error) {
		return svcs.Calendar.RenewExpiring(ctx)
	})
	r.Register(UpdateStudentActivity, "0 2 * * *", func(ctx context.Context) (interface{}, error) {
		return svcs.Insights.UpdateStudentActivity(ctx)
	})
	r.Register(LessonReminders, "0 * * * *", func(ctx context.Context) (interface{}, error) {
		return svcs.Insights.LessonReminders(ctx)
	})
	r.Register(AssignmentReminders, "0 8 * * *", func(ctx context.Context) (interface{}, error) {
		var (
			res AssignmentReminderResult
			err error
		)
		if res.Overdue, err = svcs.Assignments.MarkOverdue(ctx); err != nil {
			return res, err
		}
		res.DueSoon, err = svcs.Assignments.SendDueReminders(ctx)
		return res, err
	})
	return r
}

// Register adds or replaces a job.
func (r *Registry) Register(name, schedule string, fn Func) {
	r.jobs[name] = Job{Name: name, Schedule: schedule, Run: fn}
}

func (r *Registry) Get(name string) (Job, bool) {
	job, ok := r.jobs[name]
	return job, ok
}

// Jobs returns the registered jobs sorted by name.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Run executes the named job, recording its duration and outcome.
func (r *Registry) Run(ctx context.Context, name string) (interface{}, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, ErrUnknownJob
	}

	start := time.Now()
	res, err := job.Run(ctx)
	metrics.RecordJobRun(name, err == nil, time.Since(start))
	if err != nil {
		r.logger.Error("job "+name+" failed", err)
		return res, errors.Wrap(err, name)
	}
	r.logger.Info("job "+name+" done", map[string]interface{}{"duration": time.Since(start).String()})
	return res, nil
}
