package notification

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

type Type string

// Notification types
const (
	// lessons
	TypeLessonReminder24h Type = "lesson_reminder_24h"
	TypeLessonRecap       Type = "lesson_recap"
	TypeLessonCancelled   Type = "lesson_cancelled"
	TypeLessonRescheduled Type = "lesson_rescheduled"

	// assignments
	TypeAssignmentCreated      Type = "assignment_created"
	TypeAssignmentDueReminder  Type = "assignment_due_reminder"
	TypeAssignmentOverdueAlert Type = "assignment_overdue_alert"
	TypeAssignmentCompleted    Type = "assignment_completed"

	// achievements
	TypeSongMastery      Type = "song_mastery_achievement"
	TypeMilestoneReached Type = "milestone_reached"

	// student lifecycle
	TypeStudentWelcome      Type = "student_welcome"
	TypeTrialEndingReminder Type = "trial_ending_reminder"

	// digests
	TypeTeacherDailySummary  Type = "teacher_daily_summary"
	TypeWeeklyProgressDigest Type = "weekly_progress_digest"

	// system
	TypeCalendarConflictAlert   Type = "calendar_conflict_alert"
	TypeWebhookExpirationNotice Type = "webhook_expiration_notice"
	TypeAdminErrorAlert         Type = "admin_error_alert"
)

type Status string

const (
	StatusPending   Status = "pending"   // queued, not yet sent
	StatusSent      Status = "sent"      // delivered to the email provider
	StatusFailed    Status = "failed"    // delivery failed, will retry
	StatusBounced   Status = "bounced"   // bounced or dead-lettered
	StatusSkipped   Status = "skipped"   // recipient opted out
	StatusCancelled Status = "cancelled" // cancelled before sending
)

const (
	DefaultPriority = 5
	// MaxRetryAttempts is the number of resend attempts before a log is dead-lettered.
	MaxRetryAttempts = 5
	// DeadLetterStatus is the status of logs that exhausted their retries.
	DeadLetterStatus = StatusBounced
	// BounceDisableThreshold consecutive bounces disable a recipient's notifications.
	BounceDisableThreshold = 3
)

var (
	Categories = map[string][]Type{
		"lessons":      {TypeLessonReminder24h, TypeLessonRecap, TypeLessonCancelled, TypeLessonRescheduled},
		"assignments":  {TypeAssignmentCreated, TypeAssignmentDueReminder, TypeAssignmentOverdueAlert, TypeAssignmentCompleted},
		"achievements": {TypeSongMastery, TypeMilestoneReached},
		"lifecycle":    {TypeStudentWelcome, TypeTrialEndingReminder},
		"digests":      {TypeTeacherDailySummary, TypeWeeklyProgressDigest},
		"system":       {TypeCalendarConflictAlert, TypeWebhookExpirationNotice, TypeAdminErrorAlert},
	}

	subjects = map[Type]string{
		TypeLessonReminder24h:       "Reminder: Lesson Tomorrow",
		TypeLessonRecap:             "Lesson Recap",
		TypeLessonCancelled:         "Lesson Cancelled",
		TypeLessonRescheduled:       "Lesson Rescheduled",
		TypeAssignmentCreated:       "New Assignment",
		TypeAssignmentDueReminder:   "Assignment Due Soon",
		TypeAssignmentOverdueAlert:  "Assignment Overdue",
		TypeAssignmentCompleted:     "Assignment Completed",
		TypeSongMastery:             "Congratulations! Song Mastered",
		TypeMilestoneReached:        "Milestone Reached!",
		TypeStudentWelcome:          "Welcome to Guitar Lessons!",
		TypeTrialEndingReminder:     "Your Trial Is Ending Soon",
		TypeTeacherDailySummary:     "Your Daily Summary",
		TypeWeeklyProgressDigest:    "Your Weekly Progress",
		TypeCalendarConflictAlert:   "Calendar Conflict Detected",
		TypeWebhookExpirationNotice: "Calendar Sync Needs Attention",
		TypeAdminErrorAlert:         "System Error Alert",
	}
)

// AllTypes lists every notification type.
func AllTypes() []Type {
	types := make([]Type, 0, len(subjects))
	for _, cat := range []string{"lessons", "assignments", "achievements", "lifecycle", "digests", "system"} {
		types = append(types, Categories[cat]...)
	}
	return types
}

func (t Type) Valid() bool {
	_, ok := subjects[t]
	return ok
}

func (t Type) Subject() string {
	return subjects[t]
}

func (t Type) Category() string {
	for cat, types := range Categories {
		for _, typ := range types {
			if typ == t {
				return cat
			}
		}
	}
	return ""
}

// Params describes a notification to send or queue.
type Params struct {
	Type         Type
	RecipientID  string
	TemplateData map[string]interface{}
	EntityType   string
	EntityID     string
	Priority     int       // lower is more urgent; defaults to 5
	ScheduledFor time.Time // queue only; defaults to now
}

type Result struct {
	Success bool   `json:"success"`
	LogID   string `json:"log_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

type Log struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"notification_type"`
	RecipientID    string                 `json:"recipient_user_id"`
	RecipientEmail string                 `json:"recipient_email"`
	Status         Status                 `json:"status"`
	Subject        string                 `json:"subject"`
	TemplateData   map[string]interface{} `json:"template_data"`
	SentAt         time.Time              `json:"sent_at"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	MaxRetries     int                    `json:"max_retries"`
	EntityType     string                 `json:"entity_type,omitempty"`
	EntityID       string                 `json:"entity_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type QueueItem struct {
	ID           string                 `json:"id"`
	Type         Type                   `json:"notification_type"`
	RecipientID  string                 `json:"recipient_user_id"`
	TemplateData map[string]interface{} `json:"template_data"`
	ScheduledFor time.Time              `json:"scheduled_for"`
	ProcessedAt  time.Time              `json:"processed_at"`
	Status       Status                 `json:"status"`
	Priority     int                    `json:"priority"`
	EntityType   string                 `json:"entity_type,omitempty"`
	EntityID     string                 `json:"entity_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type Preference struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Type      Type      `json:"notification_type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UpdatePreference struct {
	Type    Type `json:"notification_type" validate:"required"`
	Enabled bool `json:"enabled"`
}

// Recipient is the addressable part of a profile.
type Recipient struct {
	ID                   string
	Email                string
	Name                 string
	IsActive             bool
	NotificationsEnabled bool
	BounceCount          int
}

type LogFilter struct {
	Status      string `query:"status"`
	Type        string `query:"type"`
	RecipientID string `query:"recipient_id"`
}

type (
	// Queuer is implemented by anything that can queue a notification for later delivery.
	Queuer interface {
		Queue(ctx context.Context, params Params) (QueueItem, error)
	}

	// RecipientStore gives access to the profiles notifications are addressed to.
	RecipientStore interface {
		GetRecipient(ctx context.Context, id string) (Recipient, error)
		// RecordBounce increments the bounce counter of the profile owning email
		// and reports whether notifications got disabled.
		RecordBounce(ctx context.Context, email string, threshold int) (bool, error)
		ResetBounces(ctx context.Context, id string) error
	}

	Repository interface {
		GetPreference(ctx context.Context, userID string, typ Type) (Preference, error)
		ListPreferences(ctx context.Context, userID string) ([]Preference, error)
		UpsertPreference(ctx context.Context, pref Preference) (Preference, error)

		CreateLog(ctx context.Context, log Log) (Log, error)
		GetLog(ctx context.Context, id string) (Log, error)
		UpdateLog(ctx context.Context, log Log) (Log, error)
		// GetLatestLogByEmail returns the most recent log sent to email.
		GetLatestLogByEmail(ctx context.Context, email string) (Log, error)
		QueryLogs(ctx context.Context, filter LogFilter, page core.Pagination) ([]Log, int, error)
		// ListFailedLogs returns failed logs with retry_count < maxRetries, oldest first.
		ListFailedLogs(ctx context.Context, maxRetries, limit int) ([]Log, error)
		// ListExhaustedLogs returns failed logs with retry_count >= maxRetries, oldest first.
		ListExhaustedLogs(ctx context.Context, maxRetries, limit int) ([]Log, error)

		CreateQueueItem(ctx context.Context, item QueueItem) (QueueItem, error)
		// ListDueQueueItems returns pending items scheduled before now, by priority then schedule.
		ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]QueueItem, error)
		UpdateQueueItem(ctx context.Context, item QueueItem) error
	}
)

var (
	ErrLogNotFound        = core.NotFoundError{Resource: "notification log"}
	ErrPreferenceNotFound = core.NotFoundError{Resource: "notification preference"}
)
