package notification

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/metrics"
)

var errRecipientNotFound = "recipient not found"

// NowFunc is mocked in tests.
var NowFunc = func() time.Time { return time.Now().UTC() }

type Service struct {
	queue      *Queue
	repo       Repository
	recipients RecipientStore
	mailSvc    core.EmailService
	limiter    *RateLimiter
	logger     core.Logger
}

func NewService(repo Repository, recipients RecipientStore, mailSvc core.EmailService, limiter *RateLimiter, logger core.Logger) *Service {
	return &Service{
		queue:      NewQueue(repo),
		repo:       repo,
		recipients: recipients,
		mailSvc:    mailSvc,
		limiter:    limiter,
		logger:     logger,
	}
}

// Queue stores a notification for the queue processor.
func (svc *Service) Queue(ctx context.Context, params Params) (QueueItem, error) {
	return svc.queue.Queue(ctx, params)
}

// SubjectFor returns the email subject of a notification, personalised with its template data when possible.
func SubjectFor(typ Type, data map[string]interface{}) string {
	str := func(key string) string {
		if v, ok := data[key]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
		return ""
	}

	switch typ {
	case TypeLessonRecap:
		if t := str("lessonTitle"); t != "" {
			return "Lesson Recap: " + t
		}
	case TypeAssignmentCreated, TypeAssignmentDueReminder, TypeAssignmentOverdueAlert, TypeAssignmentCompleted:
		if t := str("assignmentTitle"); t != "" {
			return typ.Subject() + ": " + t
		}
	case TypeSongMastery:
		if t := str("songTitle"); t != "" {
			return fmt.Sprintf("Congratulations! You Mastered %q", t)
		}
	case TypeMilestoneReached:
		if t := str("milestone"); t != "" {
			return "Milestone Reached: " + t
		}
	case TypeTeacherDailySummary:
		if d := str("date"); d != "" {
			return "Daily Summary - " + d
		}
	}
	if s := typ.Subject(); s != "" {
		return s
	}
	return "Notification from " + core.Conf.AppName
}

// Enabled reports the user's preference for typ; types without a stored preference are enabled.
func (svc *Service) Enabled(ctx context.Context, userID string, typ Type) (bool, error) {
	pref, err := svc.repo.GetPreference(ctx, userID, typ)
	if err != nil {
		if core.IsNotFound(err) {
			return true, nil
		}
		return false, errors.Wrap(err, "getting preference")
	}
	return pref.Enabled, nil
}

// Send delivers a notification right away and records it in the log.
// The returned error is reserved for storage failures and rate limiting (core.ErrRateLimit);
// delivery failures are reported in the Result and logged as failed.
func (svc *Service) Send(ctx context.Context, params Params) (Result, error) {
	if !params.Type.Valid() {
		return Result{Error: "unknown notification type"}, errors.Errorf("unknown notification type %q", params.Type)
	}

	rcpt, err := svc.recipients.GetRecipient(ctx, params.RecipientID)
	if err != nil {
		if core.IsNotFound(err) {
			svc.logger.Warn(errRecipientNotFound, map[string]interface{}{"user_id": params.RecipientID, "type": params.Type})
			return Result{Error: errRecipientNotFound}, nil
		}
		return Result{}, errors.Wrap(err, "getting recipient")
	}

	subject := SubjectFor(params.Type, params.TemplateData)
	now := NowFunc()
	log := Log{
		Type:           params.Type,
		RecipientID:    rcpt.ID,
		RecipientEmail: rcpt.Email,
		Status:         StatusPending,
		Subject:        subject,
		TemplateData:   params.TemplateData,
		MaxRetries:     MaxRetryAttempts,
		EntityType:     params.EntityType,
		EntityID:       params.EntityID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	enabled := rcpt.IsActive && rcpt.NotificationsEnabled
	if enabled {
		if enabled, err = svc.Enabled(ctx, rcpt.ID, params.Type); err != nil {
			return Result{}, err
		}
	}
	if !enabled {
		log.Status = StatusSkipped
		if log, err = svc.repo.CreateLog(ctx, log); err != nil {
			return Result{}, errors.Wrap(err, "creating log")
		}
		metrics.RecordNotification(string(params.Type), string(StatusSkipped))
		return Result{Success: true, Skipped: true, LogID: log.ID}, nil
	}

	if !svc.limiter.Allow(rcpt.ID) {
		return Result{Error: core.ErrRateLimit.Error()}, core.ErrRateLimit
	}

	if log, err = svc.repo.CreateLog(ctx, log); err != nil {
		return Result{}, errors.Wrap(err, "creating log")
	}
	return svc.deliver(ctx, log, rcpt), nil
}

// deliver sends the email of log and updates its status.
func (svc *Service) deliver(ctx context.Context, log Log, rcpt Recipient) Result {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: rcpt.Name, Address: rcpt.Email}},
		Subject:      log.Subject,
		TemplateName: string(log.Type),
		TemplateData: log.TemplateData,
	}
	if u, err := UnsubscribeURL(rcpt.ID, log.Type); err == nil {
		msg.UnsubscribeURL = u
	} else {
		svc.logger.Warn("signing unsubscribe link", err)
	}

	sendErr := svc.mailSvc.Send(ctx, msg)
	log.UpdatedAt = NowFunc()
	if sendErr != nil {
		log.Status = StatusFailed
		log.ErrorMessage = sendErr.Error()
	} else {
		log.Status = StatusSent
		log.SentAt = log.UpdatedAt
		log.ErrorMessage = ""
	}

	if _, err := svc.repo.UpdateLog(ctx, log); err != nil {
		svc.logger.Error("updating notification log", errors.Wrap(err, log.ID))
	}
	metrics.RecordNotification(string(log.Type), string(log.Status))

	if sendErr != nil {
		svc.logger.Warn("notification delivery failed", sendErr, map[string]interface{}{"log_id": log.ID, "type": log.Type})
		return Result{Error: sendErr.Error(), LogID: log.ID}
	}
	if rcpt.BounceCount > 0 {
		if err := svc.recipients.ResetBounces(ctx, rcpt.ID); err != nil {
			svc.logger.Warn("resetting bounce count", err)
		}
	}
	return Result{Success: true, LogID: log.ID}
}

type ProcessResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// ProcessQueue sends the due queue items, most urgent first.
// Items hitting a rate limit stay pending for the next run.
func (svc *Service) ProcessQueue(ctx context.Context, limit int) (ProcessResult, error) {
	var res ProcessResult
	if limit <= 0 {
		limit = core.Conf.Notifications.QueueBatchSize
	}

	items, err := svc.repo.ListDueQueueItems(ctx, NowFunc(), limit)
	if err != nil {
		return res, errors.Wrap(err, "listing queued notifications")
	}

	for _, item := range items {
		if err = ctx.Err(); err != nil {
			return res, err
		}

		result, err := svc.Send(ctx, Params{
			Type:         item.Type,
			RecipientID:  item.RecipientID,
			TemplateData: item.TemplateData,
			EntityType:   item.EntityType,
			EntityID:     item.EntityID,
			Priority:     item.Priority,
		})
		if errors.Cause(err) == core.ErrRateLimit {
			res.Deferred++
			continue
		}
		if err != nil {
			svc.logger.Error("processing queued notification", errors.Wrap(err, item.ID))
		}

		switch {
		case err != nil || !result.Success:
			item.Status = StatusFailed
		case result.Skipped:
			item.Status = StatusSkipped
		default:
			item.Status = StatusSent
		}
		item.ProcessedAt = NowFunc()
		item.UpdatedAt = item.ProcessedAt
		if err = svc.repo.UpdateQueueItem(ctx, item); err != nil {
			svc.logger.Error("updating queue item", errors.Wrap(err, item.ID))
		}

		if item.Status != StatusFailed {
			res.Processed++
		} else {
			res.Failed++
		}
	}

	svc.logger.Info("notification queue processed", map[string]interface{}{
		"processed": res.Processed, "failed": res.Failed, "deferred": res.Deferred,
	})
	return res, nil
}

type RetryResult struct {
	Retried      int `json:"retried"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// RetryFailed resends failed notifications whose backoff elapsed, then dead-letters
// the ones that exhausted their attempts.
func (svc *Service) RetryFailed(ctx context.Context) (RetryResult, error) {
	var res RetryResult
	now := NowFunc()

	logs, err := svc.repo.ListFailedLogs(ctx, MaxRetryAttempts, core.Conf.Notifications.RetryBatchSize)
	if err != nil {
		return res, errors.Wrap(err, "listing failed notifications")
	}

	for _, log := range logs {
		if !RetryDue(log, now) {
			continue
		}

		rcpt, err := svc.recipients.GetRecipient(ctx, log.RecipientID)
		if err != nil {
			svc.logger.Warn("getting retry recipient", errors.Wrap(err, log.ID))
			continue
		}
		if !rcpt.IsActive || !rcpt.NotificationsEnabled {
			log.Status = StatusCancelled
			log.UpdatedAt = now
			if _, err = svc.repo.UpdateLog(ctx, log); err != nil {
				svc.logger.Error("cancelling notification", errors.Wrap(err, log.ID))
			}
			continue
		}

		if !svc.limiter.Allow(rcpt.ID) {
			continue
		}

		log.RetryCount++
		if svc.deliver(ctx, log, rcpt).Success {
			res.Retried++
		} else {
			res.Failed++
		}
	}

	if res.DeadLettered, err = svc.deadLetter(ctx); err != nil {
		return res, err
	}

	svc.logger.Info("failed notifications retried", map[string]interface{}{
		"retried": res.Retried, "failed": res.Failed, "dead_lettered": res.DeadLettered,
	})
	return res, nil
}

func (svc *Service) deadLetter(ctx context.Context) (int, error) {
	logs, err := svc.repo.ListExhaustedLogs(ctx, MaxRetryAttempts, core.Conf.Notifications.RetryBatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "listing exhausted notifications")
	}

	n := 0
	for _, log := range logs {
		log.Status = DeadLetterStatus
		log.ErrorMessage = "maximum retry attempts exceeded: " + log.ErrorMessage
		log.UpdatedAt = NowFunc()
		if _, err = svc.repo.UpdateLog(ctx, log); err != nil {
			svc.logger.Error("dead-lettering notification", errors.Wrap(err, log.ID))
			continue
		}
		metrics.RecordNotification(string(log.Type), string(DeadLetterStatus))
		n++
	}
	return n, nil
}

// Bounce is reported by the email provider; LogID wins over Email when both are set.
type Bounce struct {
	LogID  string `json:"log_id"`
	Email  string `json:"email" validate:"omitempty,email"`
	Reason string `json:"reason" validate:"max=500"`
}

func (b *Bounce) Validate(validate *validator.Validate) error {
	b.LogID = core.CleanString(b.LogID)
	b.Email = core.CleanString(b.Email, true /* lower */)
	b.Reason = core.CleanString(b.Reason)
	if b.LogID == "" && b.Email == "" {
		return core.NewFieldError("email", "email or log_id is required")
	}
	return validate.Struct(b)
}

type BounceResult struct {
	LogID                 string `json:"log_id"`
	NotificationsDisabled bool   `json:"notifications_disabled"`
}

// HandleBounce marks the bounced notification and counts the bounce against its recipient.
// Reaching BounceDisableThreshold consecutive bounces disables the recipient's notifications.
func (svc *Service) HandleBounce(ctx context.Context, b Bounce) (BounceResult, error) {
	var (
		log Log
		err error
	)
	if b.LogID != "" {
		log, err = svc.repo.GetLog(ctx, b.LogID)
	} else {
		log, err = svc.repo.GetLatestLogByEmail(ctx, b.Email)
	}
	if err != nil {
		return BounceResult{}, err
	}

	log.Status = StatusBounced
	log.ErrorMessage = b.Reason
	log.UpdatedAt = NowFunc()
	if log, err = svc.repo.UpdateLog(ctx, log); err != nil {
		return BounceResult{}, errors.Wrap(err, "updating log")
	}
	metrics.RecordNotification(string(log.Type), string(StatusBounced))

	disabled, err := svc.recipients.RecordBounce(ctx, log.RecipientEmail, BounceDisableThreshold)
	if err != nil && !core.IsNotFound(err) {
		return BounceResult{}, errors.Wrap(err, "recording bounce")
	}
	if disabled {
		svc.logger.Warn("notifications disabled after consecutive bounces", map[string]interface{}{
			"user_id": log.RecipientID, "email": log.RecipientEmail,
		})
	}
	return BounceResult{LogID: log.ID, NotificationsDisabled: disabled}, nil
}

// Preferences

// ListPreferences returns one preference per notification type; missing ones default to enabled.
func (svc *Service) ListPreferences(ctx context.Context, userID string) ([]Preference, error) {
	stored, err := svc.repo.ListPreferences(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "listing preferences")
	}
	byType := make(map[Type]Preference, len(stored))
	for _, p := range stored {
		byType[p.Type] = p
	}

	prefs := make([]Preference, 0, len(subjects))
	for _, typ := range AllTypes() {
		p, ok := byType[typ]
		if !ok {
			p = Preference{UserID: userID, Type: typ, Enabled: true}
		}
		prefs = append(prefs, p)
	}
	return prefs, nil
}

func (svc *Service) UpdatePreferences(ctx context.Context, userID string, updates []UpdatePreference) ([]Preference, error) {
	for _, up := range updates {
		if !up.Type.Valid() {
			return nil, core.NewFieldError("notification_type", fmt.Sprintf("unknown notification type %q", up.Type))
		}
	}

	now := NowFunc()
	for _, up := range updates {
		if _, err := svc.repo.UpsertPreference(ctx, Preference{
			UserID:    userID,
			Type:      up.Type,
			Enabled:   up.Enabled,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, errors.Wrap(err, "saving preference")
		}
	}
	return svc.ListPreferences(ctx, userID)
}

// Logs

func (svc *Service) QueryLogs(ctx context.Context, filter LogFilter, page core.Pagination) (core.Page[Log], error) {
	page.Clean()
	filter.Status = core.CleanString(filter.Status, true /* lower */)
	filter.Type = core.CleanString(filter.Type, true /* lower */)

	logs, total, err := svc.repo.QueryLogs(ctx, filter, page)
	if err != nil {
		return core.Page[Log]{}, errors.Wrap(err, "querying logs")
	}
	return core.NewPage(logs, total, page), nil
}
