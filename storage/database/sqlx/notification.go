package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

const (
	preferencesTable = "notification_preferences"
	logTable         = "notification_log"
	queueTable       = "notification_queue"
)

var (
	preferenceColumns = []string{"id", "user_id", "notification_type", "enabled", "created_at", "updated_at"}
	logColumns        = []string{
		"id", "notification_type", "recipient_user_id", "recipient_email", "status", "subject", "template_data",
		"sent_at", "error_message", "retry_count", "max_retries", "entity_type", "entity_id", "created_at", "updated_at",
	}
	queueColumns = []string{
		"id", "notification_type", "recipient_user_id", "template_data", "scheduled_for", "processed_at",
		"status", "priority", "entity_type", "entity_id", "created_at", "updated_at",
	}
)

type preferenceRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"notification_type"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r preferenceRow) unboil() notification.Preference {
	return notification.Preference{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      notification.Type(r.Type),
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type logRow struct {
	ID             string      `db:"id"`
	Type           string      `db:"notification_type"`
	RecipientID    string      `db:"recipient_user_id"`
	RecipientEmail string      `db:"recipient_email"`
	Status         string      `db:"status"`
	Subject        string      `db:"subject"`
	TemplateData   null.JSON   `db:"template_data"`
	SentAt         null.Time   `db:"sent_at"`
	ErrorMessage   null.String `db:"error_message"`
	RetryCount     int         `db:"retry_count"`
	MaxRetries     int         `db:"max_retries"`
	EntityType     null.String `db:"entity_type"`
	EntityID       null.String `db:"entity_id"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

func boilLog(l notification.Log) (logRow, error) {
	data, err := jsonMap(l.TemplateData)
	if err != nil {
		return logRow{}, err
	}
	return logRow{
		ID:             l.ID,
		Type:           string(l.Type),
		RecipientID:    l.RecipientID,
		RecipientEmail: l.RecipientEmail,
		Status:         string(l.Status),
		Subject:        l.Subject,
		TemplateData:   data,
		SentAt:         nullTime(l.SentAt),
		ErrorMessage:   nullString(l.ErrorMessage),
		RetryCount:     l.RetryCount,
		MaxRetries:     l.MaxRetries,
		EntityType:     nullString(l.EntityType),
		EntityID:       nullString(l.EntityID),
		CreatedAt:      l.CreatedAt.UTC(),
		UpdatedAt:      l.UpdatedAt.UTC(),
	}, nil
}

func (r logRow) unboil() notification.Log {
	return notification.Log{
		ID:             r.ID,
		Type:           notification.Type(r.Type),
		RecipientID:    r.RecipientID,
		RecipientEmail: r.RecipientEmail,
		Status:         notification.Status(r.Status),
		Subject:        r.Subject,
		TemplateData:   mapOf(r.TemplateData),
		SentAt:         timeOf(r.SentAt),
		ErrorMessage:   r.ErrorMessage.String,
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		EntityType:     r.EntityType.String,
		EntityID:       r.EntityID.String,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (r logRow) values() map[string]interface{} {
	return map[string]interface{}{
		"notification_type": r.Type,
		"recipient_user_id": r.RecipientID,
		"recipient_email":   r.RecipientEmail,
		"status":            r.Status,
		"subject":           r.Subject,
		"template_data":     r.TemplateData,
		"sent_at":           r.SentAt,
		"error_message":     r.ErrorMessage,
		"retry_count":       r.RetryCount,
		"max_retries":       r.MaxRetries,
		"entity_type":       r.EntityType,
		"entity_id":         r.EntityID,
		"created_at":        r.CreatedAt,
		"updated_at":        r.UpdatedAt,
	}
}

func unboilLogs(rows []logRow) []notification.Log {
	logs := make([]notification.Log, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, r.unboil())
	}
	return logs
}

type queueRow struct {
	ID           string      `db:"id"`
	Type         string      `db:"notification_type"`
	RecipientID  string      `db:"recipient_user_id"`
	TemplateData null.JSON   `db:"template_data"`
	ScheduledFor time.Time   `db:"scheduled_for"`
	ProcessedAt  null.Time   `db:"processed_at"`
	Status       string      `db:"status"`
	Priority     int         `db:"priority"`
	EntityType   null.String `db:"entity_type"`
	EntityID     null.String `db:"entity_id"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func boilQueueItem(item notification.QueueItem) (queueRow, error) {
	data, err := jsonMap(item.TemplateData)
	if err != nil {
		return queueRow{}, err
	}
	if !data.Valid {
		data = null.JSONFrom([]byte("{}"))
	}
	return queueRow{
		ID:           item.ID,
		Type:         string(item.Type),
		RecipientID:  item.RecipientID,
		TemplateData: data,
		ScheduledFor: item.ScheduledFor.UTC(),
		ProcessedAt:  nullTime(item.ProcessedAt),
		Status:       string(item.Status),
		Priority:     item.Priority,
		EntityType:   nullString(item.EntityType),
		EntityID:     nullString(item.EntityID),
		CreatedAt:    item.CreatedAt.UTC(),
		UpdatedAt:    item.UpdatedAt.UTC(),
	}, nil
}

func (r queueRow) unboil() notification.QueueItem {
	return notification.QueueItem{
		ID:           r.ID,
		Type:         notification.Type(r.Type),
		RecipientID:  r.RecipientID,
		TemplateData: mapOf(r.TemplateData),
		ScheduledFor: r.ScheduledFor.UTC(),
		ProcessedAt:  timeOf(r.ProcessedAt),
		Status:       notification.Status(r.Status),
		Priority:     r.Priority,
		EntityType:   r.EntityType.String,
		EntityID:     r.EntityID.String,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type notificationRepository struct {
	base
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) *notificationRepository {
	return &notificationRepository{base{exec: exec}}
}

// Preferences

func (repo notificationRepository) GetPreference(ctx context.Context, userID string, typ notification.Type) (notification.Preference, error) {
	if !validID(userID) {
		return notification.Preference{}, notification.ErrPreferenceNotFound
	}
	var row preferenceRow
	query := psql.Select(preferenceColumns...).From(preferencesTable).
		Where(sq.Eq{"user_id": userID, "notification_type": string(typ)})
	if err := repo.get(ctx, &row, query); err != nil {
		return notification.Preference{}, trapErr(err, notification.ErrPreferenceNotFound, "getting preference")
	}
	return row.unboil(), nil
}

func (repo notificationRepository) ListPreferences(ctx context.Context, userID string) ([]notification.Preference, error) {
	if !validID(userID) {
		return []notification.Preference{}, nil
	}
	var rows []preferenceRow
	query := psql.Select(preferenceColumns...).From(preferencesTable).Where(sq.Eq{"user_id": userID}).OrderBy("notification_type")
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing preferences")
	}
	prefs := make([]notification.Preference, 0, len(rows))
	for _, r := range rows {
		prefs = append(prefs, r.unboil())
	}
	return prefs, nil
}

func (repo notificationRepository) UpsertPreference(ctx context.Context, pref notification.Preference) (notification.Preference, error) {
	query := psql.Insert(preferencesTable).
		Columns("id", "user_id", "notification_type", "enabled", "created_at", "updated_at").
		Values(uuid.NewString(), pref.UserID, string(pref.Type), pref.Enabled, pref.CreatedAt.UTC(), pref.UpdatedAt.UTC()).
		Suffix("ON CONFLICT (user_id, notification_type) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at").
		Suffix("RETURNING " + joinColumns(preferenceColumns))

	var row preferenceRow
	if err := repo.get(ctx, &row, query); err != nil {
		return notification.Preference{}, trapErr(err, notification.ErrPreferenceNotFound, "upserting preference")
	}
	return row.unboil(), nil
}

// Logs

func (repo notificationRepository) CreateLog(ctx context.Context, log notification.Log) (notification.Log, error) {
	log.ID = uuid.NewString()
	row, err := boilLog(log)
	if err != nil {
		return notification.Log{}, err
	}
	vals := row.values()
	vals["id"] = row.ID
	if _, err = repo.run(ctx, psql.Insert(logTable).SetMap(vals)); err != nil {
		return notification.Log{}, trapErr(err, notification.ErrLogNotFound, "inserting log")
	}
	return log, nil
}

func (repo notificationRepository) getLog(ctx context.Context, query sq.SelectBuilder) (notification.Log, error) {
	var row logRow
	if err := repo.get(ctx, &row, query); err != nil {
		return notification.Log{}, trapErr(err, notification.ErrLogNotFound, "getting log")
	}
	return row.unboil(), nil
}

func (repo notificationRepository) GetLog(ctx context.Context, id string) (notification.Log, error) {
	if !validID(id) {
		return notification.Log{}, notification.ErrLogNotFound
	}
	return repo.getLog(ctx, psql.Select(logColumns...).From(logTable).Where(sq.Eq{"id": id}))
}

func (repo notificationRepository) UpdateLog(ctx context.Context, log notification.Log) (notification.Log, error) {
	if !validID(log.ID) {
		return notification.Log{}, notification.ErrLogNotFound
	}
	row, err := boilLog(log)
	if err != nil {
		return notification.Log{}, err
	}
	n, err := repo.run(ctx, psql.Update(logTable).SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return notification.Log{}, errors.Wrap(err, "updating log")
	}
	if n == 0 {
		return notification.Log{}, notification.ErrLogNotFound
	}
	return log, nil
}

func (repo notificationRepository) GetLatestLogByEmail(ctx context.Context, email string) (notification.Log, error) {
	return repo.getLog(ctx, psql.Select(logColumns...).From(logTable).
		Where(sq.Eq{"recipient_email": email}).
		OrderBy("created_at DESC").
		Limit(1))
}

func (repo notificationRepository) QueryLogs(ctx context.Context, filter notification.LogFilter, page core.Pagination) ([]notification.Log, int, error) {
	where := sq.And{}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": filter.Status})
	}
	if filter.Type != "" {
		where = append(where, sq.Eq{"notification_type": filter.Type})
	}
	if filter.RecipientID != "" {
		if !validID(filter.RecipientID) {
			return []notification.Log{}, 0, nil
		}
		where = append(where, sq.Eq{"recipient_user_id": filter.RecipientID})
	}

	total, err := repo.count(ctx, psql.Select("COUNT(*)").From(logTable).Where(where))
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting logs")
	}

	var rows []logRow
	query := paginate(psql.Select(logColumns...).From(logTable).Where(where).OrderBy("created_at DESC"), page)
	if err = repo.selectAll(ctx, &rows, query); err != nil {
		return nil, 0, errors.Wrap(err, "querying logs")
	}
	return unboilLogs(rows), total, nil
}

func (repo notificationRepository) listFailed(ctx context.Context, retries sq.Sqlizer, limit int) ([]notification.Log, error) {
	query := psql.Select(logColumns...).From(logTable).
		Where(sq.Eq{"status": string(notification.StatusFailed)}).
		Where(retries).
		OrderBy("created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	var rows []logRow
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing failed logs")
	}
	return unboilLogs(rows), nil
}

func (repo notificationRepository) ListFailedLogs(ctx context.Context, maxRetries, limit int) ([]notification.Log, error) {
	return repo.listFailed(ctx, sq.Lt{"retry_count": maxRetries}, limit)
}

func (repo notificationRepository) ListExhaustedLogs(ctx context.Context, maxRetries, limit int) ([]notification.Log, error) {
	return repo.listFailed(ctx, sq.GtOrEq{"retry_count": maxRetries}, limit)
}

// Queue

func (repo notificationRepository) CreateQueueItem(ctx context.Context, item notification.QueueItem) (notification.QueueItem, error) {
	item.ID = uuid.NewString()
	row, err := boilQueueItem(item)
	if err != nil {
		return notification.QueueItem{}, err
	}
	_, err = repo.run(ctx, psql.Insert(queueTable).SetMap(map[string]interface{}{
		"id":                row.ID,
		"notification_type": row.Type,
		"recipient_user_id": row.RecipientID,
		"template_data":     row.TemplateData,
		"scheduled_for":     row.ScheduledFor,
		"processed_at":      row.ProcessedAt,
		"status":            row.Status,
		"priority":          row.Priority,
		"entity_type":       row.EntityType,
		"entity_id":         row.EntityID,
		"created_at":        row.CreatedAt,
		"updated_at":        row.UpdatedAt,
	}))
	if err != nil {
		return notification.QueueItem{}, errors.Wrap(err, "inserting queue item")
	}
	return item, nil
}

func (repo notificationRepository) ListDueQueueItems(ctx context.Context, now time.Time, limit int) ([]notification.QueueItem, error) {
	query := psql.Select(queueColumns...).From(queueTable).
		Where(sq.Eq{"status": string(notification.StatusPending)}).
		Where(sq.LtOrEq{"scheduled_for": now.UTC()}).
		OrderBy("priority ASC", "scheduled_for ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	var rows []queueRow
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing due queue items")
	}
	items := make([]notification.QueueItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.unboil())
	}
	return items, nil
}

func (repo notificationRepository) UpdateQueueItem(ctx context.Context, item notification.QueueItem) error {
	if !validID(item.ID) {
		return errors.New("invalid queue item id")
	}
	_, err := repo.run(ctx, psql.Update(queueTable).
		Set("status", string(item.Status)).
		Set("processed_at", nullTime(item.ProcessedAt)).
		Set("updated_at", item.UpdatedAt.UTC()).
		Where(sq.Eq{"id": item.ID}))
	return errors.Wrap(err, "updating queue item")
}
