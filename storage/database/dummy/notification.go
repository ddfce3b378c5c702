package dummydb

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

type notificationRepository struct {
	preferences *table[notification.Preference]
	logs        *table[notification.Log]
	queue       *table[notification.QueueItem]
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{preferences: db.preferences, logs: db.logs, queue: db.queue}
}

func preferenceKey(userID string, typ notification.Type) string { return userID + ":" + string(typ) }

func byCreatedAt(desc bool) []core.DBOrdering {
	return []core.DBOrdering{{Field: "created_at", Ascending: !desc}}
}

func logField(l notification.Log, _ string) interface{} { return l.CreatedAt }

// Preferences

func (repo *notificationRepository) GetPreference(_ context.Context, userID string, typ notification.Type) (notification.Preference, error) {
	repo.preferences.RLock()
	defer repo.preferences.RUnlock()

	if pref, ok := repo.preferences.rows[preferenceKey(userID, typ)]; ok {
		return *pref, nil
	}
	return notification.Preference{}, notification.ErrPreferenceNotFound
}

func (repo *notificationRepository) ListPreferences(_ context.Context, userID string) ([]notification.Preference, error) {
	repo.preferences.RLock()
	defer repo.preferences.RUnlock()

	prefs := repo.preferences.all(func(p notification.Preference) bool { return p.UserID == userID })
	orderItems(prefs, []core.DBOrdering{{Field: "notification_type", Ascending: true}}, func(p notification.Preference, _ string) interface{} {
		return string(p.Type)
	})
	return prefs, nil
}

func (repo *notificationRepository) UpsertPreference(_ context.Context, pref notification.Preference) (notification.Preference, error) {
	repo.preferences.Lock()
	defer repo.preferences.Unlock()

	key := preferenceKey(pref.UserID, pref.Type)
	if existing, ok := repo.preferences.rows[key]; ok {
		existing.Enabled = pref.Enabled
		existing.UpdatedAt = pref.UpdatedAt
		return *existing, nil
	}
	pref.ID = newID()
	repo.preferences.rows[key] = &pref
	return pref, nil
}

// Logs

func (repo *notificationRepository) CreateLog(_ context.Context, log notification.Log) (notification.Log, error) {
	repo.logs.Lock()
	defer repo.logs.Unlock()

	log.ID = newID()
	repo.logs.rows[log.ID] = &log
	return log, nil
}

func (repo *notificationRepository) GetLog(_ context.Context, id string) (notification.Log, error) {
	repo.logs.RLock()
	defer repo.logs.RUnlock()

	if log, ok := repo.logs.rows[id]; ok {
		return *log, nil
	}
	return notification.Log{}, notification.ErrLogNotFound
}

func (repo *notificationRepository) UpdateLog(_ context.Context, log notification.Log) (notification.Log, error) {
	repo.logs.Lock()
	defer repo.logs.Unlock()

	if _, ok := repo.logs.rows[log.ID]; !ok {
		return notification.Log{}, notification.ErrLogNotFound
	}
	repo.logs.rows[log.ID] = &log
	return log, nil
}

func (repo *notificationRepository) GetLatestLogByEmail(_ context.Context, email string) (notification.Log, error) {
	repo.logs.RLock()
	defer repo.logs.RUnlock()

	logs := repo.logs.all(func(l notification.Log) bool { return l.RecipientEmail == email })
	if len(logs) == 0 {
		return notification.Log{}, notification.ErrLogNotFound
	}
	orderItems(logs, byCreatedAt(true), logField)
	return logs[0], nil
}

func (repo *notificationRepository) QueryLogs(_ context.Context, filter notification.LogFilter, page core.Pagination) ([]notification.Log, int, error) {
	repo.logs.RLock()
	defer repo.logs.RUnlock()

	logs := repo.logs.all(func(l notification.Log) bool {
		switch {
		case filter.Status != "" && string(l.Status) != filter.Status:
			return false
		case filter.Type != "" && string(l.Type) != filter.Type:
			return false
		case filter.RecipientID != "" && l.RecipientID != filter.RecipientID:
			return false
		}
		return true
	})
	orderItems(logs, byCreatedAt(true), logField)
	return paginate(logs, page), len(logs), nil
}

func (repo *notificationRepository) listFailed(retries func(int) bool, limit int) []notification.Log {
	repo.logs.RLock()
	defer repo.logs.RUnlock()

	logs := repo.logs.all(func(l notification.Log) bool {
		return l.Status == notification.StatusFailed && retries(l.RetryCount)
	})
	orderItems(logs, byCreatedAt(false), logField)
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs
}

func (repo *notificationRepository) ListFailedLogs(_ context.Context, maxRetries, limit int) ([]notification.Log, error) {
	return repo.listFailed(func(n int) bool { return n < maxRetries }, limit), nil
}

func (repo *notificationRepository) ListExhaustedLogs(_ context.Context, maxRetries, limit int) ([]notification.Log, error) {
	return repo.listFailed(func(n int) bool { return n >= maxRetries }, limit), nil
}

// Queue

func (repo *notificationRepository) CreateQueueItem(_ context.Context, item notification.QueueItem) (notification.QueueItem, error) {
	repo.queue.Lock()
	defer repo.queue.Unlock()

	item.ID = newID()
	repo.queue.rows[item.ID] = &item
	return item, nil
}

func (repo *notificationRepository) ListDueQueueItems(_ context.Context, now time.Time, limit int) ([]notification.QueueItem, error) {
	repo.queue.RLock()
	defer repo.queue.RUnlock()

	items := repo.queue.all(func(q notification.QueueItem) bool {
		return q.Status == notification.StatusPending && !q.ScheduledFor.After(now)
	})
	ordering := []core.DBOrdering{{Field: "priority", Ascending: true}, {Field: "scheduled_for", Ascending: true}}
	orderItems(items, ordering, func(q notification.QueueItem, field string) interface{} {
		if field == "priority" {
			return q.Priority
		}
		return q.ScheduledFor
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (repo *notificationRepository) UpdateQueueItem(_ context.Context, item notification.QueueItem) error {
	repo.queue.Lock()
	defer repo.queue.Unlock()

	orig, ok := repo.queue.rows[item.ID]
	if !ok {
		return nil
	}
	orig.Status = item.Status
	orig.ProcessedAt = item.ProcessedAt
	orig.UpdatedAt = item.UpdatedAt
	return nil
}

// QueueItems returns every queued item; tests use it to inspect queued notifications.
func (repo *notificationRepository) QueueItems() []notification.QueueItem {
	repo.queue.RLock()
	defer repo.queue.RUnlock()

	items := repo.queue.all(nil)
	orderItems(items, byCreatedAt(false), func(q notification.QueueItem, _ string) interface{} { return q.CreatedAt })
	return items
}
