package notification

import (
	"context"

	"github.com/pkg/errors"
)

// Queue stores notifications for the queue processor.
type Queue struct {
	repo Repository
}

var _ Queuer = (*Queue)(nil)

func NewQueue(repo Repository) *Queue {
	return &Queue{repo: repo}
}

func (q *Queue) Queue(ctx context.Context, params Params) (QueueItem, error) {
	if !params.Type.Valid() {
		return QueueItem{}, errors.Errorf("unknown notification type %q", params.Type)
	}
	if params.RecipientID == "" {
		return QueueItem{}, errors.New("missing notification recipient")
	}

	now := NowFunc()
	item := QueueItem{
		Type:         params.Type,
		RecipientID:  params.RecipientID,
		TemplateData: params.TemplateData,
		ScheduledFor: params.ScheduledFor.UTC(),
		Status:       StatusPending,
		Priority:     params.Priority,
		EntityType:   params.EntityType,
		EntityID:     params.EntityID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params.ScheduledFor.IsZero() {
		item.ScheduledFor = now
	}
	if item.Priority <= 0 {
		item.Priority = DefaultPriority
	}
	if item.TemplateData == nil {
		item.TemplateData = map[string]interface{}{}
	}

	item, err := q.repo.CreateQueueItem(ctx, item)
	return item, errors.Wrap(err, "queueing notification")
}
