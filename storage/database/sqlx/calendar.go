package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
)

const (
	integrationsTable  = "user_integrations"
	subscriptionsTable = "webhook_subscriptions"
)

var (
	integrationColumns  = []string{"user_id", "provider", "access_token", "refresh_token", "expires_at", "created_at", "updated_at"}
	subscriptionColumns = []string{"id", "user_id", "provider", "channel_id", "resource_id", "expiration", "created_at", "updated_at"}
)

type integrationRow struct {
	UserID       string      `db:"user_id"`
	Provider     string      `db:"provider"`
	AccessToken  null.String `db:"access_token"`
	RefreshToken null.String `db:"refresh_token"`
	ExpiresAt    null.Int64  `db:"expires_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (r integrationRow) unboil() calendar.Integration {
	return calendar.Integration{
		UserID:       r.UserID,
		Provider:     r.Provider,
		AccessToken:  r.AccessToken.String,
		RefreshToken: r.RefreshToken.String,
		ExpiresAt:    r.ExpiresAt.Int64,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type subscriptionRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Provider   string    `db:"provider"`
	ChannelID  string    `db:"channel_id"`
	ResourceID string    `db:"resource_id"`
	Expiration int64     `db:"expiration"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r subscriptionRow) unboil() calendar.WebhookSubscription {
	return calendar.WebhookSubscription{
		ID:         r.ID,
		UserID:     r.UserID,
		Provider:   r.Provider,
		ChannelID:  r.ChannelID,
		ResourceID: r.ResourceID,
		Expiration: r.Expiration,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type calendarRepository struct {
	base
}

var _ calendar.Repository = (*calendarRepository)(nil) // interface compliance check

func NewCalendarRepository(exec core.DBExecutor) *calendarRepository {
	return &calendarRepository{base{exec: exec}}
}

func (repo calendarRepository) GetIntegration(ctx context.Context, userID, provider string) (calendar.Integration, error) {
	if !validID(userID) {
		return calendar.Integration{}, calendar.ErrIntegrationNotFound
	}
	var row integrationRow
	query := psql.Select(integrationColumns...).From(integrationsTable).Where(sq.Eq{"user_id": userID, "provider": provider})
	if err := repo.get(ctx, &row, query); err != nil {
		return calendar.Integration{}, trapErr(err, calendar.ErrIntegrationNotFound, "getting integration")
	}
	return row.unboil(), nil
}

func (repo calendarRepository) UpsertIntegration(ctx context.Context, i calendar.Integration) (calendar.Integration, error) {
	query := psql.Insert(integrationsTable).
		Columns(integrationColumns...).
		Values(i.UserID, i.Provider, nullString(i.AccessToken), nullString(i.RefreshToken), nullInt64(i.ExpiresAt), i.CreatedAt.UTC(), i.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, user_integrations.refresh_token),
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`).
		Suffix("RETURNING " + joinColumns(integrationColumns))

	var row integrationRow
	if err := repo.get(ctx, &row, query); err != nil {
		return calendar.Integration{}, errors.Wrap(err, "upserting integration")
	}
	return row.unboil(), nil
}

func (repo calendarRepository) CreateSubscription(ctx context.Context, s calendar.WebhookSubscription) (calendar.WebhookSubscription, error) {
	s.ID = uuid.NewString()
	_, err := repo.run(ctx, psql.Insert(subscriptionsTable).
		Columns(subscriptionColumns...).
		Values(s.ID, s.UserID, s.Provider, s.ChannelID, s.ResourceID, s.Expiration, s.CreatedAt.UTC(), s.UpdatedAt.UTC()))
	if err != nil {
		return calendar.WebhookSubscription{}, trapErr(err, calendar.ErrSubscriptionNotFound, "inserting subscription")
	}
	return s, nil
}

func (repo calendarRepository) GetSubscriptionByChannel(ctx context.Context, channelID string) (calendar.WebhookSubscription, error) {
	var row subscriptionRow
	query := psql.Select(subscriptionColumns...).From(subscriptionsTable).Where(sq.Eq{"channel_id": channelID})
	if err := repo.get(ctx, &row, query); err != nil {
		return calendar.WebhookSubscription{}, trapErr(err, calendar.ErrSubscriptionNotFound, "getting subscription")
	}
	return row.unboil(), nil
}

func (repo calendarRepository) ListExpiringSubscriptions(ctx context.Context, provider string, before int64) ([]calendar.WebhookSubscription, error) {
	var rows []subscriptionRow
	query := psql.Select(subscriptionColumns...).From(subscriptionsTable).
		Where(sq.Eq{"provider": provider}).
		Where(sq.Lt{"expiration": before}).
		OrderBy("expiration ASC")
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing expiring subscriptions")
	}
	subs := make([]calendar.WebhookSubscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.unboil())
	}
	return subs, nil
}

func (repo calendarRepository) UpdateSubscription(ctx context.Context, s calendar.WebhookSubscription) (calendar.WebhookSubscription, error) {
	if !validID(s.ID) {
		return calendar.WebhookSubscription{}, calendar.ErrSubscriptionNotFound
	}
	n, err := repo.run(ctx, psql.Update(subscriptionsTable).
		Set("channel_id", s.ChannelID).
		Set("resource_id", s.ResourceID).
		Set("expiration", s.Expiration).
		Set("updated_at", s.UpdatedAt.UTC()).
		Where(sq.Eq{"id": s.ID}))
	if err != nil {
		return calendar.WebhookSubscription{}, trapErr(err, calendar.ErrSubscriptionNotFound, "updating subscription")
	}
	if n == 0 {
		return calendar.WebhookSubscription{}, calendar.ErrSubscriptionNotFound
	}
	return s, nil
}

func (repo calendarRepository) DeleteExpiredSubscriptions(ctx context.Context, provider string, before int64) (int, error) {
	n, err := repo.run(ctx, psql.Delete(subscriptionsTable).
		Where(sq.Eq{"provider": provider}).
		Where(sq.Lt{"expiration": before}))
	if err != nil {
		return 0, errors.Wrap(err, "deleting expired subscriptions")
	}
	return int(n), nil
}
