package dummydb

import (
	"context"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
)

type calendarRepository struct {
	integrations  *table[calendar.Integration]
	subscriptions *table[calendar.WebhookSubscription]
}

var _ calendar.Repository = (*calendarRepository)(nil) // interface compliance check

func NewCalendarRepository(db *DB) *calendarRepository {
	return &calendarRepository{integrations: db.integrations, subscriptions: db.subscriptions}
}

func integrationKey(userID, provider string) string { return userID + ":" + provider }

func (repo *calendarRepository) GetIntegration(_ context.Context, userID, provider string) (calendar.Integration, error) {
	repo.integrations.RLock()
	defer repo.integrations.RUnlock()

	if i, ok := repo.integrations.rows[integrationKey(userID, provider)]; ok {
		return *i, nil
	}
	return calendar.Integration{}, calendar.ErrIntegrationNotFound
}

func (repo *calendarRepository) UpsertIntegration(_ context.Context, i calendar.Integration) (calendar.Integration, error) {
	repo.integrations.Lock()
	defer repo.integrations.Unlock()

	key := integrationKey(i.UserID, i.Provider)
	if existing, ok := repo.integrations.rows[key]; ok {
		existing.AccessToken = i.AccessToken
		if i.RefreshToken != "" {
			existing.RefreshToken = i.RefreshToken
		}
		existing.ExpiresAt = i.ExpiresAt
		existing.UpdatedAt = i.UpdatedAt
		return *existing, nil
	}
	repo.integrations.rows[key] = &i
	return i, nil
}

func (repo *calendarRepository) CreateSubscription(_ context.Context, s calendar.WebhookSubscription) (calendar.WebhookSubscription, error) {
	repo.subscriptions.Lock()
	defer repo.subscriptions.Unlock()

	for _, existing := range repo.subscriptions.rows {
		if existing.ChannelID == s.ChannelID {
			return calendar.WebhookSubscription{}, core.ErrConflict
		}
	}
	s.ID = newID()
	repo.subscriptions.rows[s.ID] = &s
	return s, nil
}

func (repo *calendarRepository) GetSubscriptionByChannel(_ context.Context, channelID string) (calendar.WebhookSubscription, error) {
	repo.subscriptions.RLock()
	defer repo.subscriptions.RUnlock()

	found := repo.subscriptions.all(func(s calendar.WebhookSubscription) bool { return s.ChannelID == channelID })
	if len(found) == 0 {
		return calendar.WebhookSubscription{}, calendar.ErrSubscriptionNotFound
	}
	return found[0], nil
}

func (repo *calendarRepository) ListExpiringSubscriptions(_ context.Context, provider string, before int64) ([]calendar.WebhookSubscription, error) {
	repo.subscriptions.RLock()
	defer repo.subscriptions.RUnlock()

	subs := repo.subscriptions.all(func(s calendar.WebhookSubscription) bool {
		return s.Provider == provider && s.Expiration < before
	})
	orderItems(subs, []core.DBOrdering{{Field: "expiration", Ascending: true}}, func(s calendar.WebhookSubscription, _ string) interface{} {
		return int(s.Expiration)
	})
	return subs, nil
}

func (repo *calendarRepository) UpdateSubscription(_ context.Context, s calendar.WebhookSubscription) (calendar.WebhookSubscription, error) {
	repo.subscriptions.Lock()
	defer repo.subscriptions.Unlock()

	orig, ok := repo.subscriptions.rows[s.ID]
	if !ok {
		return calendar.WebhookSubscription{}, calendar.ErrSubscriptionNotFound
	}
	orig.ChannelID = s.ChannelID
	orig.ResourceID = s.ResourceID
	orig.Expiration = s.Expiration
	orig.UpdatedAt = s.UpdatedAt
	return *orig, nil
}

func (repo *calendarRepository) DeleteExpiredSubscriptions(_ context.Context, provider string, before int64) (int, error) {
	repo.subscriptions.Lock()
	defer repo.subscriptions.Unlock()

	n := 0
	for id, s := range repo.subscriptions.rows {
		if s.Provider == provider && s.Expiration < before {
			delete(repo.subscriptions.rows, id)
			n++
		}
	}
	return n, nil
}
