package calendar

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

// ProviderGoogle is the only calendar provider.
const ProviderGoogle = "google_calendar"

// Google push notification resource states
const (
	StateSync      = "sync"
	StateExists    = "exists"
	StateNotExists = "not_exists"
)

const (
	// RenewalWindow is how long before expiration a subscription gets renewed.
	RenewalWindow = 24 * time.Hour
	// SyncWindow bounds how far back changed events are fetched.
	SyncWindow = 7 * 24 * time.Hour
)

var (
	ErrIntegrationNotFound  = core.NotFoundError{Resource: "calendar integration"}
	ErrSubscriptionNotFound = core.NotFoundError{Resource: "webhook subscription"}
)

type Integration struct {
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    int64     `json:"expires_at"` // ms since epoch
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (i Integration) Token() Token {
	t := Token{AccessToken: i.AccessToken, RefreshToken: i.RefreshToken}
	if i.ExpiresAt > 0 {
		t.Expiry = time.UnixMilli(i.ExpiresAt).UTC()
	}
	return t
}

type WebhookSubscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration int64     `json:"expiration"` // ms since epoch
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s WebhookSubscription) ExpiresAt() time.Time {
	return time.UnixMilli(s.Expiration).UTC()
}

// Token is an OAuth token of a calendar provider.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Channel is a push notification channel opened on a calendar.
type Channel struct {
	ID         string
	ResourceID string
	Expiration int64 // ms since epoch
}

// Event is a calendar event; Start is zero for all-day events.
type Event struct {
	ID          string
	Cancelled   bool
	Start       time.Time
	Title       string
	Description string
	Attendees   []Attendee
}

type Attendee struct {
	Email string
	Name  string
	Self  bool // the calendar owner
}

type (
	Provider interface {
		AuthCodeURL(state string) string
		Exchange(ctx context.Context, code string) (Token, error)
		// Watch opens a push channel with channelID on the primary calendar, delivering to address.
		Watch(ctx context.Context, tok Token, channelID, address string) (Channel, error)
		Stop(ctx context.Context, tok Token, channelID, resourceID string) error
		// ChangedEvents lists the primary calendar events updated since the given time.
		ChangedEvents(ctx context.Context, tok Token, since time.Time) ([]Event, error)
		// EventsInRange lists the primary calendar events starting in [from, to).
		EventsInRange(ctx context.Context, tok Token, from, to time.Time) ([]Event, error)
	}

	Repository interface {
		GetIntegration(ctx context.Context, userID, provider string) (Integration, error)
		UpsertIntegration(ctx context.Context, i Integration) (Integration, error)

		CreateSubscription(ctx context.Context, s WebhookSubscription) (WebhookSubscription, error)
		GetSubscriptionByChannel(ctx context.Context, channelID string) (WebhookSubscription, error)
		// ListExpiringSubscriptions returns the provider's subscriptions expiring before the ms timestamp.
		ListExpiringSubscriptions(ctx context.Context, provider string, before int64) ([]WebhookSubscription, error)
		UpdateSubscription(ctx context.Context, s WebhookSubscription) (WebhookSubscription, error)
		// DeleteExpiredSubscriptions removes the provider's subscriptions expired before the ms timestamp.
		DeleteExpiredSubscriptions(ctx context.Context, provider string, before int64) (int, error)
	}
)

type RenewalOutcome struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	NewChannelID   string `json:"new_channel_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type RenewalResult struct {
	TotalChecked int              `json:"total_checked"`
	Renewed      int              `json:"renewed"`
	Failed       int              `json:"failed"`
	Cleaned      int              `json:"cleaned"`
	Errors       []string         `json:"errors"`
	Results      []RenewalOutcome `json:"results"`
}

type SyncResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
}
