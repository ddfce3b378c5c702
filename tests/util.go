package testutil

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

// CreateProfile stores a profile holding roles; students start active.
func CreateProfile(
	t *testing.T,
	repo profile.Repository,
	firstName, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) profile.Profile {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	p := profile.Profile{
		FirstName:            firstName,
		Username:             uname,
		Email:                email,
		IsActive:             isActive,
		NotificationsEnabled: true,
		StudentStatus:        profile.StatusActive,
		CreatedAt:            tstamp,
		UpdatedAt:            tstamp,
	}
	p.SetRoles(roles...)
	if pwd != "" {
		if err := p.SetPassword(pwd); err != nil {
			t.Fatalf("CreateProfile() failed: %v", err)
		}
	}
	p, err := repo.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateProfile() failed: %v", err)
	}
	return p
}

// ProfileFinder looks profiles up by ID straight from a repository.
type ProfileFinder struct {
	Repo profile.Repository
}

func (f ProfileFinder) GetByID(ctx context.Context, id string) (profile.Profile, error) {
	return f.Repo.Get(ctx, id)
}

// Queuer records queued notifications instead of storing them.
type Queuer struct {
	mu     sync.Mutex
	Params []notification.Params
}

var _ notification.Queuer = (*Queuer)(nil)

func (q *Queuer) Queue(_ context.Context, p notification.Params) (notification.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Params = append(q.Params, p)
	return notification.QueueItem{Type: p.Type, RecipientID: p.RecipientID, Status: notification.StatusPending}, nil
}

// Types lists the queued notification types in order.
func (q *Queuer) Types() []notification.Type {
	q.mu.Lock()
	defer q.mu.Unlock()
	types := make([]notification.Type, 0, len(q.Params))
	for _, p := range q.Params {
		types = append(types, p.Type)
	}
	return types
}

func (q *Queuer) Last() notification.Params {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.Params) == 0 {
		return notification.Params{}
	}
	return q.Params[len(q.Params)-1]
}

// CalendarProvider is an in-memory calendar.Provider recording the channels it opens.
type CalendarProvider struct {
	mu sync.Mutex

	Token     calendar.Token
	Events    []calendar.Event
	Err       error
	Watched   []string // channel IDs
	Stopped   []string // channel IDs
	Exchanged []string // auth codes
}

var _ calendar.Provider = (*CalendarProvider)(nil)

func NewCalendarProvider() *CalendarProvider {
	return &CalendarProvider{
		Token: calendar.Token{
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
			Expiry:       time.Now().Add(time.Hour).UTC(),
		},
	}
}

func (p *CalendarProvider) AuthCodeURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *CalendarProvider) Exchange(_ context.Context, code string) (calendar.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return calendar.Token{}, p.Err
	}
	p.Exchanged = append(p.Exchanged, code)
	return p.Token, nil
}

func (p *CalendarProvider) Watch(_ context.Context, _ calendar.Token, channelID, _ string) (calendar.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return calendar.Channel{}, p.Err
	}
	p.Watched = append(p.Watched, channelID)
	return calendar.Channel{
		ID:         channelID,
		ResourceID: uuid.NewString(),
		Expiration: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}, nil
}

func (p *CalendarProvider) Stop(_ context.Context, _ calendar.Token, channelID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Stopped = append(p.Stopped, channelID)
	return nil
}

func (p *CalendarProvider) ChangedEvents(context.Context, calendar.Token, time.Time) ([]calendar.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Events, nil
}

// EventsInRange returns the timed events starting in [from, to).
func (p *CalendarProvider) EventsInRange(_ context.Context, _ calendar.Token, from, to time.Time) ([]calendar.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	var events []calendar.Event
	for _, ev := range p.Events {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			events = append(events, ev)
		}
	}
	return events, nil
}
