// Package googlesvc implements the calendar provider on top of the Google Calendar API.
package googlesvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
)

const primaryCalendar = "primary"

type CalendarProvider struct {
	oauth *oauth2.Config
}

var _ calendar.Provider = (*CalendarProvider)(nil) // interface compliance check

func NewCalendarProvider(conf core.GoogleConfig) *CalendarProvider {
	return &CalendarProvider{
		oauth: &oauth2.Config{
			ClientID:     conf.ClientID,
			ClientSecret: conf.ClientSecret,
			RedirectURL:  conf.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{gcal.CalendarScope},
		},
	}
}

// AuthCodeURL requests offline access so that a refresh token is issued.
func (p *CalendarProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *CalendarProvider) Exchange(ctx context.Context, code string) (calendar.Token, error) {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return calendar.Token{}, errors.Wrap(err, "exchanging authorization code")
	}
	return calendar.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
}

func (p *CalendarProvider) service(ctx context.Context, tok calendar.Token) (*gcal.Service, error) {
	src := p.oauth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
	return svc, errors.Wrap(err, "creating calendar client")
}

func (p *CalendarProvider) Watch(ctx context.Context, tok calendar.Token, channelID, address string) (calendar.Channel, error) {
	svc, err := p.service(ctx, tok)
	if err != nil {
		return calendar.Channel{}, err
	}
	ch, err := svc.Events.Watch(primaryCalendar, &gcal.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
	}).Context(ctx).Do()
	if err != nil {
		return calendar.Channel{}, errors.Wrap(err, "watching calendar")
	}
	return calendar.Channel{ID: ch.Id, ResourceID: ch.ResourceId, Expiration: ch.Expiration}, nil
}

func (p *CalendarProvider) Stop(ctx context.Context, tok calendar.Token, channelID, resourceID string) error {
	svc, err := p.service(ctx, tok)
	if err != nil {
		return err
	}
	err = svc.Channels.Stop(&gcal.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	return errors.Wrap(err, "stopping channel")
}

func (p *CalendarProvider) ChangedEvents(ctx context.Context, tok calendar.Token, since time.Time) ([]calendar.Event, error) {
	svc, err := p.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	var events []calendar.Event
	call := svc.Events.List(primaryCalendar).
		UpdatedMin(since.UTC().Format(time.RFC3339)).
		ShowDeleted(true).
		SingleEvents(true).
		MaxResults(250)
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			events = append(events, toEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing events")
	}
	return events, nil
}

func (p *CalendarProvider) EventsInRange(ctx context.Context, tok calendar.Token, from, to time.Time) ([]calendar.Event, error) {
	svc, err := p.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	var events []calendar.Event
	call := svc.Events.List(primaryCalendar).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			events = append(events, toEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing events in range")
	}
	return events, nil
}

func toEvent(item *gcal.Event) calendar.Event {
	ev := calendar.Event{
		ID:          item.Id,
		Cancelled:   item.Status == "cancelled",
		Start:       eventStart(item.Start),
		Title:       item.Summary,
		Description: item.Description,
	}
	for _, a := range item.Attendees {
		if a == nil || a.Email == "" {
			continue
		}
		ev.Attendees = append(ev.Attendees, calendar.Attendee{Email: a.Email, Name: a.DisplayName, Self: a.Self})
	}
	return ev
}

// eventStart returns the zero time for all-day or missing starts.
func eventStart(dt *gcal.EventDateTime) time.Time {
	if dt == nil || dt.DateTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
