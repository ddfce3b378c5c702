package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const (
	stateAudience = "google-calendar-oauth"
	stateTTL      = 10 * time.Minute
)

var (
	ErrInvalidState      = errors.New("invalid or expired oauth state")
	ErrMissingHeaders    = errors.New("missing channel headers")
	errMissingWatchField = "missing required fields in watch response"
)

// NowFunc is mocked in tests.
var NowFunc = func() time.Time { return time.Now().UTC() }

type (
	LessonSyncer interface {
		ApplyCalendarChange(ctx context.Context, eventID string, cancelled bool, start time.Time) (lesson.Lesson, bool, error)
	}

	ProfileFinder interface {
		GetByID(ctx context.Context, id string) (profile.Profile, error)
	}

	Service struct {
		repo     Repository
		provider Provider
		lessons  LessonSyncer
		profiles ProfileFinder
		notifier notification.Queuer
		logger   core.Logger
	}
)

func NewService(repo Repository, provider Provider, lessons LessonSyncer, profiles ProfileFinder, notifier notification.Queuer, logger core.Logger) *Service {
	return &Service{repo: repo, provider: provider, lessons: lessons, profiles: profiles, notifier: notifier, logger: logger}
}

// OAuth

// AuthURL returns the consent page URL; the state identifies userID for stateTTL.
func (svc *Service) AuthURL(userID string) (string, error) {
	state, err := signState(userID, NowFunc())
	if err != nil {
		return "", errors.Wrap(err, "signing state")
	}
	return svc.provider.AuthCodeURL(state), nil
}

func signState(userID string, now time.Time) (string, error) {
	claims := jwt.StandardClaims{
		Subject:   userID,
		Audience:  stateAudience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(stateTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(core.Conf.SecretKey))
}

func verifyState(state string) (string, error) {
	claims := new(jwt.StandardClaims)
	_, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return []byte(core.Conf.SecretKey), nil
	})
	if err != nil || !claims.VerifyAudience(stateAudience, true) || claims.Subject == "" {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}

// HandleCallback completes the OAuth flow: the tokens are stored and a push channel is opened.
func (svc *Service) HandleCallback(ctx context.Context, state, code string) (Integration, error) {
	userID, err := verifyState(state)
	if err != nil {
		return Integration{}, err
	}
	if code == "" {
		return Integration{}, core.NewFieldError("code", "missing authorization code")
	}

	tok, err := svc.provider.Exchange(ctx, code)
	if err != nil {
		return Integration{}, errors.Wrap(err, "exchanging code")
	}

	now := NowFunc()
	integ := Integration{
		UserID:       userID,
		Provider:     ProviderGoogle,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !tok.Expiry.IsZero() {
		integ.ExpiresAt = tok.Expiry.UnixMilli()
	}
	if integ, err = svc.repo.UpsertIntegration(ctx, integ); err != nil {
		return Integration{}, errors.Wrap(err, "saving integration")
	}

	if _, err = svc.Subscribe(ctx, integ); err != nil {
		svc.logger.Warn("creating calendar subscription", err, map[string]interface{}{"user_id": userID})
	}
	return integ, nil
}

// Subscribe opens a push channel for the integration's calendar.
func (svc *Service) Subscribe(ctx context.Context, integ Integration) (WebhookSubscription, error) {
	ch, err := svc.watch(ctx, integ)
	if err != nil {
		return WebhookSubscription{}, err
	}
	now := NowFunc()
	sub, err := svc.repo.CreateSubscription(ctx, WebhookSubscription{
		UserID:     integ.UserID,
		Provider:   integ.Provider,
		ChannelID:  ch.ID,
		ResourceID: ch.ResourceID,
		Expiration: ch.Expiration,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return sub, errors.Wrap(err, "saving subscription")
}

func (svc *Service) watch(ctx context.Context, integ Integration) (Channel, error) {
	ch, err := svc.provider.Watch(ctx, integ.Token(), uuid.NewString(), core.Conf.Google.WebhookURL)
	if err != nil {
		return Channel{}, err
	}
	if ch.ID == "" || ch.ResourceID == "" || ch.Expiration == 0 {
		return Channel{}, errors.New(errMissingWatchField)
	}
	return ch, nil
}

// Renewal

// RenewExpiring renews the subscriptions expiring within RenewalWindow, then removes expired ones.
func (svc *Service) RenewExpiring(ctx context.Context) (RenewalResult, error) {
	res := RenewalResult{Errors: []string{}, Results: []RenewalOutcome{}}
	now := NowFunc()

	subs, err := svc.repo.ListExpiringSubscriptions(ctx, ProviderGoogle, now.Add(RenewalWindow).UnixMilli())
	if err != nil {
		return res, errors.Wrap(err, "listing expiring subscriptions")
	}

	for _, sub := range subs {
		res.TotalChecked++
		out := RenewalOutcome{SubscriptionID: sub.ID}

		newSub, err := svc.renew(ctx, sub)
		if err != nil {
			out.Error = err.Error()
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", sub.ID, out.Error))
			svc.notifyRenewalFailure(ctx, sub, err)
		} else {
			out.Success = true
			out.NewChannelID = newSub.ChannelID
			res.Renewed++
		}
		res.Results = append(res.Results, out)
	}

	if res.Cleaned, err = svc.repo.DeleteExpiredSubscriptions(ctx, ProviderGoogle, now.UnixMilli()); err != nil {
		svc.logger.Warn("deleting expired subscriptions", err)
	}

	svc.logger.Info("webhook subscriptions renewed", map[string]interface{}{
		"checked": res.TotalChecked, "renewed": res.Renewed, "failed": res.Failed,
	})
	return res, nil
}

func (svc *Service) renew(ctx context.Context, sub WebhookSubscription) (WebhookSubscription, error) {
	integ, err := svc.repo.GetIntegration(ctx, sub.UserID, sub.Provider)
	if err != nil {
		if core.IsNotFound(err) {
			return WebhookSubscription{}, errors.New("user has no calendar integration")
		}
		return WebhookSubscription{}, errors.Wrap(err, "getting integration")
	}

	if err = svc.provider.Stop(ctx, integ.Token(), sub.ChannelID, sub.ResourceID); err != nil {
		svc.logger.Debug("stopping old channel", err, map[string]interface{}{"channel_id": sub.ChannelID})
	}

	ch, err := svc.watch(ctx, integ)
	if err != nil {
		return WebhookSubscription{}, err
	}
	sub.ChannelID = ch.ID
	sub.ResourceID = ch.ResourceID
	sub.Expiration = ch.Expiration
	sub.UpdatedAt = NowFunc()
	return svc.repo.UpdateSubscription(ctx, sub)
}

func (svc *Service) notifyRenewalFailure(ctx context.Context, sub WebhookSubscription, cause error) {
	p, err := svc.profiles.GetByID(ctx, sub.UserID)
	if err != nil {
		return
	}
	if _, err = svc.notifier.Queue(ctx, notification.Params{
		Type:        notification.TypeWebhookExpirationNotice,
		RecipientID: p.ID,
		TemplateData: map[string]interface{}{
			"recipientName": p.FullName(),
			"details":       fmt.Sprintf("Calendar sync expires on %s and could not be renewed: %v", sub.ExpiresAt().Format(time.RFC1123), cause),
		},
		EntityType: "webhook_subscription",
		EntityID:   sub.ID,
		Priority:   2,
	}); err != nil {
		svc.logger.Warn("queueing renewal notice", err)
	}
}

// Webhooks

// HandleWebhook acknowledges a push notification and syncs the channel owner's calendar in the background.
// It returns ErrMissingHeaders when channelID or state is empty and ErrSubscriptionNotFound for unknown channels.
func (svc *Service) HandleWebhook(ctx context.Context, channelID, state string) error {
	if channelID == "" || state == "" {
		return ErrMissingHeaders
	}
	if state == StateSync {
		return nil
	}

	sub, err := svc.repo.GetSubscriptionByChannel(ctx, channelID)
	if err != nil {
		return err
	}

	go func(userID string) {
		bgCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := svc.Sync(bgCtx, userID); err != nil {
			svc.logger.Error("background calendar sync", err, map[string]interface{}{"user_id": userID})
		}
	}(sub.UserID)
	return nil
}

// Sync reconciles the lessons linked to the user's recently changed calendar events.
func (svc *Service) Sync(ctx context.Context, userID string) (SyncResult, error) {
	var res SyncResult
	integ, err := svc.repo.GetIntegration(ctx, userID, ProviderGoogle)
	if err != nil {
		return res, err
	}

	events, err := svc.provider.ChangedEvents(ctx, integ.Token(), NowFunc().Add(-SyncWindow))
	if err != nil {
		return res, errors.Wrap(err, "listing changed events")
	}

	for _, ev := range events {
		res.Checked++
		_, changed, err := svc.lessons.ApplyCalendarChange(ctx, ev.ID, ev.Cancelled, ev.Start)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return res, errors.Wrap(err, "applying event "+ev.ID)
		}
		if changed {
			res.Updated++
		}
	}
	return res, nil
}
