package notification

import (
	"context"
	"net/url"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

const unsubscribeAudience = "notification-unsubscribe"

var (
	ErrInvalidUnsubscribeToken = errors.New("invalid unsubscribe token")
	ErrInvalidType             = errors.New("invalid notification type")
)

type unsubscribeClaims struct {
	Type Type `json:"typ"`
	jwt.StandardClaims
}

// UnsubscribeToken signs an opt-out of typ for userID. It does not expire.
func UnsubscribeToken(userID string, typ Type) (string, error) {
	claims := unsubscribeClaims{
		Type: typ,
		StandardClaims: jwt.StandardClaims{
			Subject:  userID,
			Audience: unsubscribeAudience,
			IssuedAt: NowFunc().Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(core.Conf.SecretKey))
}

// UnsubscribeURL is the API link that disables typ for userID in one click.
func UnsubscribeURL(userID string, typ Type) (string, error) {
	token, err := UnsubscribeToken(userID, typ)
	if err != nil {
		return "", err
	}
	return core.Conf.APIBaseURL + "/api/notifications/unsubscribe?" + url.Values{"token": {token}}.Encode(), nil
}

func parseUnsubscribeToken(token string) (string, Type, error) {
	claims := new(unsubscribeClaims)
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidUnsubscribeToken
		}
		return []byte(core.Conf.SecretKey), nil
	})
	if err != nil || !claims.VerifyAudience(unsubscribeAudience, true) || claims.Subject == "" {
		return "", "", ErrInvalidUnsubscribeToken
	}
	if !claims.Type.Valid() {
		return "", "", ErrInvalidType
	}
	return claims.Subject, claims.Type, nil
}

// Unsubscribe disables the notification type carried by token for its user.
func (svc *Service) Unsubscribe(ctx context.Context, token string) (Type, error) {
	userID, typ, err := parseUnsubscribeToken(token)
	if err != nil {
		return "", err
	}
	if _, err = svc.recipients.GetRecipient(ctx, userID); err != nil {
		if core.IsNotFound(err) {
			return "", ErrInvalidUnsubscribeToken
		}
		return "", errors.Wrap(err, "getting recipient")
	}
	if _, err = svc.UpdatePreferences(ctx, userID, []UpdatePreference{{Type: typ, Enabled: false}}); err != nil {
		return "", err
	}
	svc.logger.Info("notification unsubscribed", map[string]interface{}{"user_id": userID, "type": typ})
	return typ, nil
}
