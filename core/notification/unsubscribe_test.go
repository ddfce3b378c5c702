package notification_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

func TestService_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)

	params := notification.Params{Type: notification.TypeLessonRecap, RecipientID: "u1"}
	res, err := f.svc.Send(ctx, params)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, f.mail.count())

	link := f.mail.sent[0].UnsubscribeURL
	require.True(t, strings.HasPrefix(link, core.Conf.APIBaseURL+"/api/notifications/unsubscribe?"), link)
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")

	badType, err := notification.UnsubscribeToken("u1", "lol")
	require.NoError(t, err)
	unknownUser, err := notification.UnsubscribeToken("u9", notification.TypeLessonRecap)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "garbage", token: "lol", wantErr: notification.ErrInvalidUnsubscribeToken},
		{name: "tampered", token: token + "x", wantErr: notification.ErrInvalidUnsubscribeToken},
		{name: "unknown type", token: badType, wantErr: notification.ErrInvalidType},
		{name: "unknown user", token: unknownUser, wantErr: notification.ErrInvalidUnsubscribeToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Unsubscribe(ctx, tt.token)
			assert.Equal(t, tt.wantErr, err)
		})
	}

	typ, err := f.svc.Unsubscribe(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, notification.TypeLessonRecap, typ)

	enabled, err := f.svc.Enabled(ctx, "u1", notification.TypeLessonRecap)
	require.NoError(t, err)
	assert.False(t, enabled)
	enabled, err = f.svc.Enabled(ctx, "u1", notification.TypeLessonCancelled)
	require.NoError(t, err)
	assert.True(t, enabled, "other types stay enabled")

	res, err = f.svc.Send(ctx, params)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	// following the link twice is harmless
	_, err = f.svc.Unsubscribe(ctx, token)
	assert.NoError(t, err)
}
