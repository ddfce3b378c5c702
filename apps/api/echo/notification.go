package echoapi

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

type UpdatePreferencesRequest struct {
	Preferences []notification.UpdatePreference `json:"preferences" validate:"required,dive"`
}

type notificationApi struct {
	*Server
}

func registerNotificationAPI(g, authed *echo.Group, s *Server) {
	api := notificationApi{s}

	g.GET("/notifications/unsubscribe", api.unsubscribe)

	ng := authed.Group("/notifications")
	ng.GET("/preferences", api.listPreferences)
	ng.PUT("/preferences", api.updatePreferences)
	ng.GET("/logs", api.queryLogs, adminOnly)
}

func (api notificationApi) listPreferences(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	prefs, err := api.deps.NotificationSvc.ListPreferences(ctx.Request().Context(), p.ID)
	if err != nil {
		return errors.Wrap(err, "listing preferences")
	}
	return ctx.JSON(http.StatusOK, prefs)
}

func (api notificationApi) updatePreferences(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data UpdatePreferencesRequest
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	prefs, err := api.deps.NotificationSvc.UpdatePreferences(ctx.Request().Context(), p.ID, data.Preferences)
	if err != nil {
		return errors.Wrap(err, "updating preferences")
	}
	return ctx.JSON(http.StatusOK, prefs)
}

func (api notificationApi) queryLogs(ctx echo.Context) error {
	var filter notification.LogFilter
	if err := ctx.Bind(&filter); err != nil {
		return err
	}
	page, err := api.deps.NotificationSvc.QueryLogs(ctx.Request().Context(), filter, bindPagination(ctx))
	if err != nil {
		return errors.Wrap(err, "querying notification logs")
	}
	return ctx.JSON(http.StatusOK, page)
}

// unsubscribe follows an email opt-out link and redirects to the frontend with the outcome.
func (api notificationApi) unsubscribe(ctx echo.Context) error {
	token := ctx.QueryParam("token")
	if token == "" {
		return ctx.Redirect(http.StatusTemporaryRedirect, unsubscribeURL(url.Values{"error": {"missing_params"}}))
	}

	typ, err := api.deps.NotificationSvc.Unsubscribe(ctx.Request().Context(), token)
	switch {
	case err == nil:
		return ctx.Redirect(http.StatusTemporaryRedirect, unsubscribeURL(url.Values{"success": {"true"}, "type": {string(typ)}}))
	case errors.Is(err, notification.ErrInvalidType):
		return ctx.Redirect(http.StatusTemporaryRedirect, unsubscribeURL(url.Values{"error": {"invalid_type"}}))
	case errors.Is(err, notification.ErrInvalidUnsubscribeToken):
		return ctx.Redirect(http.StatusTemporaryRedirect, unsubscribeURL(url.Values{"error": {"invalid_token"}}))
	}
	api.deps.Logger.Error("unsubscribing", err)
	return ctx.Redirect(http.StatusTemporaryRedirect, unsubscribeURL(url.Values{"error": {"unsubscribe_failed"}}))
}

func unsubscribeURL(q url.Values) string {
	return core.Conf.FrontendBaseURL + "/unsubscribe?" + q.Encode()
}
