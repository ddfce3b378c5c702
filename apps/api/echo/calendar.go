package echoapi

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
)

const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerResourceState = "X-Goog-Resource-State"
)

type calendarApi struct {
	*Server
}

func registerCalendarAPI(g, authed *echo.Group, s *Server) {
	api := calendarApi{s}

	authed.GET("/oauth/google", api.authorize, staffOnly)
	g.GET("/oauth/google/callback", api.callback)

	authed.GET("/calendar/import", api.importCandidates, staffOnly)
	authed.POST("/calendar/import", api.importEvents, staffOnly)
}

// authorize redirects to the consent page; "?redirect=false" returns the URL instead.
func (api calendarApi) authorize(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	authURL, err := api.deps.CalendarSvc.AuthURL(p.ID)
	if err != nil {
		return errors.Wrap(err, "building consent url")
	}
	if ctx.QueryParam("redirect") == "false" {
		return ctx.JSON(http.StatusOK, echo.Map{"url": authURL})
	}
	return ctx.Redirect(http.StatusFound, authURL)
}

func (api calendarApi) callback(ctx echo.Context) error {
	if reason := ctx.QueryParam("error"); reason != "" {
		return ctx.Redirect(http.StatusFound, settingsURL("error", reason))
	}

	_, err := api.deps.CalendarSvc.HandleCallback(ctx.Request().Context(), ctx.QueryParam("state"), ctx.QueryParam("code"))
	if err != nil {
		return errors.Wrap(err, "handling oauth callback")
	}
	return ctx.Redirect(http.StatusFound, settingsURL("success", "google_connected"))
}

// importCandidates lists the events between "?from=" and "?to=" (RFC3339 or YYYY-MM-DD, to inclusive).
func (api calendarApi) importCandidates(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	from, err := core.ParseTime(ctx.QueryParam("from"))
	if err != nil {
		return core.NewFieldError("from", "invalid date")
	}
	to, err := core.ParseEndTime(ctx.QueryParam("to"))
	if err != nil {
		return core.NewFieldError("to", "invalid date")
	}

	candidates, err := api.deps.CalendarImport.Candidates(ctx.Request().Context(), p, from, to)
	if err != nil {
		return errors.Wrap(err, "listing importable events")
	}
	return ctx.JSON(http.StatusOK, candidates)
}

func (api calendarApi) importEvents(ctx echo.Context) error {
	p, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	var data calendar.ImportLessons
	if err = api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	res, err := api.deps.CalendarImport.Import(ctx.Request().Context(), p, data.Events)
	if err != nil {
		return errors.Wrap(err, "importing events")
	}
	return ctx.JSON(http.StatusOK, res)
}

func settingsURL(key, val string) string {
	q := url.Values{}
	q.Set(key, val)
	return core.Conf.FrontendBaseURL + "/dashboard/settings?" + q.Encode()
}

type webhookApi struct {
	*Server
}

func registerWebhookAPI(g *echo.Group, s *Server) {
	api := webhookApi{s}

	wg := g.Group("/webhooks")
	wg.POST("/google-calendar", api.googleCalendar)
	wg.POST("/email-bounce", api.emailBounce, cronMiddleware)
}

// googleCalendar acknowledges a push notification; the calendar sync runs in the background.
func (api webhookApi) googleCalendar(ctx echo.Context) error {
	channelID := ctx.Request().Header.Get(headerChannelID)
	state := ctx.Request().Header.Get(headerResourceState)

	if err := api.deps.CalendarSvc.HandleWebhook(ctx.Request().Context(), channelID, state); err != nil {
		return errors.Wrap(err, "handling calendar webhook")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"received": true, "state": state})
}

func (api webhookApi) emailBounce(ctx echo.Context) error {
	var data notification.Bounce
	if err := api.bindAndValidate(ctx, &data); err != nil {
		return err
	}
	res, err := api.deps.NotificationSvc.HandleBounce(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "handling bounce")
	}
	return ctx.JSON(http.StatusOK, res)
}

