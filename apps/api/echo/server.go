package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/jobs"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/metrics"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

type (
	ServerDeps struct {
		Logger core.Logger

		ProfileSvc      *profile.Service
		SongSvc         *song.Service
		LessonSvc       *lesson.Service
		AssignmentSvc   *assignment.Service
		NotificationSvc *notification.Service
		CalendarSvc     *calendar.Service
		CalendarImport  *calendar.Importer
		APIKeySvc       *apikey.Service
		InsightsSvc     *insights.Service
		ExportSvc       *insights.Exporter
		Jobs            *jobs.Registry
	}

	Server struct {
		ShutdownSignal chan error

		app        *echo.Echo
		addr       string
		deps       *ServerDeps
		validate   *validator.Validate
		translator ut.Translator
	}
)

// NewServer sets up the routes. ShutdownSignal receives server errors and shutdown requests.
func NewServer(addr string, deps *ServerDeps) *Server {
	validate, translator := core.NewValidator()
	s := &Server{
		ShutdownSignal: make(chan error, 1),
		app:            echo.New(),
		addr:           addr,
		deps:           deps,
		validate:       validate,
		translator:     translator,
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	debug := core.Conf.Debug

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !core.Conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(metricsMiddleware)

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.translator, s.signalShutdown)
	s.app.Debug = debug

	s.app.GET("/", s.health)
	s.app.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := s.app.Group("/api")
	jwt := middleware.JWTWithConfig(appJWTConfig)
	authed := api.Group("", jwt, s.activeProfileMiddleware)

	registerAuthAPI(api, jwt, s)
	registerProfileAPI(authed, s)
	registerSongAPI(authed, s)
	registerLessonAPI(authed, s)
	registerAssignmentAPI(authed, s)
	registerNotificationAPI(api, authed, s)
	registerAPIKeyAPI(api, authed, s)
	registerInsightsAPI(authed, s)
	registerCalendarAPI(api, authed, s)
	registerWebhookAPI(api, s)
	registerCronAPI(api, s)
}

// Start blocks until the server stops; the error is sent to ShutdownSignal.
func (s *Server) Start() {
	if err := s.app.Start(s.addr); err != nil && err != http.ErrServerClosed {
		s.ShutdownSignal <- err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.ShutdownSignal <- core.NewShutdownError("integrity issue"):
	default:
	}
}

func (s *Server) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{
		"status": "ok",
		"app":    core.Conf.AppName,
		"build":  core.Conf.Build,
	})
}

// bindAndValidate binds the request body into data and runs its Validate method.
func (s *Server) bindAndValidate(ctx echo.Context, data validatable) error {
	if err := ctx.Bind(data); err != nil {
		return err
	}
	return data.Validate(s.validate)
}

type validatable interface {
	Validate(validate *validator.Validate) error
}
