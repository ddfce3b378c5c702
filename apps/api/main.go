package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	echoapi "github.com/PiotrRomanczuk/guitar-crm-sub014/apps/api/echo"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/apps/shared"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	emailsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/email"
	googlesvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/google"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.Conf
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()
	if err = database.Migrate(db.DB, "up"); err != nil {
		logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	svcs := shared.NewServices(
		shared.NewSQLRepositories(db),
		mailSvc,
		googlesvc.NewCalendarProvider(conf.Google),
		logger,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : %s", conf))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(conf.Server.Address, &echoapi.ServerDeps{
		Logger:          logger,
		ProfileSvc:      svcs.Profiles,
		SongSvc:         svcs.Songs,
		LessonSvc:       svcs.Lessons,
		AssignmentSvc:   svcs.Assignments,
		NotificationSvc: svcs.Notifications,
		CalendarSvc:     svcs.Calendar,
		CalendarImport:  svcs.CalendarImport,
		APIKeySvc:       svcs.APIKeys,
		InsightsSvc:     svcs.Insights,
		ExportSvc:       svcs.Exports,
		Jobs:            svcs.Jobs,
	})
	go server.Start()

	// =========================================================================
	// Shutdown

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-server.ShutdownSignal:
		if !core.IsShutdown(err) {
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)
		}
		logger.Warn(fmt.Sprintf("%v: Start shutdown...", err))

	case sig := <-signals:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
	}

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer cancel()

	if err = server.Stop(ctx); err != nil {
		logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}
