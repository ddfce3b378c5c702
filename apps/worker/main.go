// Command worker runs the batch jobs on their cron schedules.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/apps/shared"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	emailsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/email"
	googlesvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/google"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database"
)

func main() {
	conf := core.Conf
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)

	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()

	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	core.ParseEmailTemplates(logger)

	svcs := shared.NewServices(
		shared.NewSQLRepositories(db),
		mailSvc,
		googlesvc.NewCalendarProvider(conf.Google),
		logger,
	)

	scheduler, err := newScheduler(svcs.Jobs, logger)
	if err != nil {
		logger.Fatal("setting up scheduler", err)
	}
	scheduler.Start()
	logger.Info(fmt.Sprintf("worker started : %s", conf), map[string]interface{}{"jobs": len(scheduler.Entries())})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals

	logger.Info(fmt.Sprintf("%v: waiting for running jobs...", sig))
	<-scheduler.Stop().Done()
	logger.Info("worker stopped")
}
