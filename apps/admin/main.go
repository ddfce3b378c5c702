// Command admin manages admins, passwords, migrations and one-off job runs.
package main

import (
	"fmt"
	"os"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/apps/shared"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	emailsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/email"
	googlesvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/google"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database"
)

func main() {
	conf := core.Conf
	logger := logsvc.NewRollbarLogger(os.Stderr, conf)

	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
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

	svcs := shared.NewServices(shared.NewSQLRepositories(db), mailSvc, googlesvc.NewCalendarProvider(conf.Google), logger)

	cli := commandLine{
		profiles: svcs.Profiles,
		jobs:     svcs.Jobs,
		migrate: func(command string, args ...string) error {
			return database.Migrate(db.DB, command, args...)
		},
		out: os.Stdout,
	}
	if err = cli.run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		db.Close()
		os.Exit(1)
	}
}
