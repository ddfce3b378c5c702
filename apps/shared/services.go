// Package shared wires the repositories and services used by the api, the worker and the admin CLI.
package shared

import (
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/jobs"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
	sqlxrepos "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/sqlx"
)

type (
	Repositories struct {
		Profiles      profile.Repository
		Songs         song.Repository
		Lessons       lesson.Repository
		Assignments   assignment.Repository
		Notifications notification.Repository
		Calendar      calendar.Repository
		APIKeys       apikey.Repository
		Stats         insights.StatsRepository
	}

	Services struct {
		Profiles       *profile.Service
		Songs          *song.Service
		Lessons        *lesson.Service
		Assignments    *assignment.Service
		Notifications  *notification.Service
		Calendar       *calendar.Service
		CalendarImport *calendar.Importer
		APIKeys        *apikey.Service
		Insights       *insights.Service
		Exports        *insights.Exporter
		Jobs           *jobs.Registry
	}
)

func NewSQLRepositories(exec core.DBExecutor) Repositories {
	return Repositories{
		Profiles:      sqlxrepos.NewProfileRepository(exec),
		Songs:         sqlxrepos.NewSongRepository(exec),
		Lessons:       sqlxrepos.NewLessonRepository(exec),
		Assignments:   sqlxrepos.NewAssignmentRepository(exec),
		Notifications: sqlxrepos.NewNotificationRepository(exec),
		Calendar:      sqlxrepos.NewCalendarRepository(exec),
		APIKeys:       sqlxrepos.NewAPIKeyRepository(exec),
		Stats:         sqlxrepos.NewStatsRepository(exec),
	}
}

func NewDummyRepositories(db *dummydb.DB) Repositories {
	return Repositories{
		Profiles:      dummydb.NewProfileRepository(db),
		Songs:         dummydb.NewSongRepository(db),
		Lessons:       dummydb.NewLessonRepository(db),
		Assignments:   dummydb.NewAssignmentRepository(db),
		Notifications: dummydb.NewNotificationRepository(db),
		Calendar:      dummydb.NewCalendarRepository(db),
		APIKeys:       dummydb.NewAPIKeyRepository(db),
		Stats:         dummydb.NewStatsRepository(db),
	}
}

// NewServices builds the services over repos. Domain services queue their notifications
// through a notification.Queue so that the notification service can depend on profiles.
func NewServices(repos Repositories, mailSvc core.EmailService, provider calendar.Provider, logger core.Logger) *Services {
	conf := core.Conf.Notifications
	queue := notification.NewQueue(repos.Notifications)

	svcs := &Services{}
	svcs.Profiles = profile.NewService(repos.Profiles, mailSvc, queue, logger)
	svcs.Songs = song.NewService(repos.Songs)
	svcs.Lessons = lesson.NewService(repos.Lessons, svcs.Profiles, repos.Songs, queue, logger)
	svcs.Assignments = assignment.NewService(repos.Assignments, svcs.Profiles, queue, logger)
	svcs.Notifications = notification.NewService(
		repos.Notifications,
		svcs.Profiles,
		mailSvc,
		notification.NewRateLimiter(conf.UserHourlyLimit, conf.SystemHourlyLimit),
		logger,
	)
	svcs.Calendar = calendar.NewService(repos.Calendar, provider, svcs.Lessons, svcs.Profiles, queue, logger)
	svcs.CalendarImport = calendar.NewImporter(repos.Calendar, provider, svcs.Lessons, svcs.Profiles, logger)
	svcs.APIKeys = apikey.NewService(repos.APIKeys, svcs.Profiles, logger)
	svcs.Insights = insights.NewService(svcs.Profiles, svcs.Lessons, svcs.Assignments, repos.Stats, queue, logger)
	svcs.Exports = insights.NewExporter(svcs.Profiles, svcs.Lessons, svcs.Assignments, mailSvc, logger)
	svcs.Jobs = jobs.NewRegistry(jobs.Services{
		Notifications: svcs.Notifications,
		Assignments:   svcs.Assignments,
		Calendar:      svcs.Calendar,
		Insights:      svcs.Insights,
	}, logger)
	return svcs
}
