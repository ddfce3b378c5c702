package logsvc

import (
	"fmt"
	"io"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/rs/zerolog"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

type RollbarLogger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger writes to out (stderr if nil): human readable in debug, JSON otherwise.
func NewRollbarLogger(out io.Writer, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.Debug && !conf.TestMode)

	if out == nil {
		out = os.Stderr
	}
	level := zerolog.InfoLevel
	if conf.Debug {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(out).Level(level).With().Timestamp().Str("app", conf.AppName).Logger()
	return &RollbarLogger{zl: zl}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Zerolog exposes the console logger, e.g. for the worker's cron.
func (l *RollbarLogger) Zerolog() zerolog.Logger { return l.zl }

// prepare splits args into rollbar arguments and zerolog fields.
// expected fmt: msg | error, map[string]interface{}, core.Person
func (l *RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, func(*zerolog.Event)) {
	var person *core.Person
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	var errs []error
	extras := make(map[string]interface{})

	for _, arg := range args {
		switch a := arg.(type) {
		case core.Person:
			if person == nil { // only set one person
				p := a
				person = &p
			}
			continue
		case error:
			errs = append(errs, a)
		case map[string]interface{}:
			for k, v := range a {
				extras[k] = v
			}
		default:
			extras[fmt.Sprintf("arg%d", len(extras))] = a
		}
		rbArgs = append(rbArgs, arg)
	}

	if person != nil {
		rollbar.SetPerson(person.ID, person.Username, person.Email)
	} else {
		rollbar.ClearPerson()
	}

	fields := func(e *zerolog.Event) {
		if len(errs) == 1 {
			e.Err(errs[0])
		} else if len(errs) > 1 {
			e.Errs("errors", errs)
		}
		if len(extras) > 0 {
			e.Fields(extras)
		}
		if person != nil {
			e.Str("user_id", person.ID)
		}
	}
	return rbArgs, fields
}

func (l *RollbarLogger) log(e *zerolog.Event, fields func(*zerolog.Event), msg string) {
	fields(e)
	e.Msg(msg)
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.log(l.zl.Debug(), fields, msg)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.log(l.zl.Info(), fields, msg)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.log(l.zl.Warn(), fields, msg)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.log(l.zl.Error(), fields, msg)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	rollbar.Wait()
	l.log(l.zl.WithLevel(zerolog.FatalLevel), fields, msg)
	os.Exit(1)
}
