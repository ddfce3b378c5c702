package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/apps/shared"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/jobs"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	emailsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/email"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
)

type migrateCall struct {
	command string
	args    []string
}

func setup(t *testing.T) (*commandLine, *shared.Services, *[]migrateCall) {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	logger := logsvc.NewRollbarLogger(io.Discard, core.Conf)
	svcs := shared.NewServices(shared.NewDummyRepositories(db), emailsvc.NewConsoleServiceMock(new(emailsvc.Outbox)), nil, logger)

	calls := new([]migrateCall)
	cli := &commandLine{
		profiles: svcs.Profiles,
		jobs:     svcs.Jobs,
		migrate: func(command string, args ...string) error {
			*calls = append(*calls, migrateCall{command: command, args: args})
			return nil
		},
		out: new(bytes.Buffer),
	}
	return cli, svcs, calls
}

func mockPassword(t *testing.T, pwd string) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name    string
	args    []string
	pwd     string
	wantErr bool
}

func Test_commandLine_migrate(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		wantCall migrateCall
	}{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: true},
		{name: "up", args: []string{"migrate", "up"}, wantCall: migrateCall{command: "up", args: []string{}}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}, wantCall: migrateCall{command: "up-to", args: []string{"2"}}},
		{name: "status", args: []string{"migrate", "status"}, wantCall: migrateCall{command: "status", args: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, _, calls := setup(t)
			err := cli.run(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, *calls)
				return
			}
			require.NoError(t, err)
			require.Len(t, *calls, 1)
			assert.Equal(t, tt.wantCall.command, (*calls)[0].command)
			assert.ElementsMatch(t, tt.wantCall.args, (*calls)[0].args)
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	tests := []cliTest{
		{name: "missing email", args: []string{"adduser"}, pwd: "secret-pass", wantErr: true},
		{name: "empty password", args: []string{"adduser", "--email", "admin@test.test"}, wantErr: true},
		{name: "created", args: []string{"adduser", "--email", "Admin@Test.test", "--username", "boss"}, pwd: "secret-pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, svcs, _ := setup(t)
			mockPassword(t, tt.pwd)

			err := cli.run(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			p, err := svcs.Profiles.GetByUsernameOrEmail(context.Background(), "admin@test.test")
			require.NoError(t, err)
			assert.True(t, p.IsAdmin)
			assert.True(t, p.IsActive)
			assert.Equal(t, "boss", p.Username)
			assert.NoError(t, p.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, svcs, _ := setup(t)
	ctx := context.Background()

	_, err := svcs.Profiles.UpsertAdmin(ctx, "awe@test.test", "awe", "old-password")
	require.NoError(t, err)

	tests := []cliTest{
		{name: "no username", args: []string{"resetpassword"}, pwd: "new-password", wantErr: true},
		{name: "profile not found", args: []string{"resetpassword", "--username", "lol"}, pwd: "new-password", wantErr: true},
		{name: "reset with username", args: []string{"resetpassword", "--username", "awe"}, pwd: "new-password"},
		{name: "reset with email", args: []string{"resetpassword", "--username", "awe@test.test"}, pwd: "newer-password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockPassword(t, tt.pwd)

			err := cli.run(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			p, err := svcs.Profiles.GetByUsernameOrEmail(ctx, "awe")
			require.NoError(t, err)
			assert.NoError(t, p.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_runJob(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		cli, _, _ := setup(t)
		require.NoError(t, cli.run([]string{"runjob", "--list"}))
		out := cli.out.(*bytes.Buffer).String()
		assert.Contains(t, out, jobs.ProcessNotificationQueue)
		assert.Contains(t, out, jobs.AssignmentReminders)
	})

	t.Run("missing name", func(t *testing.T) {
		cli, _, _ := setup(t)
		assert.Error(t, cli.run([]string{"runjob"}))
	})

	t.Run("unknown job", func(t *testing.T) {
		cli, _, _ := setup(t)
		err := cli.run([]string{"runjob", "lol"})
		assert.Equal(t, jobs.ErrUnknownJob, errors.Cause(err))
	})

	t.Run("update student activity", func(t *testing.T) {
		cli, svcs, _ := setup(t)
		admin, err := svcs.Profiles.UpsertAdmin(context.Background(), "admin@test.test", "admin", "secret-pass")
		require.NoError(t, err)
		_, err = svcs.Profiles.Create(context.Background(), admin, profile.NewProfile{
			Email: "student@test.test", FirstName: "Stu", Roles: []string{profile.RoleStudent},
		})
		require.NoError(t, err)

		require.NoError(t, cli.run([]string{"runjob", jobs.UpdateStudentActivity}))
		assert.Contains(t, cli.out.(*bytes.Buffer).String(), `"deactivated": 1`)
	})
}
