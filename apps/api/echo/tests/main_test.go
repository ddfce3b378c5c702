package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/PiotrRomanczuk/guitar-crm-sub014/apps/api/echo"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/apps/shared"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	emailsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/email"
	logsvc "github.com/PiotrRomanczuk/guitar-crm-sub014/services/logger"
	dummydb "github.com/PiotrRomanczuk/guitar-crm-sub014/storage/database/dummy"
	testutil "github.com/PiotrRomanczuk/guitar-crm-sub014/tests"
)

const testCronSecret = "cron-secret"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	server   *Server
	repos    shared.Repositories
	svcs     *shared.Services
	outbox   *emailsvc.Outbox
	calendar *testutil.CalendarProvider
}

func setup(t *testing.T) *testApp {
	t.Helper()
	return setupWithBurst(t, 1000)
}

// setupWithBurst builds the app over a fresh in-memory database; burst bounds the auth rate limiter.
func setupWithBurst(t *testing.T, burst int) *testApp {
	t.Helper()
	core.Conf.TestMode = true
	core.Conf.CronSecret = testCronSecret
	core.Conf.Server.RateBurst = burst

	db, err := dummydb.Open()
	require.NoError(t, err)

	logger := logsvc.NewRollbarLogger(io.Discard, core.Conf)
	core.ParseEmailTemplates(logger)
	outbox := new(emailsvc.Outbox)
	provider := testutil.NewCalendarProvider()
	repos := shared.NewDummyRepositories(db)
	svcs := shared.NewServices(repos, emailsvc.NewConsoleServiceMock(outbox), provider, logger)

	srv := NewServer("", &ServerDeps{
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
	return &testApp{server: srv, repos: repos, svcs: svcs, outbox: outbox, calendar: provider}
}

// createProfile stores an active profile with the password "secret-pass".
func (app *testApp) createProfile(t *testing.T, name, uname string, roles ...string) profile.Profile {
	return testutil.CreateProfile(t, app.repos.Profiles, name, uname, uname+"@test.test", "secret-pass", roles, true)
}

func (app *testApp) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	app.server.ServeHTTP(rec, req)
}

func (app *testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, p profile.Profile) string {
	token, err := GenerateToken(GetProfileClaims(p))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
