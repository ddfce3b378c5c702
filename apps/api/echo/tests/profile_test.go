package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	testutil "github.com/PiotrRomanczuk/guitar-crm-sub014/tests"
)

func profileIDs(profiles ...profile.Profile) []string {
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids
}

func Test_profileApi_query(t *testing.T) {
	app := setup(t)
	admin := app.createProfile(t, "Admin", "admin", profile.RoleAdmin)
	teacher := app.createProfile(t, "Teacher", "teacher", profile.RoleTeacher)
	stud1 := app.createProfile(t, "Jimi", "jimi", profile.RoleStudent)
	stud2 := app.createProfile(t, "Eric", "eric", profile.RoleStudent)
	gone := testutil.CreateProfile(t, app.repos.Profiles, "Gone", "gone", "gone@test.test", "", []string{profile.RoleStudent}, false)

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/api/profiles?" + v.Encode()
	}

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		wantIDs  []string
	}{
		{name: "students are forbidden", path: "/api/profiles", token: getToken(t, stud1), wantCode: http.StatusForbidden},
		{name: "admin sees everyone", path: "/api/profiles", token: getToken(t, admin), wantIDs: profileIDs(admin, teacher, stud1, stud2, gone)},
		{name: "teacher sees students", path: "/api/profiles", token: getToken(t, teacher), wantIDs: profileIDs(stud1, stud2, gone)},
		{name: "teacher cannot widen the role", path: path("role", "admin"), token: getToken(t, teacher), wantIDs: profileIDs(stud1, stud2, gone)},
		{name: "role=teacher", path: path("role", "teacher"), token: getToken(t, admin), wantIDs: profileIDs(teacher)},
		{name: "search", path: path("search", "JIM"), token: getToken(t, admin), wantIDs: profileIDs(stud1)},
		{name: "is_active=false", path: path("is_active", "false"), token: getToken(t, admin), wantIDs: profileIDs(gone)},
		{name: "unknown role", path: path("role", "lol"), token: getToken(t, admin), wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.serve(req, rec)

			wantCode := tt.wantCode
			if wantCode == 0 {
				wantCode = http.StatusOK
			}
			require.Equal(t, wantCode, rec.Code, rec.Body.String())
			if wantCode != http.StatusOK {
				return
			}
			var page core.Page[profile.Profile]
			unmarshal(t, rec, &page)
			assert.ElementsMatch(t, tt.wantIDs, profileIDs(page.Items...))
			assert.Equal(t, len(tt.wantIDs), page.Total)
		})
	}
}

func Test_profileApi_create(t *testing.T) {
	app := setup(t)
	admin := app.createProfile(t, "Admin", "admin", profile.RoleAdmin)
	teacher := app.createProfile(t, "Teacher", "teacher", profile.RoleTeacher)

	tests := []struct {
		name     string
		token    string
		body     profile.NewProfile
		wantCode int
	}{
		{name: "invalid", token: getToken(t, admin), body: profile.NewProfile{Email: "lol"}, wantCode: http.StatusBadRequest},
		{
			name: "teacher cannot create teachers", token: getToken(t, teacher), wantCode: http.StatusBadRequest,
			body: profile.NewProfile{Email: "t2@test.test", FirstName: "T2", Roles: []string{profile.RoleTeacher}},
		},
		{
			name: "duplicate email", token: getToken(t, admin), wantCode: http.StatusBadRequest,
			body: profile.NewProfile{Email: "teacher@test.test", FirstName: "Dup", Roles: []string{profile.RoleStudent}},
		},
		{
			name: "teacher creates student", token: getToken(t, teacher), wantCode: http.StatusCreated,
			body: profile.NewProfile{Email: "New@Test.test", FirstName: "New", Roles: []string{profile.RoleStudent}},
		},
		{
			name: "admin creates teacher", token: getToken(t, admin), wantCode: http.StatusCreated,
			body: profile.NewProfile{Email: "t3@test.test", FirstName: "T3", Roles: []string{profile.RoleTeacher}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/api/profiles", tt.token, marchallObj(t, tt.body))
			app.serve(req, rec)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusCreated {
				return
			}
			var p profile.Profile
			unmarshal(t, rec, &p)
			assert.NotEmpty(t, p.ID)
			assert.True(t, p.IsActive)
			assert.Equal(t, core.CleanString(tt.body.Email, true), p.Email)
		})
	}

	// the new student is welcomed through the queue
	items := app.repos.Notifications.(interface{ QueueItems() []notification.QueueItem }).QueueItems()
	require.Len(t, items, 1)
	assert.Equal(t, notification.TypeStudentWelcome, items[0].Type)
}

func Test_profileApi_retrieveUpdateDelete(t *testing.T) {
	app := setup(t)
	admin := app.createProfile(t, "Admin", "admin", profile.RoleAdmin)
	teacher := app.createProfile(t, "Teacher", "teacher", profile.RoleTeacher)
	student := app.createProfile(t, "Student", "student", profile.RoleStudent)
	other := app.createProfile(t, "Other", "other", profile.RoleStudent)

	notFound := marchallObj(t, httpErr{Error: "profile not found"})
	bio := "plays loud"

	app.run(t, []httpTest{
		{name: "auth required", path: "/api/profiles/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "me", path: "/api/profiles/me", token: getToken(t, student), wantCode: http.StatusOK, wantData: marchallObj(t, student)},
		{name: "student cannot see others", path: "/api/profiles/" + other.ID, token: getToken(t, student), wantCode: http.StatusNotFound, wantData: notFound},
		{name: "teacher sees students", path: "/api/profiles/" + student.ID, token: getToken(t, teacher), wantCode: http.StatusOK, wantData: marchallObj(t, student)},
		{name: "teacher cannot see admins", path: "/api/profiles/" + admin.ID, token: getToken(t, teacher), wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "student cannot change roles", method: http.MethodPut, path: "/api/profiles/" + student.ID, token: getToken(t, student),
			body: marchallObj(t, profile.UpdateProfile{Roles: []string{profile.RoleAdmin}}), wantCode: http.StatusForbidden,
		},
		{
			name: "student edits own bio", method: http.MethodPut, path: "/api/profiles/" + student.ID, token: getToken(t, student),
			body: marchallObj(t, profile.UpdateProfile{Bio: &bio}), wantCode: http.StatusOK,
		},
		{name: "teachers cannot delete", method: http.MethodDelete, path: "/api/profiles/" + other.ID, token: getToken(t, teacher), wantCode: http.StatusForbidden},
		{
			name: "admin cannot delete self", method: http.MethodDelete, path: "/api/profiles/" + admin.ID, token: getToken(t, admin),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: profile.ErrCannotDeleteSelf.Error()}),
		},
		{name: "admin deletes", method: http.MethodDelete, path: "/api/profiles/" + other.ID, token: getToken(t, admin), wantCode: http.StatusNoContent},
		{name: "deleted token is rejected", path: "/api/profiles/me", token: getToken(t, other), wantCode: http.StatusUnauthorized},
	})

	p, err := app.svcs.Profiles.GetByID(context.Background(), student.ID)
	require.NoError(t, err)
	assert.Equal(t, bio, p.Bio)
}
