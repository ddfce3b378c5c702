package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

func (app *testApp) do(t *testing.T, method, path, token string, body interface{}, wantCode int, dest interface{}) {
	t.Helper()
	var data []byte
	if body != nil {
		data = marchallObj(t, body)
	}
	req, rec := newAuthRequest(method, path, token, data)
	app.serve(req, rec)
	require.Equal(t, wantCode, rec.Code, rec.Body.String())
	if dest != nil {
		unmarshal(t, rec, dest)
	}
}

func (app *testApp) queued(types ...notification.Type) []notification.QueueItem {
	items := app.repos.Notifications.(interface{ QueueItems() []notification.QueueItem }).QueueItems()
	var out []notification.QueueItem
	for _, item := range items {
		for _, typ := range types {
			if item.Type == typ {
				out = append(out, item)
			}
		}
	}
	return out
}

func Test_songApi(t *testing.T) {
	app := setup(t)
	teacher := app.createProfile(t, "Teacher", "teacher", profile.RoleTeacher)
	student := app.createProfile(t, "Student", "student", profile.RoleStudent)
	tToken, sToken := getToken(t, teacher), getToken(t, student)

	app.run(t, []httpTest{
		{
			name: "students cannot create", method: http.MethodPost, path: "/api/songs", token: sToken,
			body: marchallObj(t, song.SongInput{Title: "Wonderwall"}), wantCode: http.StatusForbidden,
		},
		{
			name: "invalid level", method: http.MethodPost, path: "/api/songs", token: tToken,
			body: marchallObj(t, song.SongInput{Title: "Wonderwall", Level: "expert"}), wantCode: http.StatusBadRequest,
		},
		{name: "unknown song", path: "/api/songs/" + uuid.NewString(), token: tToken, wantCode: http.StatusNotFound},
	})

	var s song.Song
	app.do(t, http.MethodPost, "/api/songs", tToken, song.SongInput{Title: " Wonderwall ", Author: "Oasis", Level: song.LevelBeginner}, http.StatusCreated, &s)
	assert.Equal(t, "Wonderwall", s.Title)

	// students only see the songs of their lessons
	var page core.Page[song.Song]
	app.do(t, http.MethodGet, "/api/songs", sToken, nil, http.StatusOK, &page)
	assert.Empty(t, page.Items)
	app.do(t, http.MethodGet, "/api/songs/"+s.ID, sToken, nil, http.StatusNotFound, nil)

	app.do(t, http.MethodGet, "/api/songs?search=wonder", tToken, nil, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, s.ID, page.Items[0].ID)

	app.do(t, http.MethodPut, "/api/songs/"+s.ID, tToken, song.SongInput{Title: "Wonderwall", Key: "F#m"}, http.StatusOK, &s)
	assert.Equal(t, "F#m", s.Key)

	app.do(t, http.MethodDelete, "/api/songs/"+s.ID, tToken, nil, http.StatusNoContent, nil)
	app.do(t, http.MethodGet, "/api/songs", tToken, nil, http.StatusOK, &page)
	assert.Empty(t, page.Items)
}

func Test_lessonApi(t *testing.T) {
	app := setup(t)
	teacher := app.createProfile(t, "Teacher", "teacher", profile.RoleTeacher)
	other := app.createProfile(t, "Other", "other", profile.RoleTeacher)
	student := app.createProfile(t, "Student", "student", profile.RoleStudent)
	tToken, sToken := getToken(t, teacher), getToken(t, student)

	var s song.Song
	app.do(t, http.MethodPost, "/api/songs", tToken, song.SongInput{Title: "Blackbird", Author: "The Beatles"}, http.StatusCreated, &s)

	when := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	app.do(t, http.MethodPost, "/api/lessons", tToken, lesson.NewLesson{StudentID: teacher.ID, ScheduledAt: when}, http.StatusBadRequest, nil)
	app.do(t, http.MethodPost, "/api/lessons", sToken, lesson.NewLesson{StudentID: student.ID, ScheduledAt: when}, http.StatusForbidden, nil)

	var l1, l2 lesson.Lesson
	app.do(t, http.MethodPost, "/api/lessons", tToken, lesson.NewLesson{StudentID: student.ID, ScheduledAt: when}, http.StatusCreated, &l1)
	app.do(t, http.MethodPost, "/api/lessons", tToken, lesson.NewLesson{StudentID: student.ID, ScheduledAt: when.Add(24 * time.Hour)}, http.StatusCreated, &l2)
	assert.Equal(t, lesson.StatusScheduled, l1.Status)
	assert.Equal(t, 1, l1.LessonTeacherNumber)
	assert.Equal(t, 2, l2.LessonTeacherNumber)
	assert.Equal(t, teacher.ID, l1.TeacherID)

	// visibility
	var page core.Page[lesson.Lesson]
	app.do(t, http.MethodGet, "/api/lessons", sToken, nil, http.StatusOK, &page)
	assert.Len(t, page.Items, 2)
	app.do(t, http.MethodGet, "/api/lessons", getToken(t, other), nil, http.StatusOK, &page)
	assert.Empty(t, page.Items)
	app.do(t, http.MethodGet, "/api/lessons/"+l1.ID, getToken(t, other), nil, http.StatusNotFound, nil)
	app.do(t, http.MethodGet, "/api/lessons?from=lol", tToken, nil, http.StatusBadRequest, nil)

	// lesson songs
	var ls lesson.LessonSong
	app.do(t, http.MethodPost, "/api/lessons/"+l1.ID+"/songs", tToken, lesson.AddLessonSong{SongID: uuid.NewString()}, http.StatusBadRequest, nil)
	app.do(t, http.MethodPost, "/api/lessons/"+l1.ID+"/songs", tToken, lesson.AddLessonSong{SongID: s.ID}, http.StatusCreated, &ls)
	assert.Equal(t, lesson.SongToLearn, ls.Status)
	app.do(t, http.MethodPost, "/api/lessons/"+l1.ID+"/songs", tToken, lesson.AddLessonSong{SongID: s.ID}, http.StatusConflict, nil)

	var songs []lesson.LessonSong
	app.do(t, http.MethodGet, "/api/lessons/"+l1.ID+"/songs", sToken, nil, http.StatusOK, &songs)
	require.Len(t, songs, 1)
	assert.Equal(t, "Blackbird", songs[0].SongTitle)

	// the student now sees the song
	app.do(t, http.MethodGet, "/api/songs/"+s.ID, sToken, nil, http.StatusOK, nil)

	app.do(t, http.MethodPut, "/api/lessons/"+l1.ID+"/songs/"+s.ID, tToken, lesson.UpdateLessonSong{Status: lesson.SongMastered}, http.StatusOK, &ls)
	assert.Equal(t, lesson.SongMastered, ls.Status)
	assert.Len(t, app.queued(notification.TypeSongMastery), 1)

	// updates
	reason := "sick"
	app.do(t, http.MethodPut, "/api/lessons/"+l2.ID, tToken, lesson.UpdateLesson{Status: lesson.StatusCancelled, Reason: reason}, http.StatusOK, &l2)
	assert.Equal(t, lesson.StatusCancelled, l2.Status)
	assert.Len(t, app.queued(notification.TypeLessonCancelled), 1)

	moved := when.Add(2 * time.Hour)
	app.do(t, http.MethodPut, "/api/lessons/"+l1.ID, tToken, lesson.UpdateLesson{ScheduledAt: &moved}, http.StatusOK, &l1)
	assert.True(t, moved.Equal(l1.ScheduledAt))
	assert.Len(t, app.queued(notification.TypeLessonRescheduled), 1)

	app.do(t, http.MethodDelete, "/api/lessons/"+l1.ID+"/songs/"+s.ID, tToken, nil, http.StatusNoContent, nil)
	app.do(t, http.MethodDelete, "/api/lessons/"+l1.ID, sToken, nil, http.StatusForbidden, nil)
	app.do(t, http.MethodDelete, "/api/lessons/"+l1.ID, tToken, nil, http.StatusNoContent, nil)
	app.do(t, http.MethodGet, "/api/lessons/"+l1.ID, tToken, nil, http.StatusNotFound, nil)
}

func Test_assignmentApi(t *testing.T) {
	app := setup(t)
	teacher := app.createProfile(t, "Teacher", "teacher", profile.RoleTeacher)
	student := app.createProfile(t, "Student", "student", profile.RoleStudent)
	other := app.createProfile(t, "Other", "other", profile.RoleStudent)
	tToken, sToken := getToken(t, teacher), getToken(t, student)

	due := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	var a assignment.Assignment
	app.do(t, http.MethodPost, "/api/assignments", tToken, assignment.NewAssignment{Title: "Scales", StudentID: teacher.ID}, http.StatusBadRequest, nil)
	app.do(t, http.MethodPost, "/api/assignments", sToken, assignment.NewAssignment{Title: "Scales", StudentID: student.ID}, http.StatusForbidden, nil)
	app.do(t, http.MethodPost, "/api/assignments", tToken, assignment.NewAssignment{Title: "Scales", StudentID: student.ID, DueDate: &due}, http.StatusCreated, &a)
	assert.Equal(t, assignment.StatusNotStarted, a.Status)
	assert.Len(t, app.queued(notification.TypeAssignmentCreated), 1)

	app.do(t, http.MethodGet, "/api/assignments/"+a.ID, getToken(t, other), nil, http.StatusNotFound, nil)

	// students may only move the status
	title := "Arpeggios"
	app.do(t, http.MethodPut, "/api/assignments/"+a.ID, sToken, assignment.UpdateAssignment{Title: &title}, http.StatusBadRequest, nil)
	app.do(t, http.MethodPut, "/api/assignments/"+a.ID, sToken, assignment.UpdateAssignment{Status: assignment.StatusCompleted}, http.StatusOK, &a)
	assert.Equal(t, assignment.StatusCompleted, a.Status)
	assert.Len(t, app.queued(notification.TypeAssignmentCompleted), 1)

	// templates
	var tmpl assignment.Template
	app.do(t, http.MethodPost, "/api/assignment-templates", sToken, assignment.NewTemplate{Title: "Chord changes"}, http.StatusForbidden, nil)
	app.do(t, http.MethodPost, "/api/assignment-templates", tToken, assignment.NewTemplate{Title: "Chord changes", Description: "G to C"}, http.StatusCreated, &tmpl)

	var templates []assignment.Template
	app.do(t, http.MethodGet, "/api/assignment-templates", tToken, nil, http.StatusOK, &templates)
	require.Len(t, templates, 1)

	var fromTmpl assignment.Assignment
	app.do(t, http.MethodPost, "/api/assignment-templates/"+tmpl.ID+"/assign", tToken, assignment.AssignTemplate{StudentID: other.ID}, http.StatusCreated, &fromTmpl)
	assert.Equal(t, "Chord changes", fromTmpl.Title)
	assert.Equal(t, "G to C", fromTmpl.Description)
	assert.Equal(t, other.ID, fromTmpl.StudentID)

	var page core.Page[assignment.Assignment]
	app.do(t, http.MethodGet, "/api/assignments", tToken, nil, http.StatusOK, &page)
	assert.Len(t, page.Items, 2)
	app.do(t, http.MethodGet, "/api/assignments?status=completed", tToken, nil, http.StatusOK, &page)
	assert.Len(t, page.Items, 1)

	app.do(t, http.MethodDelete, "/api/assignment-templates/"+tmpl.ID, tToken, nil, http.StatusNoContent, nil)
	app.do(t, http.MethodDelete, "/api/assignments/"+a.ID, tToken, nil, http.StatusNoContent, nil)
}
