package lesson

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

var (
	ErrNotFound     = core.NotFoundError{Resource: "lesson"}
	ErrSongNotFound = core.NotFoundError{Resource: "lesson song"}

	errNotAStudent   = "the selected profile is not a student"
	errNotATeacher   = "the selected profile is not a teacher"
	errEventLinked   = "another lesson is already linked to this calendar event"
	errBulkEmpty     = "at least one lesson is required"
	errBulkTooMany   = fmt.Sprintf("cannot process more than %d lessons at once", MaxBulkLessons)
	errBulkInvalid   = "validation failed"
	errBulkUnhandled = "unexpected error"
)

type (
	Repository interface {
		// NextTeacherNumber returns the sequence number of the next lesson between teacher and student.
		NextTeacherNumber(ctx context.Context, teacherID, studentID string) (int, error)
		Create(ctx context.Context, l Lesson) (Lesson, error)
		Get(ctx context.Context, id string) (Lesson, error)
		GetByGoogleEventID(ctx context.Context, eventID string) (Lesson, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]Lesson, int, error)
		// List returns every lesson matching filter ordered by scheduled_at.
		List(ctx context.Context, filter QueryFilter) ([]Lesson, error)
		Update(ctx context.Context, l Lesson) (Lesson, error)
		Delete(ctx context.Context, id string) error
		// StudentActivity summarises the lessons of every student relative to now.
		StudentActivity(ctx context.Context, now time.Time) ([]StudentActivity, error)

		AddSong(ctx context.Context, ls LessonSong) (LessonSong, error)
		GetSong(ctx context.Context, lessonID, songID string) (LessonSong, error)
		ListSongs(ctx context.Context, lessonID string) ([]LessonSong, error)
		UpdateSong(ctx context.Context, ls LessonSong) (LessonSong, error)
		RemoveSong(ctx context.Context, lessonID, songID string) error
		// CountMastered counts the student's songs that reached mastered since the given time.
		CountMastered(ctx context.Context, studentID string, since time.Time) (int, error)
	}

	ProfileFinder interface {
		GetByID(ctx context.Context, id string) (profile.Profile, error)
	}

	SongFinder interface {
		Get(ctx context.Context, id string) (song.Song, error)
	}

	Service struct {
		repo     Repository
		profiles ProfileFinder
		songs    SongFinder
		notifier notification.Queuer
		logger   core.Logger
	}
)

func NewService(repo Repository, profiles ProfileFinder, songs SongFinder, notifier notification.Queuer, logger core.Logger) *Service {
	return &Service{repo: repo, profiles: profiles, songs: songs, notifier: notifier, logger: logger}
}

func canView(actor profile.Profile, l Lesson) bool {
	return actor.IsAdmin || l.TeacherID == actor.ID || l.StudentID == actor.ID
}

func canEdit(actor profile.Profile, l Lesson) bool {
	return actor.IsAdmin || (actor.IsTeacher && l.TeacherID == actor.ID)
}

// scope restricts a filter to the lessons actor may see.
func scope(actor profile.Profile, filter *QueryFilter) {
	switch actor.Role() {
	case profile.RoleAdmin:
	case profile.RoleTeacher:
		filter.TeacherID = actor.ID
	default:
		filter.StudentID = actor.ID
	}
}

func (svc *Service) Query(ctx context.Context, actor profile.Profile, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) (core.Page[Lesson], error) {
	if err := filter.Clean(); err != nil {
		return core.Page[Lesson]{}, err
	}
	page.Clean()
	scope(actor, &filter)

	lessons, total, err := svc.repo.Query(ctx, filter, CleanOrdering(ordering), page)
	if err != nil {
		return core.Page[Lesson]{}, errors.Wrap(err, "querying lessons")
	}
	return core.NewPage(lessons, total, page), nil
}

func (svc *Service) Get(ctx context.Context, actor profile.Profile, id string) (Lesson, error) {
	l, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	if !canView(actor, l) {
		return Lesson{}, ErrNotFound
	}
	return l, nil
}

// Create schedules a lesson. Teachers always own the lessons they create.
func (svc *Service) Create(ctx context.Context, actor profile.Profile, nl NewLesson) (Lesson, error) {
	if !actor.IsStaff() {
		return Lesson{}, core.ErrForbidden
	}

	teacherID := nl.TeacherID
	if !actor.IsAdmin || teacherID == "" {
		teacherID = actor.ID
	}
	if teacherID != actor.ID {
		teacher, err := svc.profiles.GetByID(ctx, teacherID)
		if err != nil {
			if core.IsNotFound(err) {
				return Lesson{}, core.NewFieldError("teacher_id", errNotATeacher)
			}
			return Lesson{}, errors.Wrap(err, "finding teacher")
		}
		if !teacher.IsTeacher {
			return Lesson{}, core.NewFieldError("teacher_id", errNotATeacher)
		}
	}

	student, err := svc.profiles.GetByID(ctx, nl.StudentID)
	if err != nil {
		if core.IsNotFound(err) {
			return Lesson{}, core.NewFieldError("student_id", errNotAStudent)
		}
		return Lesson{}, errors.Wrap(err, "finding student")
	}
	if !student.IsStudent {
		return Lesson{}, core.NewFieldError("student_id", errNotAStudent)
	}

	if err = svc.checkEventLink(ctx, nl.GoogleEventID, ""); err != nil {
		return Lesson{}, err
	}

	num, err := svc.repo.NextTeacherNumber(ctx, teacherID, student.ID)
	if err != nil {
		return Lesson{}, errors.Wrap(err, "numbering lesson")
	}

	now := time.Now().UTC()
	l := Lesson{
		StudentID:           student.ID,
		TeacherID:           teacherID,
		CreatorUserID:       actor.ID,
		Title:               nl.Title,
		Notes:               nl.Notes,
		ScheduledAt:         nl.ScheduledAt.UTC(),
		Status:              nl.Status,
		LessonTeacherNumber: num,
		GoogleEventID:       nl.GoogleEventID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	l, err = svc.repo.Create(ctx, l)
	return l, errors.Wrap(err, "creating lesson")
}

// checkEventLink fails when a lesson other than lessonID is linked to eventID.
func (svc *Service) checkEventLink(ctx context.Context, eventID, lessonID string) error {
	if eventID == "" {
		return nil
	}
	linked, err := svc.repo.GetByGoogleEventID(ctx, eventID)
	switch {
	case core.IsNotFound(err):
		return nil
	case err != nil:
		return errors.Wrap(err, "finding linked lesson")
	case linked.ID != lessonID:
		return core.NewFieldError("google_event_id", errEventLinked)
	}
	return nil
}

// FindByGoogleEventID returns the lesson linked to a calendar event; no permission checks.
func (svc *Service) FindByGoogleEventID(ctx context.Context, eventID string) (Lesson, error) {
	if eventID == "" {
		return Lesson{}, ErrNotFound
	}
	return svc.repo.GetByGoogleEventID(ctx, eventID)
}

// BulkCreate validates and creates every lesson on its own; failures are reported by index.
func (svc *Service) BulkCreate(ctx context.Context, actor profile.Profile, validate *validator.Validate, lessons []NewLesson) (BulkCreateResult, error) {
	if !actor.IsStaff() {
		return BulkCreateResult{}, core.ErrForbidden
	}
	if err := checkBulkSize(len(lessons)); err != nil {
		return BulkCreateResult{}, err
	}

	res := BulkCreateResult{Created: []Lesson{}, Errors: []BulkFailure{}, Total: len(lessons)}
	for i := range lessons {
		nl := lessons[i]
		err := nl.Validate(validate)
		var l Lesson
		if err == nil {
			l, err = svc.Create(ctx, actor, nl)
		}
		if err != nil {
			res.Errors = append(res.Errors, svc.bulkFailure(i, "", err))
			res.Failed++
			continue
		}
		res.Created = append(res.Created, l)
		res.Success++
	}
	return res, nil
}

// BulkDelete deletes every lesson the actor may edit; failures are reported by index.
func (svc *Service) BulkDelete(ctx context.Context, actor profile.Profile, ids []string) (BulkDeleteResult, error) {
	if !actor.IsStaff() {
		return BulkDeleteResult{}, core.ErrForbidden
	}
	if err := checkBulkSize(len(ids)); err != nil {
		return BulkDeleteResult{}, err
	}

	res := BulkDeleteResult{Deleted: []string{}, Errors: []BulkFailure{}, Total: len(ids)}
	for i, id := range ids {
		id = core.CleanString(id)
		err := core.NewFieldError("lesson_id", "lesson ID is required")
		if id != "" {
			err = svc.Delete(ctx, actor, id)
		}
		if err != nil {
			res.Errors = append(res.Errors, svc.bulkFailure(i, id, err))
			res.Failed++
			continue
		}
		res.Deleted = append(res.Deleted, id)
		res.Success++
	}
	return res, nil
}

func checkBulkSize(n int) error {
	switch {
	case n == 0:
		return core.NewFieldError("lessons", errBulkEmpty)
	case n > MaxBulkLessons:
		return core.NewFieldError("lessons", errBulkTooMany)
	}
	return nil
}

func (svc *Service) bulkFailure(index int, lessonID string, err error) BulkFailure {
	f := BulkFailure{Index: index, LessonID: lessonID}

	var fieldErrs validator.ValidationErrors
	var verr *core.ValidationError
	switch {
	case errors.As(err, &fieldErrs):
		f.Error = errBulkInvalid
		f.Fields = make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			f.Fields[fe.Field()] = fe.Tag()
		}
	case errors.As(err, &verr):
		f.Error = errBulkInvalid
		f.Fields = make(map[string]string, len(verr.Fields))
		for _, fe := range verr.Fields {
			f.Fields[fe.Field] = fe.Error
		}
	case core.IsNotFound(err), errors.Cause(err) == core.ErrForbidden:
		f.Error = errors.Cause(err).Error()
	default:
		svc.logger.Warn("bulk lesson item", err, map[string]interface{}{"index": index})
		f.Error = errBulkUnhandled
	}
	return f
}

// Update edits a lesson and notifies the student of cancellations, moves and completions.
func (svc *Service) Update(ctx context.Context, actor profile.Profile, id string, ul UpdateLesson) (Lesson, error) {
	l, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Lesson{}, err
	}
	if !canEdit(actor, l) {
		return Lesson{}, core.ErrForbidden
	}

	orig := l
	if ul.Title != nil {
		l.Title = *ul.Title
	}
	if ul.Notes != nil {
		l.Notes = *ul.Notes
	}
	if ul.ScheduledAt != nil {
		l.ScheduledAt = ul.ScheduledAt.UTC()
	}
	if ul.Status != "" {
		l.Status = ul.Status
	}
	if ul.GoogleEventID != nil && *ul.GoogleEventID != l.GoogleEventID {
		if err = svc.checkEventLink(ctx, *ul.GoogleEventID, l.ID); err != nil {
			return Lesson{}, err
		}
		l.GoogleEventID = *ul.GoogleEventID
	}
	l.UpdatedAt = time.Now().UTC()

	l, err = svc.repo.Update(ctx, l)
	if err != nil {
		return Lesson{}, errors.Wrap(err, "updating lesson")
	}
	svc.notifyChanges(ctx, orig, l, ul.Reason)
	return l, nil
}

// ApplyCalendarChange reconciles a lesson with its calendar event; no permission checks.
func (svc *Service) ApplyCalendarChange(ctx context.Context, eventID string, cancelled bool, start time.Time) (Lesson, bool, error) {
	l, err := svc.repo.GetByGoogleEventID(ctx, eventID)
	if err != nil {
		return Lesson{}, false, err
	}
	orig := l
	switch {
	case cancelled && l.Status != StatusCancelled:
		l.Status = StatusCancelled
	case !cancelled && !start.IsZero() && !start.Equal(l.ScheduledAt):
		l.ScheduledAt = start.UTC()
		l.Status = StatusRescheduled
	default:
		return l, false, nil
	}
	l.UpdatedAt = time.Now().UTC()
	if l, err = svc.repo.Update(ctx, l); err != nil {
		return Lesson{}, false, errors.Wrap(err, "updating lesson")
	}
	svc.notifyChanges(ctx, orig, l, "")
	return l, true, nil
}

func (svc *Service) notifyChanges(ctx context.Context, orig, l Lesson, reason string) {
	var typ notification.Type
	switch {
	case l.Status == StatusCancelled && orig.Status != StatusCancelled:
		typ = notification.TypeLessonCancelled
	case l.Status == StatusCompleted && orig.Status != StatusCompleted:
		typ = notification.TypeLessonRecap
	case !l.ScheduledAt.Equal(orig.ScheduledAt) && l.IsOpen():
		typ = notification.TypeLessonRescheduled
	default:
		return
	}

	student, err := svc.profiles.GetByID(ctx, l.StudentID)
	if err != nil {
		svc.logger.Warn("finding lesson student", err)
		return
	}
	teacher, err := svc.profiles.GetByID(ctx, l.TeacherID)
	if err != nil {
		svc.logger.Warn("finding lesson teacher", err)
		return
	}

	data := map[string]interface{}{
		"studentName": student.FullName(),
		"teacherName": teacher.FullName(),
		"lessonTitle": l.Title,
		"lessonDate":  l.ScheduledAt.Format(dateLayout),
		"lessonTime":  l.ScheduledAt.Format(timeLayout),
	}
	switch typ {
	case notification.TypeLessonCancelled:
		data["reason"] = reason
	case notification.TypeLessonRescheduled:
		data["oldDate"] = orig.ScheduledAt.Format(dateLayout)
		data["oldTime"] = orig.ScheduledAt.Format(timeLayout)
		data["newDate"] = l.ScheduledAt.Format(dateLayout)
		data["newTime"] = l.ScheduledAt.Format(timeLayout)
	case notification.TypeLessonRecap:
		data["notes"] = l.Notes
		songs, err := svc.repo.ListSongs(ctx, l.ID)
		if err != nil {
			svc.logger.Warn("listing lesson songs", err)
		}
		worked := make([]map[string]interface{}, 0, len(songs))
		for _, s := range songs {
			worked = append(worked, map[string]interface{}{"title": s.SongTitle, "artist": s.SongAuthor, "status": s.Status})
		}
		data["songsWorkedOn"] = worked
	}

	if _, err = svc.notifier.Queue(ctx, notification.Params{
		Type:         typ,
		RecipientID:  l.StudentID,
		TemplateData: data,
		EntityType:   "lesson",
		EntityID:     l.ID,
	}); err != nil {
		svc.logger.Warn("queueing lesson notification", err)
	}
}

func (svc *Service) Delete(ctx context.Context, actor profile.Profile, id string) error {
	l, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if !canEdit(actor, l) {
		return core.ErrForbidden
	}
	return errors.Wrap(svc.repo.Delete(ctx, id), "deleting lesson")
}

// List returns lessons matching filter without role scoping (batch jobs).
func (svc *Service) List(ctx context.Context, filter QueryFilter) ([]Lesson, error) {
	return svc.repo.List(ctx, filter)
}

func (svc *Service) StudentActivity(ctx context.Context, now time.Time) ([]StudentActivity, error) {
	return svc.repo.StudentActivity(ctx, now)
}

func (svc *Service) CountMastered(ctx context.Context, studentID string, since time.Time) (int, error) {
	return svc.repo.CountMastered(ctx, studentID, since)
}

// Lesson songs

func (svc *Service) ListSongs(ctx context.Context, actor profile.Profile, lessonID string) ([]LessonSong, error) {
	if _, err := svc.Get(ctx, actor, lessonID); err != nil {
		return nil, err
	}
	songs, err := svc.repo.ListSongs(ctx, lessonID)
	if err != nil {
		return nil, errors.Wrap(err, "listing lesson songs")
	}
	if songs == nil {
		songs = []LessonSong{}
	}
	return songs, nil
}

func (svc *Service) AddSong(ctx context.Context, actor profile.Profile, lessonID string, al AddLessonSong) (LessonSong, error) {
	l, err := svc.Get(ctx, actor, lessonID)
	if err != nil {
		return LessonSong{}, err
	}
	if !canEdit(actor, l) {
		return LessonSong{}, core.ErrForbidden
	}
	s, err := svc.songs.Get(ctx, al.SongID)
	if err != nil {
		if core.IsNotFound(err) {
			return LessonSong{}, core.NewFieldError("song_id", "song not found")
		}
		return LessonSong{}, errors.Wrap(err, "finding song")
	}

	now := time.Now().UTC()
	ls, err := svc.repo.AddSong(ctx, LessonSong{
		LessonID:  l.ID,
		SongID:    s.ID,
		StudentID: l.StudentID,
		Status:    al.Status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return LessonSong{}, errors.Wrap(err, "adding lesson song")
	}
	ls.SongTitle, ls.SongAuthor = s.Title, s.Author
	if ls.Status == SongMastered {
		svc.notifyMastery(ctx, ls)
	}
	return ls, nil
}

// UpdateSongStatus moves a song along the learning path; reaching mastered notifies the student.
func (svc *Service) UpdateSongStatus(ctx context.Context, actor profile.Profile, lessonID, songID string, us UpdateLessonSong) (LessonSong, error) {
	l, err := svc.Get(ctx, actor, lessonID)
	if err != nil {
		return LessonSong{}, err
	}
	if !canEdit(actor, l) {
		return LessonSong{}, core.ErrForbidden
	}
	ls, err := svc.repo.GetSong(ctx, lessonID, songID)
	if err != nil {
		return LessonSong{}, err
	}

	prev := ls.Status
	ls.Status = us.Status
	ls.UpdatedAt = time.Now().UTC()
	if ls, err = svc.repo.UpdateSong(ctx, ls); err != nil {
		return LessonSong{}, errors.Wrap(err, "updating lesson song")
	}
	if ls.Status == SongMastered && prev != SongMastered {
		svc.notifyMastery(ctx, ls)
	}
	return ls, nil
}

func (svc *Service) notifyMastery(ctx context.Context, ls LessonSong) {
	student, err := svc.profiles.GetByID(ctx, ls.StudentID)
	if err != nil {
		svc.logger.Warn("finding student", err)
		return
	}
	total, err := svc.repo.CountMastered(ctx, ls.StudentID, time.Time{})
	if err != nil {
		svc.logger.Warn("counting mastered songs", err)
	}
	if _, err = svc.notifier.Queue(ctx, notification.Params{
		Type:        notification.TypeSongMastery,
		RecipientID: ls.StudentID,
		TemplateData: map[string]interface{}{
			"studentName":        student.FullName(),
			"songTitle":          ls.SongTitle,
			"songArtist":         ls.SongAuthor,
			"masteredDate":       ls.UpdatedAt.Format(dateLayout),
			"totalSongsMastered": total,
		},
		EntityType: "lesson_song",
		EntityID:   ls.ID,
		Priority:   3,
	}); err != nil {
		svc.logger.Warn("queueing mastery notification", err)
	}
}

func (svc *Service) RemoveSong(ctx context.Context, actor profile.Profile, lessonID, songID string) error {
	l, err := svc.Get(ctx, actor, lessonID)
	if err != nil {
		return err
	}
	if !canEdit(actor, l) {
		return core.ErrForbidden
	}
	return svc.repo.RemoveSong(ctx, lessonID, songID)
}
