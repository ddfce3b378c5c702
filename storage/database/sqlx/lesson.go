package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
)

const (
	lessonsTable     = "lessons"
	lessonSongsTable = "lesson_songs"
)

var (
	lessonColumns = []string{
		"id", "student_id", "teacher_id", "creator_user_id", "title", "notes", "scheduled_at",
		"status", "lesson_teacher_number", "google_event_id", "created_at", "updated_at",
	}
	lessonSongColumns = []string{
		"ls.id", "ls.lesson_id", "ls.song_id", "ls.student_id", "ls.song_status", "ls.created_at", "ls.updated_at",
		"s.title AS song_title", "s.author AS song_author",
	}
	openLessonStatuses = []string{lesson.StatusScheduled, lesson.StatusRescheduled, lesson.StatusInProgress}
)

type lessonRow struct {
	ID                  string      `db:"id"`
	StudentID           string      `db:"student_id"`
	TeacherID           string      `db:"teacher_id"`
	CreatorUserID       null.String `db:"creator_user_id"`
	Title               string      `db:"title"`
	Notes               string      `db:"notes"`
	ScheduledAt         time.Time   `db:"scheduled_at"`
	Status              string      `db:"status"`
	LessonTeacherNumber int         `db:"lesson_teacher_number"`
	GoogleEventID       null.String `db:"google_event_id"`
	CreatedAt           time.Time   `db:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
}

func boilLesson(l lesson.Lesson) lessonRow {
	return lessonRow{
		ID:                  l.ID,
		StudentID:           l.StudentID,
		TeacherID:           l.TeacherID,
		CreatorUserID:       nullID(l.CreatorUserID),
		Title:               l.Title,
		Notes:               l.Notes,
		ScheduledAt:         l.ScheduledAt.UTC(),
		Status:              l.Status,
		LessonTeacherNumber: l.LessonTeacherNumber,
		GoogleEventID:       nullString(l.GoogleEventID),
		CreatedAt:           l.CreatedAt.UTC(),
		UpdatedAt:           l.UpdatedAt.UTC(),
	}
}

func (r lessonRow) unboil() lesson.Lesson {
	return lesson.Lesson{
		ID:                  r.ID,
		StudentID:           r.StudentID,
		TeacherID:           r.TeacherID,
		CreatorUserID:       r.CreatorUserID.String,
		Title:               r.Title,
		Notes:               r.Notes,
		ScheduledAt:         r.ScheduledAt.UTC(),
		Status:              r.Status,
		LessonTeacherNumber: r.LessonTeacherNumber,
		GoogleEventID:       r.GoogleEventID.String,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

func (r lessonRow) values() map[string]interface{} {
	return map[string]interface{}{
		"student_id":            r.StudentID,
		"teacher_id":            r.TeacherID,
		"creator_user_id":       r.CreatorUserID,
		"title":                 r.Title,
		"notes":                 r.Notes,
		"scheduled_at":          r.ScheduledAt,
		"status":                r.Status,
		"lesson_teacher_number": r.LessonTeacherNumber,
		"google_event_id":       r.GoogleEventID,
		"created_at":            r.CreatedAt,
		"updated_at":            r.UpdatedAt,
	}
}

func unboilLessons(rows []lessonRow) []lesson.Lesson {
	lessons := make([]lesson.Lesson, 0, len(rows))
	for _, r := range rows {
		lessons = append(lessons, r.unboil())
	}
	return lessons
}

type lessonSongRow struct {
	ID         string      `db:"id"`
	LessonID   string      `db:"lesson_id"`
	SongID     string      `db:"song_id"`
	StudentID  string      `db:"student_id"`
	Status     string      `db:"song_status"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
	SongTitle  null.String `db:"song_title"`
	SongAuthor null.String `db:"song_author"`
}

func (r lessonSongRow) unboil() lesson.LessonSong {
	return lesson.LessonSong{
		ID:         r.ID,
		LessonID:   r.LessonID,
		SongID:     r.SongID,
		StudentID:  r.StudentID,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
		SongTitle:  r.SongTitle.String,
		SongAuthor: r.SongAuthor.String,
	}
}

type activityRow struct {
	StudentID  string    `db:"student_id"`
	LastLesson null.Time `db:"last_lesson"`
	NextLesson null.Time `db:"next_lesson"`
}

type lessonRepository struct {
	base
}

var _ lesson.Repository = (*lessonRepository)(nil) // interface compliance check

func NewLessonRepository(exec core.DBExecutor) *lessonRepository {
	return &lessonRepository{base{exec: exec}}
}

func (repo lessonRepository) selectLessons() sq.SelectBuilder {
	return psql.Select(lessonColumns...).From(lessonsTable)
}

func (repo lessonRepository) NextTeacherNumber(ctx context.Context, teacherID, studentID string) (int, error) {
	n, err := repo.count(ctx, psql.Select("COALESCE(MAX(lesson_teacher_number), 0) + 1").
		From(lessonsTable).
		Where(sq.Eq{"teacher_id": teacherID, "student_id": studentID}))
	return n, errors.Wrap(err, "numbering lesson")
}

func (repo lessonRepository) Create(ctx context.Context, l lesson.Lesson) (lesson.Lesson, error) {
	l.ID = uuid.NewString()
	row := boilLesson(l)
	vals := row.values()
	vals["id"] = row.ID
	if _, err := repo.run(ctx, psql.Insert(lessonsTable).SetMap(vals)); err != nil {
		return lesson.Lesson{}, trapErr(err, lesson.ErrNotFound, "inserting lesson")
	}
	return row.unboil(), nil
}

func (repo lessonRepository) getBy(ctx context.Context, where sq.Sqlizer) (lesson.Lesson, error) {
	var row lessonRow
	if err := repo.get(ctx, &row, repo.selectLessons().Where(where).Limit(1)); err != nil {
		return lesson.Lesson{}, trapErr(err, lesson.ErrNotFound, "getting lesson")
	}
	return row.unboil(), nil
}

func (repo lessonRepository) Get(ctx context.Context, id string) (lesson.Lesson, error) {
	if !validID(id) {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	return repo.getBy(ctx, sq.Eq{"id": id})
}

func (repo lessonRepository) GetByGoogleEventID(ctx context.Context, eventID string) (lesson.Lesson, error) {
	if eventID == "" {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	return repo.getBy(ctx, sq.Eq{"google_event_id": eventID})
}

func lessonWhere(f lesson.QueryFilter) sq.And {
	where := sq.And{}
	for _, fld := range [][2]string{{"student_id", f.StudentID}, {"teacher_id", f.TeacherID}} {
		col, id := fld[0], fld[1]
		if id == "" {
			continue
		}
		if !validID(id) {
			return sq.And{sq.Expr("FALSE")}
		}
		where = append(where, sq.Eq{col: id})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": f.Status})
	}
	if !f.From.IsZero() {
		where = append(where, sq.GtOrEq{"scheduled_at": f.From.UTC()})
	}
	if !f.To.IsZero() {
		where = append(where, sq.Lt{"scheduled_at": f.To.UTC()})
	}
	if f.OpenOnly {
		where = append(where, sq.Eq{"status": openLessonStatuses})
	}
	return where
}

func (repo lessonRepository) Query(ctx context.Context, filter lesson.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]lesson.Lesson, int, error) {
	where := lessonWhere(filter)

	total, err := repo.count(ctx, psql.Select("COUNT(*)").From(lessonsTable).Where(where))
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting lessons")
	}

	var rows []lessonRow
	query := paginate(repo.selectLessons().Where(where).OrderBy(orderBy(ordering)...), page)
	if err = repo.selectAll(ctx, &rows, query); err != nil {
		return nil, 0, errors.Wrap(err, "querying lessons")
	}
	return unboilLessons(rows), total, nil
}

func (repo lessonRepository) List(ctx context.Context, filter lesson.QueryFilter) ([]lesson.Lesson, error) {
	var rows []lessonRow
	if err := repo.selectAll(ctx, &rows, repo.selectLessons().Where(lessonWhere(filter)).OrderBy("scheduled_at ASC")); err != nil {
		return nil, errors.Wrap(err, "listing lessons")
	}
	return unboilLessons(rows), nil
}

func (repo lessonRepository) Update(ctx context.Context, l lesson.Lesson) (lesson.Lesson, error) {
	if !validID(l.ID) {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	row := boilLesson(l)
	n, err := repo.run(ctx, psql.Update(lessonsTable).SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return lesson.Lesson{}, trapErr(err, lesson.ErrNotFound, "updating lesson")
	}
	if n == 0 {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	return row.unboil(), nil
}

func (repo lessonRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return lesson.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Delete(lessonsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting lesson")
	}
	if n == 0 {
		return lesson.ErrNotFound
	}
	return nil
}

func (repo lessonRepository) StudentActivity(ctx context.Context, now time.Time) ([]lesson.StudentActivity, error) {
	now = now.UTC()
	query := psql.Select("student_id").
		Column(sq.Expr("MAX(scheduled_at) FILTER (WHERE scheduled_at <= ? AND status <> ?) AS last_lesson", now, lesson.StatusCancelled)).
		Column(sq.Expr("MIN(scheduled_at) FILTER (WHERE scheduled_at > ? AND status IN (?, ?, ?)) AS next_lesson",
			now, openLessonStatuses[0], openLessonStatuses[1], openLessonStatuses[2])).
		From(lessonsTable).
		GroupBy("student_id")

	var rows []activityRow
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "loading student activity")
	}
	acts := make([]lesson.StudentActivity, 0, len(rows))
	for _, r := range rows {
		acts = append(acts, lesson.StudentActivity{
			StudentID:  r.StudentID,
			LastLesson: timeOf(r.LastLesson),
			NextLesson: timeOf(r.NextLesson),
		})
	}
	return acts, nil
}

// Lesson songs

func (repo lessonRepository) selectLessonSongs() sq.SelectBuilder {
	return psql.Select(lessonSongColumns...).
		From(lessonSongsTable + " ls").
		LeftJoin(songsTable + " s ON s.id = ls.song_id")
}

func (repo lessonRepository) AddSong(ctx context.Context, ls lesson.LessonSong) (lesson.LessonSong, error) {
	ls.ID = uuid.NewString()
	_, err := repo.run(ctx, psql.Insert(lessonSongsTable).SetMap(map[string]interface{}{
		"id":          ls.ID,
		"lesson_id":   ls.LessonID,
		"song_id":     ls.SongID,
		"student_id":  ls.StudentID,
		"song_status": ls.Status,
		"created_at":  ls.CreatedAt.UTC(),
		"updated_at":  ls.UpdatedAt.UTC(),
	}))
	if err != nil {
		return lesson.LessonSong{}, trapErr(err, lesson.ErrSongNotFound, "inserting lesson song")
	}
	return ls, nil
}

func (repo lessonRepository) GetSong(ctx context.Context, lessonID, songID string) (lesson.LessonSong, error) {
	if !validID(lessonID) || !validID(songID) {
		return lesson.LessonSong{}, lesson.ErrSongNotFound
	}
	var row lessonSongRow
	query := repo.selectLessonSongs().Where(sq.Eq{"ls.lesson_id": lessonID, "ls.song_id": songID})
	if err := repo.get(ctx, &row, query); err != nil {
		return lesson.LessonSong{}, trapErr(err, lesson.ErrSongNotFound, "getting lesson song")
	}
	return row.unboil(), nil
}

func (repo lessonRepository) ListSongs(ctx context.Context, lessonID string) ([]lesson.LessonSong, error) {
	if !validID(lessonID) {
		return []lesson.LessonSong{}, nil
	}
	var rows []lessonSongRow
	query := repo.selectLessonSongs().Where(sq.Eq{"ls.lesson_id": lessonID}).OrderBy("ls.created_at ASC")
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing lesson songs")
	}
	songs := make([]lesson.LessonSong, 0, len(rows))
	for _, r := range rows {
		songs = append(songs, r.unboil())
	}
	return songs, nil
}

func (repo lessonRepository) UpdateSong(ctx context.Context, ls lesson.LessonSong) (lesson.LessonSong, error) {
	if !validID(ls.LessonID) || !validID(ls.SongID) {
		return lesson.LessonSong{}, lesson.ErrSongNotFound
	}
	n, err := repo.run(ctx, psql.Update(lessonSongsTable).
		Set("song_status", ls.Status).
		Set("updated_at", ls.UpdatedAt.UTC()).
		Where(sq.Eq{"lesson_id": ls.LessonID, "song_id": ls.SongID}))
	if err != nil {
		return lesson.LessonSong{}, errors.Wrap(err, "updating lesson song")
	}
	if n == 0 {
		return lesson.LessonSong{}, lesson.ErrSongNotFound
	}
	return ls, nil
}

func (repo lessonRepository) RemoveSong(ctx context.Context, lessonID, songID string) error {
	if !validID(lessonID) || !validID(songID) {
		return lesson.ErrSongNotFound
	}
	n, err := repo.run(ctx, psql.Delete(lessonSongsTable).Where(sq.Eq{"lesson_id": lessonID, "song_id": songID}))
	if err != nil {
		return errors.Wrap(err, "removing lesson song")
	}
	if n == 0 {
		return lesson.ErrSongNotFound
	}
	return nil
}

func (repo lessonRepository) CountMastered(ctx context.Context, studentID string, since time.Time) (int, error) {
	if !validID(studentID) {
		return 0, nil
	}
	where := sq.And{sq.Eq{"student_id": studentID, "song_status": lesson.SongMastered}}
	if !since.IsZero() {
		where = append(where, sq.GtOrEq{"updated_at": since.UTC()})
	}
	n, err := repo.count(ctx, psql.Select("COUNT(DISTINCT song_id)").From(lessonSongsTable).Where(where))
	return n, errors.Wrap(err, "counting mastered songs")
}
