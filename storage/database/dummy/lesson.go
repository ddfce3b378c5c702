package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

type lessonRepository struct {
	db          *table[lesson.Lesson]
	lessonSongs *table[lesson.LessonSong]
	songs       *table[song.Song]
}

var _ lesson.Repository = (*lessonRepository)(nil) // interface compliance check

func NewLessonRepository(db *DB) *lessonRepository {
	return &lessonRepository{db: db.lessons, lessonSongs: db.lessonSongs, songs: db.songs}
}

func lessonField(l lesson.Lesson, field string) interface{} {
	switch field {
	case "scheduled_at":
		return l.ScheduledAt
	case "title":
		return l.Title
	case "status":
		return l.Status
	case "lesson_teacher_number":
		return l.LessonTeacherNumber
	}
	return l.CreatedAt
}

func matchLesson(f lesson.QueryFilter) func(lesson.Lesson) bool {
	return func(l lesson.Lesson) bool {
		switch {
		case f.StudentID != "" && l.StudentID != f.StudentID:
			return false
		case f.TeacherID != "" && l.TeacherID != f.TeacherID:
			return false
		case f.Status != "" && l.Status != f.Status:
			return false
		case !f.From.IsZero() && l.ScheduledAt.Before(f.From):
			return false
		case !f.To.IsZero() && !l.ScheduledAt.Before(f.To):
			return false
		case f.OpenOnly && !l.IsOpen():
			return false
		}
		return true
	}
}

func (repo *lessonRepository) NextTeacherNumber(_ context.Context, teacherID, studentID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	last := 0
	for _, l := range repo.db.rows {
		if l.TeacherID == teacherID && l.StudentID == studentID && l.LessonTeacherNumber > last {
			last = l.LessonTeacherNumber
		}
	}
	return last + 1, nil
}

func (repo *lessonRepository) Create(_ context.Context, l lesson.Lesson) (lesson.Lesson, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	l.ID = newID()
	repo.db.rows[l.ID] = &l
	return l, nil
}

func (repo *lessonRepository) Get(_ context.Context, id string) (lesson.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if l, ok := repo.db.rows[id]; ok {
		return *l, nil
	}
	return lesson.Lesson{}, lesson.ErrNotFound
}

func (repo *lessonRepository) GetByGoogleEventID(_ context.Context, eventID string) (lesson.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	found := repo.db.all(func(l lesson.Lesson) bool { return eventID != "" && l.GoogleEventID == eventID })
	if len(found) == 0 {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	return found[0], nil
}

func (repo *lessonRepository) Query(_ context.Context, filter lesson.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]lesson.Lesson, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	lessons := repo.db.all(matchLesson(filter))
	orderItems(lessons, ordering, lessonField)
	return paginate(lessons, page), len(lessons), nil
}

func (repo *lessonRepository) List(_ context.Context, filter lesson.QueryFilter) ([]lesson.Lesson, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	lessons := repo.db.all(matchLesson(filter))
	orderItems(lessons, []core.DBOrdering{{Field: "scheduled_at", Ascending: true}}, lessonField)
	return lessons, nil
}

func (repo *lessonRepository) Update(_ context.Context, l lesson.Lesson) (lesson.Lesson, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[l.ID]; !ok {
		return lesson.Lesson{}, lesson.ErrNotFound
	}
	repo.db.rows[l.ID] = &l
	return l, nil
}

func (repo *lessonRepository) Delete(_ context.Context, id string) error {
	repo.db.Lock()
	if _, ok := repo.db.rows[id]; !ok {
		repo.db.Unlock()
		return lesson.ErrNotFound
	}
	delete(repo.db.rows, id)
	repo.db.Unlock()

	// lesson_songs cascade
	repo.lessonSongs.Lock()
	defer repo.lessonSongs.Unlock()
	for key, ls := range repo.lessonSongs.rows {
		if ls.LessonID == id {
			delete(repo.lessonSongs.rows, key)
		}
	}
	return nil
}

func (repo *lessonRepository) StudentActivity(_ context.Context, now time.Time) ([]lesson.StudentActivity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	byStudent := make(map[string]*lesson.StudentActivity)
	order := make([]string, 0)
	for _, l := range repo.db.rows {
		act, ok := byStudent[l.StudentID]
		if !ok {
			act = &lesson.StudentActivity{StudentID: l.StudentID}
			byStudent[l.StudentID] = act
			order = append(order, l.StudentID)
		}
		switch {
		case !l.ScheduledAt.After(now) && l.Status != lesson.StatusCancelled:
			if l.ScheduledAt.After(act.LastLesson) {
				act.LastLesson = l.ScheduledAt
			}
		case l.ScheduledAt.After(now) && l.IsOpen():
			if act.NextLesson.IsZero() || l.ScheduledAt.Before(act.NextLesson) {
				act.NextLesson = l.ScheduledAt
			}
		}
	}

	sort.Strings(order)
	activity := make([]lesson.StudentActivity, 0, len(order))
	for _, id := range order {
		activity = append(activity, *byStudent[id])
	}
	return activity, nil
}

func lessonSongKey(lessonID, songID string) string { return lessonID + ":" + songID }

func (repo *lessonRepository) withSong(ls lesson.LessonSong) lesson.LessonSong {
	repo.songs.RLock()
	defer repo.songs.RUnlock()
	if s, ok := repo.songs.rows[ls.SongID]; ok {
		ls.SongTitle = s.Title
		ls.SongAuthor = s.Author
	}
	return ls
}

func (repo *lessonRepository) AddSong(_ context.Context, ls lesson.LessonSong) (lesson.LessonSong, error) {
	repo.lessonSongs.Lock()
	defer repo.lessonSongs.Unlock()

	key := lessonSongKey(ls.LessonID, ls.SongID)
	if _, exists := repo.lessonSongs.rows[key]; exists {
		return lesson.LessonSong{}, core.ErrConflict
	}
	ls.ID = newID()
	repo.lessonSongs.rows[key] = &ls
	return ls, nil
}

func (repo *lessonRepository) GetSong(_ context.Context, lessonID, songID string) (lesson.LessonSong, error) {
	repo.lessonSongs.RLock()
	ls, ok := repo.lessonSongs.rows[lessonSongKey(lessonID, songID)]
	repo.lessonSongs.RUnlock()
	if !ok {
		return lesson.LessonSong{}, lesson.ErrSongNotFound
	}
	return repo.withSong(*ls), nil
}

func (repo *lessonRepository) ListSongs(_ context.Context, lessonID string) ([]lesson.LessonSong, error) {
	repo.lessonSongs.RLock()
	songs := repo.lessonSongs.all(func(ls lesson.LessonSong) bool { return ls.LessonID == lessonID })
	repo.lessonSongs.RUnlock()

	for i := range songs {
		songs[i] = repo.withSong(songs[i])
	}
	orderItems(songs, []core.DBOrdering{{Field: "created_at", Ascending: true}}, func(ls lesson.LessonSong, _ string) interface{} {
		return ls.CreatedAt
	})
	return songs, nil
}

func (repo *lessonRepository) UpdateSong(_ context.Context, ls lesson.LessonSong) (lesson.LessonSong, error) {
	repo.lessonSongs.Lock()
	defer repo.lessonSongs.Unlock()

	orig, ok := repo.lessonSongs.rows[lessonSongKey(ls.LessonID, ls.SongID)]
	if !ok {
		return lesson.LessonSong{}, lesson.ErrSongNotFound
	}
	orig.Status = ls.Status
	orig.UpdatedAt = ls.UpdatedAt
	return repo.withSong(*orig), nil
}

func (repo *lessonRepository) RemoveSong(_ context.Context, lessonID, songID string) error {
	repo.lessonSongs.Lock()
	defer repo.lessonSongs.Unlock()

	key := lessonSongKey(lessonID, songID)
	if _, ok := repo.lessonSongs.rows[key]; !ok {
		return lesson.ErrSongNotFound
	}
	delete(repo.lessonSongs.rows, key)
	return nil
}

func (repo *lessonRepository) CountMastered(_ context.Context, studentID string, since time.Time) (int, error) {
	repo.lessonSongs.RLock()
	defer repo.lessonSongs.RUnlock()

	mastered := make(map[string]bool)
	for _, ls := range repo.lessonSongs.rows {
		if ls.StudentID == studentID && ls.Status == lesson.SongMastered && (since.IsZero() || !ls.UpdatedAt.Before(since)) {
			mastered[ls.SongID] = true
		}
	}
	return len(mastered), nil
}
