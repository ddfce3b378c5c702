package dummydb

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

type songRepository struct {
	db          *table[song.Song]
	lessonSongs *table[lesson.LessonSong]
}

var _ song.Repository = (*songRepository)(nil) // interface compliance check

func NewSongRepository(db *DB) *songRepository {
	return &songRepository{db: db.songs, lessonSongs: db.lessonSongs}
}

func songField(s song.Song, field string) interface{} {
	switch field {
	case "title":
		return s.Title
	case "author":
		return s.Author
	case "level":
		return s.Level
	case "key":
		return s.Key
	case "updated_at":
		return s.UpdatedAt
	}
	return s.CreatedAt
}

func (repo *songRepository) Create(_ context.Context, s song.Song) (song.Song, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = newID()
	repo.db.rows[s.ID] = &s
	return s, nil
}

func (repo *songRepository) Get(_ context.Context, id string) (song.Song, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if s, ok := repo.db.rows[id]; ok && !s.IsDeleted() {
		return *s, nil
	}
	return song.Song{}, song.ErrNotFound
}

func (repo *songRepository) studentSongs(studentID string) map[string]bool {
	repo.lessonSongs.RLock()
	defer repo.lessonSongs.RUnlock()

	ids := make(map[string]bool)
	for _, ls := range repo.lessonSongs.rows {
		if ls.StudentID == studentID {
			ids[ls.SongID] = true
		}
	}
	return ids
}

func (repo *songRepository) Query(_ context.Context, filter song.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]song.Song, int, error) {
	var linked map[string]bool
	if filter.StudentID != "" {
		linked = repo.studentSongs(filter.StudentID)
	}

	repo.db.RLock()
	defer repo.db.RUnlock()

	songs := repo.db.all(func(s song.Song) bool {
		switch {
		case s.IsDeleted():
			return false
		case filter.Search != "" && !contains(s.Title, filter.Search) && !contains(s.Author, filter.Search):
			return false
		case filter.Level != "" && s.Level != filter.Level:
			return false
		case filter.Key != "" && s.Key != filter.Key:
			return false
		case filter.Author != "" && !contains(s.Author, filter.Author):
			return false
		case linked != nil && !linked[s.ID]:
			return false
		}
		return true
	})
	orderItems(songs, ordering, songField)
	return paginate(songs, page), len(songs), nil
}

func (repo *songRepository) Update(_ context.Context, s song.Song) (song.Song, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[s.ID]; !ok {
		return song.Song{}, song.ErrNotFound
	}
	repo.db.rows[s.ID] = &s
	return s, nil
}

func (repo *songRepository) SoftDelete(_ context.Context, id string, at time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	s, ok := repo.db.rows[id]
	if !ok || s.IsDeleted() {
		return song.ErrNotFound
	}
	s.DeletedAt = at.UTC()
	s.UpdatedAt = at.UTC()
	return nil
}

func (repo *songRepository) IsLinkedToStudent(_ context.Context, songID, studentID string) (bool, error) {
	return repo.studentSongs(studentID)[songID], nil
}
