package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

const songsTable = "songs"

var songColumns = []string{
	"id", "title", "author", "level", "key", "chords", "ultimate_guitar_link", "youtube_url",
	"spotify_link_url", "short_title", "capo_fret", "strumming_pattern", "category", "tempo",
	"created_at", "updated_at", "deleted_at",
}

type songRow struct {
	ID                 string    `db:"id"`
	Title              string    `db:"title"`
	Author             string    `db:"author"`
	Level              string    `db:"level"`
	Key                string    `db:"key"`
	Chords             string    `db:"chords"`
	UltimateGuitarLink string    `db:"ultimate_guitar_link"`
	YoutubeURL         string    `db:"youtube_url"`
	SpotifyLinkURL     string    `db:"spotify_link_url"`
	ShortTitle         string    `db:"short_title"`
	CapoFret           null.Int  `db:"capo_fret"`
	StrummingPattern   string    `db:"strumming_pattern"`
	Category           string    `db:"category"`
	Tempo              null.Int  `db:"tempo"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
	DeletedAt          null.Time `db:"deleted_at"`
}

func boilSong(s song.Song) songRow {
	return songRow{
		ID:                 s.ID,
		Title:              s.Title,
		Author:             s.Author,
		Level:              s.Level,
		Key:                s.Key,
		Chords:             s.Chords,
		UltimateGuitarLink: s.UltimateGuitarLink,
		YoutubeURL:         s.YoutubeURL,
		SpotifyLinkURL:     s.SpotifyLinkURL,
		ShortTitle:         s.ShortTitle,
		CapoFret:           nullIntPtr(s.CapoFret),
		StrummingPattern:   s.StrummingPattern,
		Category:           s.Category,
		Tempo:              nullIntPtr(s.Tempo),
		CreatedAt:          s.CreatedAt.UTC(),
		UpdatedAt:          s.UpdatedAt.UTC(),
		DeletedAt:          nullTime(s.DeletedAt),
	}
}

func (r songRow) unboil() song.Song {
	return song.Song{
		ID:                 r.ID,
		Title:              r.Title,
		Author:             r.Author,
		Level:              r.Level,
		Key:                r.Key,
		Chords:             r.Chords,
		UltimateGuitarLink: r.UltimateGuitarLink,
		YoutubeURL:         r.YoutubeURL,
		SpotifyLinkURL:     r.SpotifyLinkURL,
		ShortTitle:         r.ShortTitle,
		CapoFret:           r.CapoFret.Ptr(),
		StrummingPattern:   r.StrummingPattern,
		Category:           r.Category,
		Tempo:              r.Tempo.Ptr(),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		DeletedAt:          timeOf(r.DeletedAt),
	}
}

func (r songRow) values() map[string]interface{} {
	return map[string]interface{}{
		"title":                r.Title,
		"author":               r.Author,
		"level":                r.Level,
		"key":                  r.Key,
		"chords":               r.Chords,
		"ultimate_guitar_link": r.UltimateGuitarLink,
		"youtube_url":          r.YoutubeURL,
		"spotify_link_url":     r.SpotifyLinkURL,
		"short_title":          r.ShortTitle,
		"capo_fret":            r.CapoFret,
		"strumming_pattern":    r.StrummingPattern,
		"category":             r.Category,
		"tempo":                r.Tempo,
		"created_at":           r.CreatedAt,
		"updated_at":           r.UpdatedAt,
		"deleted_at":           r.DeletedAt,
	}
}

type songRepository struct {
	base
}

var _ song.Repository = (*songRepository)(nil) // interface compliance check

func NewSongRepository(exec core.DBExecutor) *songRepository {
	return &songRepository{base{exec: exec}}
}

var songAlive = sq.Eq{"deleted_at": nil}

func (repo songRepository) Create(ctx context.Context, s song.Song) (song.Song, error) {
	s.ID = uuid.NewString()
	row := boilSong(s)
	vals := row.values()
	vals["id"] = row.ID
	if _, err := repo.run(ctx, psql.Insert(songsTable).SetMap(vals)); err != nil {
		return song.Song{}, trapErr(err, song.ErrNotFound, "inserting song")
	}
	return row.unboil(), nil
}

func (repo songRepository) Get(ctx context.Context, id string) (song.Song, error) {
	if !validID(id) {
		return song.Song{}, song.ErrNotFound
	}
	var row songRow
	query := psql.Select(songColumns...).From(songsTable).Where(sq.Eq{"id": id}).Where(songAlive)
	if err := repo.get(ctx, &row, query); err != nil {
		return song.Song{}, trapErr(err, song.ErrNotFound, "getting song")
	}
	return row.unboil(), nil
}

func songWhere(f song.QueryFilter) sq.And {
	where := sq.And{songAlive}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, sq.Or{sq.ILike{"title": like}, sq.ILike{"author": like}})
	}
	if f.Level != "" {
		where = append(where, sq.Eq{"level": f.Level})
	}
	if f.Key != "" {
		where = append(where, sq.Eq{"key": f.Key})
	}
	if f.Author != "" {
		where = append(where, sq.ILike{"author": "%" + f.Author + "%"})
	}
	if f.StudentID != "" {
		if !validID(f.StudentID) {
			where = append(where, sq.Expr("FALSE"))
		} else {
			where = append(where, sq.Expr("id IN (SELECT song_id FROM lesson_songs WHERE student_id = ?)", f.StudentID))
		}
	}
	return where
}

func (repo songRepository) Query(ctx context.Context, filter song.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]song.Song, int, error) {
	where := songWhere(filter)

	total, err := repo.count(ctx, psql.Select("COUNT(*)").From(songsTable).Where(where))
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting songs")
	}

	var rows []songRow
	query := paginate(psql.Select(songColumns...).From(songsTable).Where(where).OrderBy(orderBy(ordering)...), page)
	if err = repo.selectAll(ctx, &rows, query); err != nil {
		return nil, 0, errors.Wrap(err, "querying songs")
	}
	songs := make([]song.Song, 0, len(rows))
	for _, r := range rows {
		songs = append(songs, r.unboil())
	}
	return songs, total, nil
}

func (repo songRepository) Update(ctx context.Context, s song.Song) (song.Song, error) {
	if !validID(s.ID) {
		return song.Song{}, song.ErrNotFound
	}
	row := boilSong(s)
	n, err := repo.run(ctx, psql.Update(songsTable).SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return song.Song{}, trapErr(err, song.ErrNotFound, "updating song")
	}
	if n == 0 {
		return song.Song{}, song.ErrNotFound
	}
	return row.unboil(), nil
}

func (repo songRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return song.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Update(songsTable).
		Set("deleted_at", at.UTC()).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"id": id}).Where(songAlive))
	if err != nil {
		return errors.Wrap(err, "deleting song")
	}
	if n == 0 {
		return song.ErrNotFound
	}
	return nil
}

func (repo songRepository) IsLinkedToStudent(ctx context.Context, songID, studentID string) (bool, error) {
	if !validID(songID) || !validID(studentID) {
		return false, nil
	}
	return repo.exists(ctx, psql.Select("1").From(lessonSongsTable).Where(sq.Eq{"song_id": songID, "student_id": studentID}))
}
