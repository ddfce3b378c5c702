package song

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
)

// Levels
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

var (
	Levels = []string{LevelBeginner, LevelIntermediate, LevelAdvanced}

	orderingFields = map[string]string{
		"title":      "title",
		"author":     "author",
		"level":      "level",
		"key":        "key",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
	defaultOrdering = core.DBOrdering{Field: "title", Ascending: true}
)

type Song struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Author             string    `json:"author"`
	Level              string    `json:"level"`
	Key                string    `json:"key"`
	Chords             string    `json:"chords"`
	UltimateGuitarLink string    `json:"ultimate_guitar_link"`
	YoutubeURL         string    `json:"youtube_url"`
	SpotifyLinkURL     string    `json:"spotify_link_url"`
	ShortTitle         string    `json:"short_title"`
	CapoFret           *int      `json:"capo_fret"`
	StrummingPattern   string    `json:"strumming_pattern"`
	Category           string    `json:"category"`
	Tempo              *int      `json:"tempo"`
	CreatedAt          time.Time `json:"created_at"` // UTC
	UpdatedAt          time.Time `json:"updated_at"` // UTC
	DeletedAt          time.Time `json:"-"`
}

func (s Song) IsDeleted() bool { return !s.DeletedAt.IsZero() }

// SongInput is used to create or update a Song.
type SongInput struct {
	Title              string `json:"title" validate:"required,max=200"`
	Author             string `json:"author" validate:"max=200"`
	Level              string `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	Key                string `json:"key" validate:"max=10"`
	Chords             string `json:"chords"`
	UltimateGuitarLink string `json:"ultimate_guitar_link" validate:"omitempty,httpurl"`
	YoutubeURL         string `json:"youtube_url" validate:"omitempty,httpurl"`
	SpotifyLinkURL     string `json:"spotify_link_url" validate:"omitempty,httpurl"`
	ShortTitle         string `json:"short_title" validate:"max=50"`
	CapoFret           *int   `json:"capo_fret" validate:"omitempty,min=0,max=12"`
	StrummingPattern   string `json:"strumming_pattern"`
	Category           string `json:"category"`
	Tempo              *int   `json:"tempo" validate:"omitempty,min=20,max=300"`
}

func (in *SongInput) Validate(validate *validator.Validate) error {
	in.Title = core.CleanString(in.Title)
	in.Author = core.CleanString(in.Author)
	in.Level = core.CleanString(in.Level, true /* lower */)
	in.Key = core.CleanString(in.Key)
	in.ShortTitle = core.CleanString(in.ShortTitle)
	in.UltimateGuitarLink = core.CleanString(in.UltimateGuitarLink)
	in.YoutubeURL = core.CleanString(in.YoutubeURL)
	in.SpotifyLinkURL = core.CleanString(in.SpotifyLinkURL)
	if in.Level == "" {
		in.Level = LevelBeginner
	}
	return validate.Struct(in)
}

func (in SongInput) apply(s *Song) {
	s.Title = in.Title
	s.Author = in.Author
	s.Level = in.Level
	s.Key = in.Key
	s.Chords = in.Chords
	s.UltimateGuitarLink = in.UltimateGuitarLink
	s.YoutubeURL = in.YoutubeURL
	s.SpotifyLinkURL = in.SpotifyLinkURL
	s.ShortTitle = in.ShortTitle
	s.CapoFret = in.CapoFret
	s.StrummingPattern = in.StrummingPattern
	s.Category = in.Category
	s.Tempo = in.Tempo
}

type QueryFilter struct {
	Search    string `query:"search"`
	Level     string `query:"level"`
	Key       string `query:"key"`
	Author    string `query:"author"`
	StudentID string `query:"student_id"` // songs linked to the student through lesson_songs
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.SanitizeSearch(qf.Search)
	qf.Author = core.SanitizeSearch(qf.Author)
	qf.Level = core.CleanString(qf.Level, true /* lower */)
	qf.Key = core.CleanString(qf.Key)
}

// CleanOrdering restricts orderings to sortable song columns.
func CleanOrdering(ords []core.DBOrdering) []core.DBOrdering {
	return core.CleanOrderings(ords, orderingFields, defaultOrdering)
}
