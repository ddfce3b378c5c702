// Package dummydb implements the repositories in memory. It backs tests and local demos.
package dummydb

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/calendar"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

type (
	DB struct {
		profiles      *table[profile.Profile]
		songs         *table[song.Song]
		lessons       *table[lesson.Lesson]
		lessonSongs   *table[lesson.LessonSong]
		assignments   *table[assignment.Assignment]
		templates     *table[assignment.Template]
		preferences   *table[notification.Preference]
		logs          *table[notification.Log]
		queue         *table[notification.QueueItem]
		integrations  *table[calendar.Integration]
		subscriptions *table[calendar.WebhookSubscription]
		apiKeys       *table[apikey.APIKey]
	}

	table[T any] struct {
		sync.RWMutex
		rows map[string]*T
	}
)

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]*T)}
}

func Open() (*DB, error) {
	db := &DB{
		profiles:      newTable[profile.Profile](),
		songs:         newTable[song.Song](),
		lessons:       newTable[lesson.Lesson](),
		lessonSongs:   newTable[lesson.LessonSong](),
		assignments:   newTable[assignment.Assignment](),
		templates:     newTable[assignment.Template](),
		preferences:   newTable[notification.Preference](),
		logs:          newTable[notification.Log](),
		queue:         newTable[notification.QueueItem](),
		integrations:  newTable[calendar.Integration](),
		subscriptions: newTable[calendar.WebhookSubscription](),
		apiKeys:       newTable[apikey.APIKey](),
	}
	return db, nil
}

// all returns copies of the rows matching keep. Callers hold the lock.
func (t *table[T]) all(keep func(T) bool) []T {
	items := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		if keep == nil || keep(*row) {
			items = append(items, *row)
		}
	}
	return items
}

func newID() string { return uuid.NewString() }

// sortKey renders times in a fixed width so they sort as strings.
func sortKey(v interface{}) string {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format("2006-01-02T15:04:05.000000000")
	case string:
		return strings.ToLower(val)
	case int:
		return fmt.Sprintf("%012d", val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	}
	return ""
}

// orderItems sorts items by ords, reading columns through fields.
func orderItems[T any](items []T, ords []core.DBOrdering, fields func(T, string) interface{}) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ords {
			a, b := sortKey(fields(items[i], ord.Field)), sortKey(fields(items[j], ord.Field))
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return false
	})
}

func paginate[T any](items []T, page core.Pagination) []T {
	if page.Limit <= 0 {
		return items
	}
	start, end := page.Bounds(len(items))
	return items[start:end]
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
