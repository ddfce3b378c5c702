package dummydb

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/apikey"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/song"
)

type statsRepository struct {
	db *DB
}

var _ insights.StatsRepository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(db *DB) *statsRepository {
	return &statsRepository{db: db}
}

func countRows[T any](t *table[T], keep func(T) bool) int {
	t.RLock()
	defer t.RUnlock()
	return len(t.all(keep))
}

func (repo *statsRepository) DashboardStats(_ context.Context, scope insights.StatsScope, now time.Time) (insights.Stats, error) {
	inScope := func(teacherID, studentID string) bool {
		switch {
		case scope.TeacherID != "":
			return teacherID == scope.TeacherID
		case scope.StudentID != "":
			return studentID == scope.StudentID
		}
		return true
	}

	// students and songs reachable through the scoped lessons
	scopedLessons := make(map[string]bool)
	taught := make(map[string]bool)
	repo.db.lessons.RLock()
	for _, l := range repo.db.lessons.rows {
		if inScope(l.TeacherID, l.StudentID) {
			scopedLessons[l.ID] = true
			taught[l.StudentID] = true
		}
	}
	repo.db.lessons.RUnlock()

	linkedSongs := make(map[string]bool)
	repo.db.lessonSongs.RLock()
	for _, ls := range repo.db.lessonSongs.rows {
		if scopedLessons[ls.LessonID] {
			linkedSongs[ls.SongID] = true
		}
	}
	repo.db.lessonSongs.RUnlock()

	isScopedStudent := func(p profile.Profile) bool {
		switch {
		case !p.IsStudent, scope.StudentID != "":
			return false
		case scope.TeacherID != "":
			return taught[p.ID]
		}
		return true
	}
	admin := scope.TeacherID == "" && scope.StudentID == ""

	stats := insights.Stats{
		Students: countRows(repo.db.profiles, isScopedStudent),
		ActiveStudents: countRows(repo.db.profiles, func(p profile.Profile) bool {
			return isScopedStudent(p) && p.StudentStatus == profile.StatusActive
		}),
		Songs: countRows(repo.db.songs, func(s song.Song) bool {
			return !s.IsDeleted() && (admin || linkedSongs[s.ID])
		}),
		Lessons: len(scopedLessons),
		UpcomingLessons: countRows(repo.db.lessons, func(l lesson.Lesson) bool {
			return scopedLessons[l.ID] && !l.ScheduledAt.Before(now) &&
				(l.Status == lesson.StatusScheduled || l.Status == lesson.StatusRescheduled)
		}),
		RecentLessons: countRows(repo.db.lessons, func(l lesson.Lesson) bool {
			return scopedLessons[l.ID] && !l.CreatedAt.Before(now.Add(-30*24*time.Hour))
		}),
		PendingAssignments: countRows(repo.db.assignments, func(a assignment.Assignment) bool {
			return inScope(a.TeacherID, a.StudentID) && a.IsOpen()
		}),
	}
	if admin {
		stats.TotalUsers = countRows(repo.db.profiles, nil)
		stats.Teachers = countRows(repo.db.profiles, func(p profile.Profile) bool { return p.IsTeacher })
		stats.ActiveAPIKeys = countRows(repo.db.apiKeys, func(k apikey.APIKey) bool { return k.IsActive })
	}
	return stats, nil
}
