package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/insights"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const recentLessonsWindow = 30 * 24 * time.Hour

type statsRow struct {
	TotalUsers         int `db:"total_users"`
	Teachers           int `db:"teachers"`
	Students           int `db:"students"`
	ActiveStudents     int `db:"active_students"`
	Songs              int `db:"songs"`
	Lessons            int `db:"lessons"`
	UpcomingLessons    int `db:"upcoming_lessons"`
	RecentLessons      int `db:"recent_lessons"`
	PendingAssignments int `db:"pending_assignments"`
	ActiveAPIKeys      int `db:"active_api_keys"`
}

type statsRepository struct {
	base
}

var _ insights.StatsRepository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(exec core.DBExecutor) *statsRepository {
	return &statsRepository{base{exec: exec}}
}

type statCount struct {
	alias string
	query sq.SelectBuilder
}

// countOf uses "?" placeholders; the outer statement rebinds them.
func countOf(table string, where ...sq.Sqlizer) sq.SelectBuilder {
	q := sq.Select("COUNT(*)").From(table)
	for _, w := range where {
		q = q.Where(w)
	}
	return q
}

// counter renders a scalar subquery as a named column.
func counter(query sq.SelectBuilder, alias string) (sq.Sqlizer, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("("+q+") AS "+alias, args...), nil
}

func (repo statsRepository) DashboardStats(ctx context.Context, scope insights.StatsScope, now time.Time) (insights.Stats, error) {
	now = now.UTC()
	var lessonScope, assignmentScope, songScope sq.Sqlizer
	var studentScope sq.Sqlizer = sq.Eq{"is_student": true}
	admin := false

	switch {
	case scope.TeacherID != "":
		if !validID(scope.TeacherID) {
			return insights.Stats{}, nil
		}
		lessonScope = sq.Eq{"teacher_id": scope.TeacherID}
		assignmentScope = sq.Eq{"teacher_id": scope.TeacherID}
		studentScope = sq.And{studentScope, sq.Expr("id IN (SELECT student_id FROM lessons WHERE teacher_id = ?)", scope.TeacherID)}
		songScope = sq.Expr("id IN (SELECT ls.song_id FROM lesson_songs ls JOIN lessons l ON l.id = ls.lesson_id WHERE l.teacher_id = ?)", scope.TeacherID)
	case scope.StudentID != "":
		if !validID(scope.StudentID) {
			return insights.Stats{}, nil
		}
		lessonScope = sq.Eq{"student_id": scope.StudentID}
		assignmentScope = sq.Eq{"student_id": scope.StudentID}
		studentScope = sq.Expr("FALSE")
		songScope = sq.Expr("id IN (SELECT song_id FROM lesson_songs WHERE student_id = ?)", scope.StudentID)
	default:
		admin = true
		lessonScope = sq.Expr("TRUE")
		assignmentScope = sq.Expr("TRUE")
		songScope = sq.Expr("TRUE")
	}

	counts := []statCount{
		{"students", countOf(profilesTable, studentScope)},
		{"active_students", countOf(profilesTable, studentScope, sq.Eq{"student_status": profile.StatusActive})},
		{"songs", countOf(songsTable, songAlive, songScope)},
		{"lessons", countOf(lessonsTable, lessonScope)},
		{"upcoming_lessons", countOf(lessonsTable, lessonScope,
			sq.GtOrEq{"scheduled_at": now},
			sq.Eq{"status": []string{lesson.StatusScheduled, lesson.StatusRescheduled}})},
		{"recent_lessons", countOf(lessonsTable, lessonScope, sq.GtOrEq{"created_at": now.Add(-recentLessonsWindow)})},
		{"pending_assignments", countOf(assignmentsTable, assignmentScope, sq.Eq{"status": assignment.OpenStatuses})},
	}
	if admin {
		counts = append(counts,
			statCount{"total_users", countOf(profilesTable)},
			statCount{"teachers", countOf(profilesTable, sq.Eq{"is_teacher": true})},
			statCount{"active_api_keys", countOf(apiKeysTable, sq.Eq{"is_active": true})},
		)
	}

	query := psql.Select()
	for _, sub := range counts {
		col, err := counter(sub.query, sub.alias)
		if err != nil {
			return insights.Stats{}, errors.Wrap(err, "building stats query")
		}
		query = query.Column(col)
	}

	var row statsRow
	if err := repo.get(ctx, &row, query); err != nil {
		return insights.Stats{}, errors.Wrap(err, "computing stats")
	}
	return insights.Stats{
		TotalUsers:         row.TotalUsers,
		Teachers:           row.Teachers,
		Students:           row.Students,
		ActiveStudents:     row.ActiveStudents,
		Songs:              row.Songs,
		Lessons:            row.Lessons,
		UpcomingLessons:    row.UpcomingLessons,
		RecentLessons:      row.RecentLessons,
		PendingAssignments: row.PendingAssignments,
		ActiveAPIKeys:      row.ActiveAPIKeys,
	}, nil
}
