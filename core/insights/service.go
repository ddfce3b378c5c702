package insights

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/lesson"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/notification"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

// NowFunc is mocked in tests.
var NowFunc = func() time.Time { return time.Now().UTC() }

const statsTTL = time.Minute

type (
	ProfileStore interface {
		GetByID(ctx context.Context, id string) (profile.Profile, error)
		ListStudents(ctx context.Context, status string) ([]profile.Profile, error)
		ListTeachers(ctx context.Context) ([]profile.Profile, error)
		SetStudentStatus(ctx context.Context, ids []string, status string) error
	}

	LessonStore interface {
		List(ctx context.Context, filter lesson.QueryFilter) ([]lesson.Lesson, error)
		StudentActivity(ctx context.Context, now time.Time) ([]lesson.StudentActivity, error)
		CountMastered(ctx context.Context, studentID string, since time.Time) (int, error)
	}

	AssignmentStore interface {
		List(ctx context.Context, filter assignment.QueryFilter) ([]assignment.Assignment, error)
	}

	Service struct {
		profiles    ProfileStore
		lessons     LessonStore
		assignments AssignmentStore
		stats       StatsRepository
		notifier    notification.Queuer
		cache       *cache.Cache
		logger      core.Logger
	}
)

func NewService(profiles ProfileStore, lessons LessonStore, assignments AssignmentStore, stats StatsRepository, notifier notification.Queuer, logger core.Logger) *Service {
	return &Service{
		profiles:    profiles,
		lessons:     lessons,
		assignments: assignments,
		stats:       stats,
		notifier:    notifier,
		cache:       cache.New(statsTTL, 5*time.Minute),
		logger:      logger,
	}
}

func daysSince(t, now time.Time) int {
	return int(math.Floor(now.Sub(t).Hours() / 24))
}

func activityByStudent(acts []lesson.StudentActivity) map[string]lesson.StudentActivity {
	m := make(map[string]lesson.StudentActivity, len(acts))
	for _, a := range acts {
		m[a.StudentID] = a
	}
	return m
}

// isActive: a lesson within InactiveAfter, or one upcoming.
func isActive(act lesson.StudentActivity, now time.Time) bool {
	if !act.NextLesson.IsZero() {
		return true
	}
	return !act.LastLesson.IsZero() && now.Sub(act.LastLesson) < InactiveAfter
}

// UpdateStudentActivity flips student_status of the students whose lesson activity changed.
func (svc *Service) UpdateStudentActivity(ctx context.Context) (ActivityResult, error) {
	var res ActivityResult
	now := NowFunc()

	students, err := svc.profiles.ListStudents(ctx, "")
	if err != nil {
		return res, errors.Wrap(err, "listing students")
	}
	acts, err := svc.lessons.StudentActivity(ctx, now)
	if err != nil {
		return res, errors.Wrap(err, "loading lesson activity")
	}
	byStudent := activityByStudent(acts)

	var activate, deactivate []string
	for _, s := range students {
		res.Checked++
		active := isActive(byStudent[s.ID], now)
		switch {
		case active && s.StudentStatus != profile.StatusActive:
			activate = append(activate, s.ID)
		case !active && s.StudentStatus == profile.StatusActive:
			deactivate = append(deactivate, s.ID)
		}
	}

	if err = svc.profiles.SetStudentStatus(ctx, activate, profile.StatusActive); err != nil {
		return res, errors.Wrap(err, "activating students")
	}
	res.Activated = len(activate)
	if err = svc.profiles.SetStudentStatus(ctx, deactivate, profile.StatusInactive); err != nil {
		return res, errors.Wrap(err, "deactivating students")
	}
	res.Deactivated = len(deactivate)

	svc.logger.Info("student activity updated", map[string]interface{}{
		"checked": res.Checked, "activated": res.Activated, "deactivated": res.Deactivated,
	})
	return res, nil
}

// AtRiskStudents lists active students whose last lesson is between AtRiskAfter and InactiveAfter ago
// with nothing scheduled.
func (svc *Service) AtRiskStudents(ctx context.Context, actor profile.Profile) ([]AtRiskStudent, error) {
	if !actor.IsStaff() {
		return nil, core.ErrForbidden
	}
	now := NowFunc()

	students, err := svc.profiles.ListStudents(ctx, profile.StatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "listing students")
	}
	acts, err := svc.lessons.StudentActivity(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "loading lesson activity")
	}
	byStudent := activityByStudent(acts)

	atRisk := []AtRiskStudent{}
	for _, s := range students {
		act, ok := byStudent[s.ID]
		if !ok || act.LastLesson.IsZero() || !act.NextLesson.IsZero() {
			continue
		}
		since := now.Sub(act.LastLesson)
		if since >= AtRiskAfter && since < InactiveAfter {
			atRisk = append(atRisk, AtRiskStudent{Profile: s, LastLesson: act.LastLesson, DaysSinceLastLesson: daysSince(act.LastLesson, now)})
		}
	}
	return atRisk, nil
}

// WeeklyDigest queues a progress digest for every active student with notifications on.
func (svc *Service) WeeklyDigest(ctx context.Context) (QueueResult, error) {
	res := QueueResult{Errors: []string{}}
	now := NowFunc()
	weekStart := now.Add(-7 * 24 * time.Hour)

	students, err := svc.profiles.ListStudents(ctx, profile.StatusActive)
	if err != nil {
		return res, errors.Wrap(err, "listing students")
	}

	for _, s := range students {
		if !s.IsActive || !s.NotificationsEnabled || s.IsTest {
			continue
		}
		res.Recipients++
		if err := svc.queueDigest(ctx, s, weekStart, now); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", s.ID, err))
			continue
		}
		res.Queued++
	}
	return res, nil
}

func (svc *Service) queueDigest(ctx context.Context, s profile.Profile, weekStart, now time.Time) error {
	completed, err := svc.lessons.List(ctx, lesson.QueryFilter{StudentID: s.ID, Status: lesson.StatusCompleted, From: weekStart, To: now})
	if err != nil {
		return errors.Wrap(err, "listing completed lessons")
	}
	mastered, err := svc.lessons.CountMastered(ctx, s.ID, weekStart)
	if err != nil {
		return errors.Wrap(err, "counting mastered songs")
	}
	upcoming, err := svc.lessons.List(ctx, lesson.QueryFilter{StudentID: s.ID, OpenOnly: true, From: now, To: now.Add(7 * 24 * time.Hour)})
	if err != nil {
		return errors.Wrap(err, "listing upcoming lessons")
	}

	next := make([]map[string]interface{}, 0, len(upcoming))
	for _, l := range upcoming {
		next = append(next, map[string]interface{}{"date": l.ScheduledAt.Format(dateLayout), "title": l.Title})
	}

	_, err = svc.notifier.Queue(ctx, notification.Params{
		Type:        notification.TypeWeeklyProgressDigest,
		RecipientID: s.ID,
		TemplateData: map[string]interface{}{
			"recipientName":    s.FullName(),
			"weekStart":        weekStart.Format(dateLayout),
			"weekEnd":          now.Format(dateLayout),
			"lessonsCompleted": len(completed),
			"songsMastered":    mastered,
			"upcomingLessons":  next,
		},
		EntityType: "profile",
		EntityID:   s.ID,
		Priority:   digestPriority,
	})
	return err
}

// TeacherDailySummary queues today's agenda to every active teacher.
func (svc *Service) TeacherDailySummary(ctx context.Context) (QueueResult, error) {
	res := QueueResult{Errors: []string{}}
	now := NowFunc()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	teachers, err := svc.profiles.ListTeachers(ctx)
	if err != nil {
		return res, errors.Wrap(err, "listing teachers")
	}

	for _, t := range teachers {
		if !t.IsActive || !t.NotificationsEnabled {
			continue
		}
		res.Recipients++
		if err := svc.queueSummary(ctx, t, dayStart, dayEnd); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", t.ID, err))
			continue
		}
		res.Queued++
	}
	return res, nil
}

func (svc *Service) queueSummary(ctx context.Context, t profile.Profile, dayStart, dayEnd time.Time) error {
	lessons, err := svc.lessons.List(ctx, lesson.QueryFilter{TeacherID: t.ID, From: dayStart, To: dayEnd})
	if err != nil {
		return errors.Wrap(err, "listing lessons")
	}
	pending, err := svc.assignments.List(ctx, assignment.QueryFilter{TeacherID: t.ID, OpenOnly: true})
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}

	upcoming := []map[string]interface{}{}
	completed := 0
	for _, l := range lessons {
		switch {
		case l.Status == lesson.StatusCompleted:
			completed++
		case l.IsOpen():
			name := ""
			if s, err := svc.profiles.GetByID(ctx, l.StudentID); err == nil {
				name = s.FullName()
			}
			upcoming = append(upcoming, map[string]interface{}{
				"time":        l.ScheduledAt.Format(timeLayout),
				"studentName": name,
				"title":       l.Title,
			})
		}
	}

	_, err = svc.notifier.Queue(ctx, notification.Params{
		Type:        notification.TypeTeacherDailySummary,
		RecipientID: t.ID,
		TemplateData: map[string]interface{}{
			"teacherName":        t.FullName(),
			"date":               dayStart.Format(dateLayout),
			"upcomingLessons":    upcoming,
			"completedLessons":   completed,
			"pendingAssignments": len(pending),
		},
		EntityType: "profile",
		EntityID:   t.ID,
		Priority:   digestPriority,
	})
	return err
}

// LessonReminders queues a reminder for open lessons starting 24 to 25 hours from now.
// Run hourly, every lesson gets exactly one reminder.
func (svc *Service) LessonReminders(ctx context.Context) (QueueResult, error) {
	res := QueueResult{Errors: []string{}}
	now := NowFunc()

	lessons, err := svc.lessons.List(ctx, lesson.QueryFilter{OpenOnly: true, From: now.Add(24 * time.Hour), To: now.Add(25 * time.Hour)})
	if err != nil {
		return res, errors.Wrap(err, "listing lessons")
	}

	for _, l := range lessons {
		res.Recipients++
		student, err := svc.profiles.GetByID(ctx, l.StudentID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", l.ID, err))
			continue
		}
		teacherName := ""
		if t, err := svc.profiles.GetByID(ctx, l.TeacherID); err == nil {
			teacherName = t.FullName()
		}
		if _, err = svc.notifier.Queue(ctx, notification.Params{
			Type:        notification.TypeLessonReminder24h,
			RecipientID: student.ID,
			TemplateData: map[string]interface{}{
				"studentName": student.FullName(),
				"teacherName": teacherName,
				"lessonTitle": l.Title,
				"lessonDate":  l.ScheduledAt.Format(dateLayout),
				"lessonTime":  l.ScheduledAt.Format(timeLayout),
			},
			EntityType: "lesson",
			EntityID:   l.ID,
			Priority:   3,
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", l.ID, err))
			continue
		}
		res.Queued++
	}
	return res, nil
}

// DashboardStats returns the counts visible to actor, cached for a minute.
func (svc *Service) DashboardStats(ctx context.Context, actor profile.Profile) (Stats, error) {
	var scope StatsScope
	switch actor.Role() {
	case profile.RoleAdmin:
	case profile.RoleTeacher:
		scope.TeacherID = actor.ID
	default:
		scope.StudentID = actor.ID
	}

	key := actor.Role() + ":" + scope.TeacherID + scope.StudentID
	if cached, ok := svc.cache.Get(key); ok {
		return cached.(Stats), nil
	}

	stats, err := svc.stats.DashboardStats(ctx, scope, NowFunc())
	if err != nil {
		return Stats{}, errors.Wrap(err, "computing dashboard stats")
	}
	svc.cache.SetDefault(key, stats)
	return stats, nil
}
