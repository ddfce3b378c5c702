package insights

import (
	"context"
	"time"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

const (
	// InactiveAfter without a lesson, and none upcoming, a student becomes inactive.
	InactiveAfter = 28 * 24 * time.Hour
	// AtRiskAfter without a lesson a student is at risk of becoming inactive.
	AtRiskAfter = 21 * 24 * time.Hour

	digestPriority = 4
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04"
)

type ActivityResult struct {
	Checked     int `json:"checked"`
	Activated   int `json:"activated"`
	Deactivated int `json:"deactivated"`
}

type AtRiskStudent struct {
	profile.Profile
	LastLesson          time.Time `json:"last_lesson"`
	DaysSinceLastLesson int       `json:"days_since_last_lesson"`
}

type QueueResult struct {
	Recipients int      `json:"recipients"`
	Queued     int      `json:"queued"`
	Errors     []string `json:"errors"`
}

// StatsScope restricts dashboard counts to a teacher's or a student's data; empty means everything.
type StatsScope struct {
	TeacherID string
	StudentID string
}

type Stats struct {
	TotalUsers         int `json:"total_users,omitempty"`
	Teachers           int `json:"teachers,omitempty"`
	Students           int `json:"students"`
	ActiveStudents     int `json:"active_students"`
	Songs              int `json:"songs"`
	Lessons            int `json:"lessons"`
	UpcomingLessons    int `json:"upcoming_lessons"`
	RecentLessons      int `json:"recent_lessons"` // created in the last 30 days
	PendingAssignments int `json:"pending_assignments"`
	ActiveAPIKeys      int `json:"active_api_keys,omitempty"`
}

type StatsRepository interface {
	// DashboardStats counts the scoped rows; "now" splits upcoming from past lessons.
	DashboardStats(ctx context.Context, scope StatsScope, now time.Time) (Stats, error)
}
