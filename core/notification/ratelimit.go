package notification

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter caps outgoing emails per recipient and system wide, both per hour.
// Idle recipient limiters expire from the cache after two hours.
type RateLimiter struct {
	mu       sync.Mutex
	perUser  int
	users    *cache.Cache
	system   *rate.Limiter
	disabled bool
}

// NewRateLimiter returns a limiter allowing userHourly emails per recipient and systemHourly overall.
// Non positive limits disable the corresponding check.
func NewRateLimiter(userHourly, systemHourly int) *RateLimiter {
	rl := &RateLimiter{
		perUser: userHourly,
		users:   cache.New(2*time.Hour, 10*time.Minute),
	}
	if systemHourly > 0 {
		rl.system = rate.NewLimiter(hourly(systemHourly), systemHourly)
	}
	return rl
}

func hourly(n int) rate.Limit {
	return rate.Every(time.Hour / time.Duration(n))
}

// Allow reports whether an email to recipientID may be sent now, consuming a token if so.
func (rl *RateLimiter) Allow(recipientID string) bool {
	return rl.AllowAt(recipientID, time.Now())
}

func (rl *RateLimiter) AllowAt(recipientID string, now time.Time) bool {
	if rl == nil || rl.disabled {
		return true
	}

	var user *rate.Limiter
	if rl.perUser > 0 {
		user = rl.userLimiter(recipientID)
		if user.TokensAt(now) < 1 {
			return false
		}
	}
	if rl.system != nil && !rl.system.AllowN(now, 1) {
		return false
	}
	if user != nil {
		user.AllowN(now, 1)
	}
	return true
}

func (rl *RateLimiter) userLimiter(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.users.Get(id); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(hourly(rl.perUser), rl.perUser)
	rl.users.SetDefault(id, l)
	return l
}

// Disable turns every check off (tests and admin tooling).
func (rl *RateLimiter) Disable() {
	rl.mu.Lock()
	rl.disabled = true
	rl.mu.Unlock()
}
