package echoapi

import (
	"crypto/subtle"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/metrics"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/profile"
)

// roleMiddleware lets through profiles holding any of roles.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextProfile(ctx)
			if err != nil {
				return err
			}
			for _, role := range roles {
				if p.HasRole(role) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

var (
	adminOnly = roleMiddleware(profile.RoleAdmin)
	staffOnly = roleMiddleware(profile.RoleAdmin, profile.RoleTeacher)
)

// cronMiddleware requires "Authorization: Bearer <CRON_SECRET>".
func cronMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		secret := core.Conf.CronSecret
		if secret == "" {
			return errCronSecretMissing
		}
		token := bearerToken(ctx)
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return errInvalidCronSecret
		}
		return next(ctx)
	}
}

// ipRateLimiter holds one token bucket per client IP; idle buckets expire.
type ipRateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: cache.New(10*time.Minute, 10*time.Minute),
	}
}

func (rl *ipRateLimiter) get(ip string) *rate.Limiter {
	if l, ok := rl.limiters.Get(ip); ok {
		rl.limiters.SetDefault(ip, l) // touch
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.limiters.Add(ip, l, cache.DefaultExpiration); err != nil {
		// added concurrently
		if existing, ok := rl.limiters.Get(ip); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

func (rl *ipRateLimiter) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if !rl.get(ctx.RealIP()).Allow() {
			return errTooManyRequests
		}
		return next(ctx)
	}
}

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)

		status := ctx.Response().Status
		if err != nil {
			status, _ = errorResponse(err, nil)
		}
		path := ctx.Path()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(ctx.Request().Method, path, status, time.Since(start))
		return err
	}
}
