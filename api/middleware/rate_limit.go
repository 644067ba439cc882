package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keymarket/keymarket-backend/api/responses"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimitPolicy defines a per-caller token bucket.
type RateLimitPolicy struct {
	Name      string
	PerMinute int
	Burst     int
}

func (p RateLimitPolicy) enabled() bool {
	return p.PerMinute > 0
}

func (p RateLimitPolicy) limit() rate.Limit {
	return rate.Limit(float64(p.PerMinute) / 60)
}

func (p RateLimitPolicy) burst() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return 1
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one limiter per caller and drops callers idle longer than limiterIdleTTL.
type limiterSet struct {
	mu       sync.Mutex
	policy   RateLimitPolicy
	visitors map[string]*visitor
	now      func() time.Time
	lastGC   time.Time
}

func newLimiterSet(policy RateLimitPolicy) *limiterSet {
	return &limiterSet{
		policy:   policy,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastGC) > limiterIdleTTL {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(s.visitors, k)
			}
		}
		s.lastGC = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.policy.limit(), s.policy.burst())}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimit throttles each authenticated user, falling back to the client IP.
func RateLimit(policy RateLimitPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return rateLimit(newLimiterSet(policy), logg)
}

func rateLimit(set *limiterSet, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !set.policy.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserIDFromContext(r.Context())
			scope := "user"
			if key == "" {
				key = clientIP(r)
				scope = "ip"
			}
			if !set.allow(key) {
				if logg != nil {
					logCtx := logg.WithFields(r.Context(), map[string]any{
						"policy":     set.policy.Name,
						"scope":      scope,
						"per_minute": set.policy.PerMinute,
						"burst":      set.policy.burst(),
					})
					logg.Warn(logCtx, "rate_limit.blocked")
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
