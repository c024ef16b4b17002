package http

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/launchpad/internal/logging"
)

// HeaderTenantID carries the caller's tenant on session endpoints.
const HeaderTenantID = "X-Tenant-ID"

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

const (
	defaultTokenRPS   = 1
	defaultTokenBurst = 10
	limiterTTL        = time.Hour
)

// correlate puts the request id and a request-scoped logger on the request
// context so service logs can be tied back to the request.
func (s *Server) correlate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		ctx = logging.WithLogger(ctx, logging.Wrap(s.logger))
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// requireTenant rejects requests without a tenant principal.
func requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := strings.TrimSpace(c.Request().Header.Get(HeaderTenantID))
		if tenant == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderTenantID+" header")
		}
		if !tenantPattern.MatchString(tenant) {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed "+HeaderTenantID+" header")
		}
		c.SetRequest(c.Request().WithContext(logging.WithTenantID(c.Request().Context(), tenant)))
		return next(c)
	}
}

func tenantOf(c echo.Context) string {
	return logging.TenantIDFromContext(c.Request().Context())
}

// clientLimiter hands out one token bucket per client IP.
type clientLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 {
		rps = defaultTokenRPS
	}
	if burst <= 0 {
		burst = defaultTokenBurst
	}
	return &clientLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *clientLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastCleanup.IsZero() {
		l.lastCleanup = now
	}
	// Dropping every bucket periodically keeps the map bounded.
	if now.Sub(l.lastCleanup) > limiterTTL {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = now
	}

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim.AllowN(now, 1)
}

// rateLimit throttles the unauthenticated approval-link endpoints.
func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if !s.limiter.allow(ip) {
			ctx := c.Request().Context()
			logging.FromContext(ctx).Warn(ctx, "approval link rate limit exceeded", zap.String("ip", ip))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return next(c)
	}
}
