package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"authcore/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	routeTokensIssue   = "tokens:issue"
	routeTokensRefresh = "tokens:refresh"
	routeTokensRevoke  = "tokens:revoke"
	routeMe            = "me"
	routeKeysRead      = "keys:read"
	routeAPIKeysRead   = "api_keys:read"
)

var subjectLimitedRoutes = map[string]bool{
	routeMe:            true,
	routeTokensRefresh: true,
}

// enforceRateLimit applies the per-identifier window before resource work
// begins. A limiter failure fails open by default: blocking all traffic on
// an auth-adjacent outage is the worse failure mode than briefly unmetered
// traffic.
func (s *Server) enforceRateLimit(c *gin.Context, routeID, identifier string, subject string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := fmt.Sprintf("ratelimit:%s:endpoint:%s", identifier, routeID)
	if s.rateLimitWithSubject && subjectLimitedRoutes[routeID] && subject != "" {
		key = key + ":subject:" + subject
	}

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		resetUnix := decision.ResetAt.Unix()
		c.Header("RateLimit-Reset", strconv.FormatInt(resetUnix, 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
