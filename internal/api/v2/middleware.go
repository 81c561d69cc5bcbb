package api

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/greenfield-iot/agrialert/internal/errors"
)

const (
	userIDKey = "userID"

	// accessTokenParam carries the token for websocket upgrades, where
	// browsers cannot set headers.
	accessTokenParam = "access_token"

	rateLimitExpiry = 3 * time.Minute
)

// authMiddleware resolves the bearer token to a user id and stores it on the
// context. Requests without a known token are rejected with 401.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		token := bearerToken(ctx.Request())
		if token == "" {
			return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
		}

		userID, ok := c.lookupToken(token)
		if !ok {
			return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid bearer token"})
		}

		ctx.Set(userIDKey, userID)
		return next(ctx)
	}
}

func (c *Controller) lookupToken(token string) (string, bool) {
	var found string
	for known, userID := range c.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			found = userID
		}
	}
	return found, found != ""
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if !websocket.IsWebSocketUpgrade(r) {
		return ""
	}
	return r.URL.Query().Get(accessTokenParam)
}

func userIDFrom(ctx echo.Context) string {
	id, _ := ctx.Get(userIDKey).(string)
	return id
}

// rateLimiter limits authenticated requests per user, falling back to the
// client IP. It returns nil when no limit is configured.
func (c *Controller) rateLimiter() echo.MiddlewareFunc {
	if c.settings.RateLimit <= 0 {
		return nil
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(c.settings.RateLimit),
				Burst:     max(1, int(math.Ceil(c.settings.RateLimit))),
				ExpiresIn: rateLimitExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			if id := userIDFrom(ctx); id != "" {
				return "user:" + id, nil
			}
			return "ip:" + ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, ErrorResponse{Error: "unable to identify client"})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		},
	})
}

// metricsMiddleware records request counts and latency by route template.
func (c *Controller) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)

		status := ctx.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
		}
		c.metrics.ObserveHTTP(ctx.Request().Method, ctx.Path(), strconv.Itoa(status), time.Since(start))
		return err
	}
}
