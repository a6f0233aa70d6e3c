package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

type ctxKey int

const (
	userKey ctxKey = iota
	subjectKey
)

// userFromContext returns the request's user, or nil for unrestricted access.
func userFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}

func subjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// parseToken validates an HS256 token and returns its subject and the
// user built from its "user" claim.
func parseToken(secret, tokenString string) (string, *model.User, error) {
	tok, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", nil, fmt.Errorf("token verification failed: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	sub, _ := claims["sub"].(string)

	u := &model.User{Attributes: map[string]any{}}
	if raw, ok := claims["user"].(map[string]any); ok {
		if attrs, ok := raw["attributes"].(map[string]any); ok {
			u.Attributes = attrs
		}
	}
	return sub, u, nil
}

// authenticate reads the bearer token when secret is set. Without a
// secret every request has unrestricted access.
func authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			sub, u, err := parseToken(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), userKey, u)
			ctx = context.WithValue(ctx, subjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client token bucket, answering 429 when a
// client exceeds it.
func rateLimiter(perSecond float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)

	get := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		for k, cl := range clients {
			if now.Sub(cl.lastSeen) > 10*time.Minute {
				delete(clients, k)
			}
		}
		cl, ok := clients[ip]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		return cl.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := get(clientIP(r))
			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses RemoteAddr only; forwarded headers can be spoofed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
