package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"appfuel/kernel"
	"appfuel/metrics"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 64
)

type contextKey string

const requestIDKey contextKey = "request-id"

// RequestID returns the id the request id middleware stored in ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// requestIDMiddleware keeps a sane incoming X-Request-ID or generates one,
// echoes it back and logs the request once it completes
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(withRequestID(r.Context(), id)))

		s.logger.Debugw("Request completed",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func sanitizeRequestID(id string) string {
	if len(id) > maxRequestIDLen {
		id = id[:maxRequestIDLen]
	}
	for _, c := range id {
		ok := c == '-' || c == '_' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			return ""
		}
	}
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrade
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.written = true
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.serveRecovered(next, w, r); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err, "Internal server error")
		}
	})
}

func (s *Server) serveRecovered(next http.Handler, w http.ResponseWriter, r *http.Request) (err error) {
	defer kernel.RecoverError("http-"+r.URL.Path, s.logger, &err)
	next.ServeHTTP(w, r)
	return nil
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimitMiddleware allows RequestsPerSecond with Burst per client ip
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := realIP(r, s.config.Server.TrustProxy)

		s.limitersMu.Lock()
		entry, ok := s.limiters[ip]
		if !ok {
			entry = &limiterEntry{limiter: rate.NewLimiter(
				rate.Limit(s.config.Server.RateLimit.RequestsPerSecond),
				s.config.Server.RateLimit.Burst)}
			s.limiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		// cleanup may drop the entry once the lock is released
		limiter := entry.limiter
		s.limitersMu.Unlock()

		if !limiter.Allow() {
			metrics.HTTPRateLimitedTotal.Inc()
			s.logger.Debugw("Request rate limited", "ip", ip, "path", r.URL.Path)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cleanupLimiters(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.dropIdleLimiters(interval); n > 0 {
				s.logger.Debugw("Dropped idle rate limiters", "count", n)
			}
		case <-s.stopCh:
			return
		}
	}
}

// dropIdleLimiters removes limiters not used for maxIdle and returns how
// many were removed
func (s *Server) dropIdleLimiters(maxIdle time.Duration) int {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	n := 0
	for ip, entry := range s.limiters {
		if time.Since(entry.lastSeen) > maxIdle {
			delete(s.limiters, ip)
			n++
		}
	}
	return n
}

// realIP is the host of RemoteAddr, or with trustProxy the first valid
// X-Forwarded-For entry, then X-Real-IP
func realIP(r *http.Request, trustProxy bool) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !trustProxy {
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return host
}
