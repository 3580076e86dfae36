package api

import (
	"net/http"
	"time"

	"trade-settlement-go/internal/auth"
	"trade-settlement-go/internal/models"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// authenticate verifies the bearer token and stores the principal in the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := s.tokens.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(models.WithPrincipal(r.Context(), p)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := models.PrincipalFrom(r.Context()); !ok || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttleChat limits how fast one caller can post chat messages.
func (s *Server) throttleChat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principal(r)
		allowed, err := s.chatLimiter.Allow(r.Context(), p.Id)
		if err != nil {
			zap.L().Warn("Chat rate limiter unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal returns the caller set by authenticate.
func principal(r *http.Request) models.Principal {
	p, _ := models.PrincipalFrom(r.Context())
	return p
}
