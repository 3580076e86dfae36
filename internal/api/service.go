/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api exposes the settlement core over HTTP. Handlers only decode requests,
// attach the caller's principal and map core errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trade-settlement-go/internal/chat"
	"trade-settlement-go/internal/funds"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/ratelimit"
	"trade-settlement-go/internal/settlement"
	"trade-settlement-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// TokenParser turns a bearer token into a principal.
type TokenParser interface {
	Parse(token string) (models.Principal, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	store          store.Store
	engine         *settlement.Engine
	chat           *chat.Coordinator
	funds          *funds.Service
	tokens         TokenParser
	realtime       http.Handler
	chatLimiter    ratelimit.Limiter
	callbackSecret string
	requestTimeout time.Duration
}

// Deps are the collaborators the HTTP layer adapts.
type Deps struct {
	Store       store.Store
	Engine      *settlement.Engine
	Chat        *chat.Coordinator
	Funds       *funds.Service
	Tokens      TokenParser
	Realtime    http.Handler
	ChatLimiter ratelimit.Limiter
}

func NewServer(deps Deps, cfg models.ServerConfig) *Server {
	s := &Server{
		store:          deps.Store,
		engine:         deps.Engine,
		chat:           deps.Chat,
		funds:          deps.Funds,
		tokens:         deps.Tokens,
		realtime:       deps.Realtime,
		chatLimiter:    deps.ChatLimiter,
		callbackSecret: cfg.CallbackSecret,
		requestTimeout: cfg.RequestTimeout,
	}
	if s.chatLimiter == nil {
		s.chatLimiter = ratelimit.Unlimited{}
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = defaultRequestTimeout
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.realtime != nil {
		// Upgraded connections outlive any request timeout.
		r.Handle("/ws", s.realtime)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Post("/callbacks/sasapay", s.handleSasaPayCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Route("/trades", func(r chi.Router) {
				r.Post("/", s.handleCreateTrade)
				r.Get("/", s.handleListTrades)
				r.Route("/{tradeId}", func(r chi.Router) {
					r.Get("/", s.handleGetTrade)
					r.Post("/proof", s.handleUploadProof)
					r.Post("/cancel", s.handleCancelTrade)
					r.Post("/dispute", s.handleRaiseDispute)
					r.Get("/messages", s.handleHistory)
					r.With(s.throttleChat).Post("/messages", s.handlePostMessage)

					r.With(requireAdmin).Post("/settle", s.handleSettle)
					r.With(requireAdmin).Post("/dispute/resolve", s.handleResolveDispute)
				})
			})

			r.Get("/balances", s.handleBalances)
			r.Get("/balances/{currency}/entries", s.handleLedgerEntries)
			r.Post("/deposits", s.handleInitiateDeposit)
			r.Post("/withdrawals", s.handleWithdraw)
			r.Get("/withdrawals", s.handleListWithdrawals)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Post("/assign", s.handleAssignPending)
			})
		})
	})
	return r
}

func (s *Server) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("Failed to write response", zap.Error(err))
		}
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps core error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidStateTransition),
		errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, store.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, store.ErrProviderFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Internal errors are logged and hidden.
func fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("endpoint", endpoint),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	zap.L().Info("Request rejected",
		zap.String("endpoint", endpoint),
		zap.Int("status", status),
		zap.Error(err))
	writeError(w, status, err.Error())
}

// decode reads a JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}
