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

package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"trade-settlement-go/internal/auth"
	"trade-settlement-go/internal/chat"
	"trade-settlement-go/internal/database"
	"trade-settlement-go/internal/events"
	"trade-settlement-go/internal/formance"
	"trade-settlement-go/internal/funds"
	"trade-settlement-go/internal/jobs"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/notify"
	"trade-settlement-go/internal/provider"
	"trade-settlement-go/internal/ratelimit"
	"trade-settlement-go/internal/realtime"
	"trade-settlement-go/internal/settlement"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the wired settlement core.
type Services struct {
	DbService   *database.Service
	Bus         *events.Bus
	Hub         *realtime.Hub
	Engine      *settlement.Engine
	Chat        *chat.Coordinator
	Funds       *funds.Service
	Jobs        *jobs.Jobs
	Verifier    *auth.Verifier
	Notifier    notify.Notifier
	ChatLimiter ratelimit.Limiter
	Mirror      *formance.Mirror

	closers []func()
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices builds every component and starts the event bus. Optional
// integrations (AMQP, Redis, Formance, Telegram, providers) are skipped when not
// configured.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	verifier, err := auth.NewVerifier(cfg.Server.JwtSecret, cfg.Server.JwtIssuer)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_SECRET: %w", err)
	}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &Services{DbService: dbService, Verifier: verifier}
	s.closers = append(s.closers, dbService.Close)

	fiat, crypto, err := initializeProviders(ctx, cfg.Providers)
	if err != nil {
		s.Close()
		return nil, err
	}

	chatLimiter, disputeThrottle, err := s.initializeLimiters(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.ChatLimiter = chatLimiter

	s.Notifier = notify.New(cfg.Telegram)
	s.Bus = events.NewBus(cfg.Events.BufferSize)

	s.Engine = settlement.NewEngine(dbService, cfg.Settlement, cfg.Assignment,
		settlement.WithPublisher(s.Bus),
		settlement.WithPayouts(fiat),
		settlement.WithNotifier(s.Notifier))
	s.Chat = chat.NewCoordinator(dbService, cfg.Disputes,
		chat.WithPublisher(s.Bus),
		chat.WithNotifier(s.Notifier),
		chat.WithDisputeThrottle(disputeThrottle))
	s.Funds = funds.NewService(dbService, fiat, crypto, funds.WithNotifier(s.Notifier))
	s.Jobs = jobs.NewJobs(dbService, s.Engine, s.Notifier, cfg.Assignment.HeartbeatTTL)

	s.Hub = realtime.NewHub(verifier, s.Chat)
	s.Bus.Subscribe(s.Hub)

	if cfg.Events.AmqpURL != "" {
		sink, err := events.NewAmqpSink(cfg.Events.AmqpURL, cfg.Events.Exchange)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Bus.Subscribe(sink)
		s.closers = append(s.closers, sink.Close)
	}

	if cfg.Formance.StackURL != "" {
		mirror, err := formance.NewMirror(ctx, cfg.Formance)
		if err != nil {
			// The mirror is informational; the local ledger stays authoritative.
			zap.L().Warn("Formance mirror unavailable, continuing without it", zap.Error(err))
		} else {
			s.Mirror = mirror
			s.Bus.Subscribe(mirror)
		}
	}

	s.Bus.Start(ctx)
	// Registered last so Close drains the bus before tearing down its sinks.
	s.closers = append(s.closers, s.Hub.Close, s.Bus.Close)
	return s, nil
}

// InitializeDatabaseOnly initializes just the database service without providers
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

// Close releases everything in reverse order of construction.
func (cs *Services) Close() {
	for i := len(cs.closers) - 1; i >= 0; i-- {
		cs.closers[i]()
	}
	cs.closers = nil
}

func (cs *Services) initializeLimiters(cfg *models.Config) (chatLimiter, disputeThrottle ratelimit.Limiter, err error) {
	if cfg.Redis.URL == "" {
		memory := ratelimit.NewMemoryLimiter(cfg.Server.ChatRateLimit, cfg.Server.ChatRateWindow)
		cs.closers = append(cs.closers, memory.Close)
		// Without Redis the stored dispute count is the only dispute limit.
		return memory, ratelimit.Unlimited{}, nil
	}

	client, err := ratelimit.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	cs.closers = append(cs.closers, func() { closeRedis(client) })

	chatLimiter = ratelimit.NewRedisLimiter(client, cfg.Redis.Prefix, "chat", cfg.Server.ChatRateLimit, cfg.Server.ChatRateWindow)
	disputeThrottle = ratelimit.NewRedisLimiter(client, cfg.Redis.Prefix, "dispute", cfg.Disputes.Limit, cfg.Disputes.Window)
	zap.L().Info("Using Redis rate limiting", zap.String("prefix", cfg.Redis.Prefix))
	return chatLimiter, disputeThrottle, nil
}

func closeRedis(client redis.UniversalClient) {
	if err := client.Close(); err != nil {
		zap.L().Warn("Failed to close redis client", zap.Error(err))
	}
}

// initializeProviders picks the fiat and crypto rails. Unconfigured rails fall back
// to provider.Disabled, which refuses every request.
func initializeProviders(ctx context.Context, cfg models.ProvidersConfig) (provider.FiatGateway, provider.CryptoGateway, error) {
	httpClient, err := provider.NewHttpClient()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create http client: %w", err)
	}

	var fiat provider.FiatGateway = provider.Disabled{}
	if cfg.SasaPay.ClientId != "" {
		fiat = provider.NewSasaPay(cfg.SasaPay, httpClient)
	}

	var crypto provider.CryptoGateway = provider.Disabled{}
	switch cfg.Crypto {
	case "luno":
		crypto = provider.NewLuno(cfg.Luno.BaseURL, cfg.Luno.KeyId, cfg.Luno.KeySecret, httpClient)
	case "prime":
		zap.L().Info("Loading Prime API credentials")
		creds, err := loadPrimeCredentials(cfg.Prime)
		if err != nil {
			return nil, nil, err
		}
		wallets, err := provider.LoadPrimeWallets(cfg.Prime.WalletsFile)
		if err != nil {
			return nil, nil, err
		}
		prime, err := provider.NewPrime(creds, cfg.Prime.PortfolioId, wallets)
		if err != nil {
			return nil, nil, err
		}
		if err := prime.VerifyWallets(ctx); err != nil {
			return nil, nil, err
		}
		crypto = prime
	}

	zap.L().Info("Providers configured",
		zap.String("fiat", fiat.Name()),
		zap.String("crypto", crypto.Name()))
	return fiat, crypto, nil
}

func loadPrimeCredentials(cfg models.PrimeConfig) (*credentials.Credentials, error) {
	if cfg.AccessKey == "" || cfg.Passphrase == "" || cfg.SigningKey == "" || cfg.PortfolioId == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY, PRIME_PORTFOLIO_ID")
	}

	return &credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
