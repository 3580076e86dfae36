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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"trade-settlement-go/internal/models"
)

// Load reads the configuration from the environment. Malformed durations and numbers
// are reported together rather than silently replaced by defaults.
func Load() (*models.Config, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	int64Value := func(key string, def int64) int64 {
		n, err := getEnvInt64(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:          getEnvString("DATABASE_DRIVER", "sqlite3"),
			Path:            getEnvString("DATABASE_PATH", "settlement.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: duration("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:     duration("DB_PING_TIMEOUT", 5*time.Second),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			JwtSecret:       os.Getenv("JWT_SECRET"),
			JwtIssuer:       getEnvString("JWT_ISSUER", "trade-settlement"),
			CallbackSecret:  os.Getenv("CALLBACK_SECRET"),
			RequestTimeout:  duration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: duration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			ChatRateLimit:   getEnvInt("CHAT_RATE_LIMIT", 30),
			ChatRateWindow:  duration("CHAT_RATE_WINDOW", time.Minute),
		},
		Settlement: models.SettlementConfig{
			AutoPayout: getEnvBool("SETTLEMENT_AUTO_PAYOUT", false),
		},
		Disputes: models.DisputeConfig{
			Limit:  getEnvInt("DISPUTE_LIMIT", 3),
			Window: duration("DISPUTE_WINDOW", 7*24*time.Hour),
		},
		Assignment: models.AssignmentConfig{
			MaxLoad:      getEnvInt("ASSIGNMENT_MAX_LOAD", 0),
			HeartbeatTTL: duration("ADMIN_HEARTBEAT_TTL", 2*time.Minute),
		},
		Events: models.EventsConfig{
			BufferSize: getEnvInt("EVENTS_BUFFER_SIZE", 1024),
			AmqpURL:    os.Getenv("AMQP_URL"),
			Exchange:   getEnvString("AMQP_EXCHANGE", "trade.events"),
		},
		Redis: models.RedisConfig{
			URL:    os.Getenv("REDIS_URL"),
			Prefix: getEnvString("REDIS_PREFIX", "settlement"),
		},
		Providers: models.ProvidersConfig{
			SasaPay: models.SasaPayConfig{
				BaseURL:      getEnvString("SASAPAY_BASE_URL", "https://sandbox.sasapay.app"),
				ClientId:     os.Getenv("SASAPAY_CLIENT_ID"),
				ClientSecret: os.Getenv("SASAPAY_CLIENT_SECRET"),
				MerchantCode: os.Getenv("SASAPAY_MERCHANT_CODE"),
				CallbackURL:  os.Getenv("SASAPAY_CALLBACK_URL"),
			},
			Luno: models.LunoConfig{
				BaseURL:   getEnvString("LUNO_BASE_URL", "https://api.luno.com"),
				KeyId:     os.Getenv("LUNO_API_KEY_ID"),
				KeySecret: os.Getenv("LUNO_API_KEY_SECRET"),
			},
			Prime: models.PrimeConfig{
				AccessKey:   os.Getenv("PRIME_ACCESS_KEY"),
				Passphrase:  os.Getenv("PRIME_PASSPHRASE"),
				SigningKey:  os.Getenv("PRIME_SIGNING_KEY"),
				PortfolioId: os.Getenv("PRIME_PORTFOLIO_ID"),
				WalletsFile: getEnvString("PRIME_WALLETS_FILE", "wallets.yaml"),
			},
			Crypto: os.Getenv("CRYPTO_PROVIDER"),
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "trade-settlement"),
		},
		Telegram: models.TelegramConfig{
			BotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
			OpsChatId: int64Value("TELEGRAM_OPS_CHAT_ID", 0),
		},
		Jobs: models.JobsConfig{
			Timezone:      getEnvString("JOBS_TIMEZONE", "UTC"),
			AssignSpec:    getEnvString("JOBS_ASSIGN_SPEC", "@every 1m"),
			PresenceSpec:  getEnvString("JOBS_PRESENCE_SPEC", "@every 30s"),
			ReconcileSpec: getEnvString("JOBS_RECONCILE_SPEC", "0 3 * * *"),
		},
	}

	switch cfg.Database.Driver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q (want sqlite3 or pgx)", cfg.Database.Driver))
	}
	switch cfg.Providers.Crypto {
	case "", "luno", "prime":
	default:
		errs = append(errs, fmt.Errorf("unsupported CRYPTO_PROVIDER %q (want luno, prime or empty)", cfg.Providers.Crypto))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
		}
		return n, nil
	}
	return defaultValue, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
