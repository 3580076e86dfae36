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

package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Settlement SettlementConfig
	Disputes   DisputeConfig
	Assignment AssignmentConfig
	Events     EventsConfig
	Redis      RedisConfig
	Providers  ProvidersConfig
	Formance   FormanceConfig
	Telegram   TelegramConfig
	Jobs       JobsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // "sqlite3" or "pgx"
	Path            string // SQLite file path, or Postgres DSN when Driver is "pgx"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ServerConfig holds HTTP and WebSocket listener settings
type ServerConfig struct {
	Addr            string
	JwtSecret       string
	JwtIssuer       string
	CallbackSecret  string // shared secret expected on provider callbacks
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	ChatRateLimit   int
	ChatRateWindow  time.Duration
}

// SettlementConfig controls what happens when a trade is approved
type SettlementConfig struct {
	AutoPayout bool // pay sell proceeds out through the fiat provider on approval
}

// DisputeConfig holds the per-user dispute rate limit
type DisputeConfig struct {
	Limit  int
	Window time.Duration
}

// AssignmentConfig holds admin assignment settings
type AssignmentConfig struct {
	MaxLoad      int           // 0 means unlimited
	HeartbeatTTL time.Duration // admins silent for longer are marked offline
}

// EventsConfig holds the trade event bus settings
type EventsConfig struct {
	BufferSize int
	AmqpURL    string
	Exchange   string
}

// RedisConfig holds the optional distributed throttle settings
type RedisConfig struct {
	URL    string
	Prefix string
}

// ProvidersConfig holds payment and custody provider credentials
type ProvidersConfig struct {
	SasaPay SasaPayConfig
	Luno    LunoConfig
	Prime   PrimeConfig
	Crypto  string // "luno", "prime" or "" for disabled
}

// SasaPayConfig holds mobile-money provider settings
type SasaPayConfig struct {
	BaseURL      string
	ClientId     string
	ClientSecret string
	MerchantCode string
	CallbackURL  string
}

// LunoConfig holds Luno exchange API settings
type LunoConfig struct {
	BaseURL   string
	KeyId     string
	KeySecret string
}

// PrimeConfig holds Coinbase Prime custody settings
type PrimeConfig struct {
	AccessKey   string
	Passphrase  string
	SigningKey  string
	PortfolioId string
	WalletsFile string
}

// FormanceConfig holds connection settings for the Formance ledger mirror
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// TelegramConfig holds the ops notification bot settings
type TelegramConfig struct {
	BotToken  string
	OpsChatId int64
}

// JobsConfig holds cron specs for background jobs
type JobsConfig struct {
	Timezone      string
	AssignSpec    string
	PresenceSpec  string
	ReconcileSpec string
}
