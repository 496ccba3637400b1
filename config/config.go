package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string `env:"DATABASE_URL"`
	JWTSecretKey string `env:"JWT_SECRET_KEY"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// RedisURL switches the expiring key-value state to Redis when set.
	RedisURL string `env:"REDIS_URL"`

	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`
	R2PublicBaseURL   string `env:"R2_PUBLIC_BASE_URL"`

	Arena Arena `envPrefix:"ARENA_"`
}

// Arena holds the tunable constants of the orchestrator.
type Arena struct {
	// PairingGrace is how long the oldest waiting user may wait before a round is forced.
	PairingGrace time.Duration `env:"PAIRING_GRACE" envDefault:"10s"`
	// SmallTournamentThreshold is the active-player count at or under which a tournament is small.
	SmallTournamentThreshold int `env:"SMALL_TOURNAMENT_THRESHOLD" envDefault:"20"`
	// SmallPoolMultiplier: a small tournament pairs once pool*multiplier covers the active players.
	SmallPoolMultiplier float64 `env:"SMALL_POOL_MULTIPLIER" envDefault:"1.5"`
	// PauseRankThreshold: pausing players ranked strictly better than this get a re-entry delay.
	PauseRankThreshold int           `env:"PAUSE_RANK_THRESHOLD" envDefault:"7"`
	PauseBaseDelay     time.Duration `env:"PAUSE_BASE_DELAY" envDefault:"10s"`
	PauseMaxDelay      time.Duration `env:"PAUSE_MAX_DELAY" envDefault:"2m"`

	PairingTick        time.Duration `env:"PAIRING_TICK" envDefault:"2s"`
	SlowPairingRound   time.Duration `env:"SLOW_PAIRING_ROUND" envDefault:"100ms"`
	HadPairingsTTL     time.Duration `env:"HAD_PAIRINGS_TTL" envDefault:"1h"`
	JoinTimeout        time.Duration `env:"JOIN_TIMEOUT" envDefault:"5s"`
	PlayerCountPerSec  float64       `env:"PLAYER_COUNT_PER_SEC" envDefault:"1"`
	GlobalWindow       time.Duration `env:"GLOBAL_WINDOW" envDefault:"15s"`
	StandingWindow     time.Duration `env:"STANDING_WINDOW" envDefault:"15s"`
	StandingHashTTL    time.Duration `env:"STANDING_HASH_TTL" envDefault:"10m"`
	RankingTTL         time.Duration `env:"RANKING_TTL" envDefault:"3s"`
	TopTTL             time.Duration `env:"TOP_TTL" envDefault:"3s"`
	TopSize            int           `env:"TOP_SIZE" envDefault:"15"`
	PageSize           int           `env:"PAGE_SIZE" envDefault:"10"`
	LargeTournament    int           `env:"LARGE_TOURNAMENT" envDefault:"3000"`
	RecomputeBatchSize int           `env:"RECOMPUTE_BATCH_SIZE" envDefault:"10"`
	KillMarkTTL        time.Duration `env:"KILL_MARK_TTL" envDefault:"1h"`
	KillSweepEvery     time.Duration `env:"KILL_SWEEP_EVERY" envDefault:"10s"`
	StatusSweepEvery   time.Duration `env:"STATUS_SWEEP_EVERY" envDefault:"30s"`
}

// DefaultArena returns the constants with their default values.
func DefaultArena() Arena {
	return Arena{
		PairingGrace:             10 * time.Second,
		SmallTournamentThreshold: 20,
		SmallPoolMultiplier:      1.5,
		PauseRankThreshold:       7,
		PauseBaseDelay:           10 * time.Second,
		PauseMaxDelay:            2 * time.Minute,
		PairingTick:              2 * time.Second,
		SlowPairingRound:         100 * time.Millisecond,
		HadPairingsTTL:           time.Hour,
		JoinTimeout:              5 * time.Second,
		PlayerCountPerSec:        1,
		GlobalWindow:             15 * time.Second,
		StandingWindow:           15 * time.Second,
		StandingHashTTL:          10 * time.Minute,
		RankingTTL:               3 * time.Second,
		TopTTL:                   3 * time.Second,
		TopSize:                  15,
		PageSize:                 10,
		LargeTournament:          3000,
		RecomputeBatchSize:       10,
		KillMarkTTL:              time.Hour,
		KillSweepEvery:           10 * time.Second,
		StatusSweepEvery:         30 * time.Second,
	}
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	if c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.Arena.SmallPoolMultiplier <= 0 {
		return fmt.Errorf("ARENA_SMALL_POOL_MULTIPLIER must be positive, got %v", c.Arena.SmallPoolMultiplier)
	}
	if c.Arena.PlayerCountPerSec <= 0 {
		return fmt.Errorf("ARENA_PLAYER_COUNT_PER_SEC must be positive, got %v", c.Arena.PlayerCountPerSec)
	}
	if c.Arena.RecomputeBatchSize <= 0 {
		return fmt.Errorf("ARENA_RECOMPUTE_BATCH_SIZE must be positive, got %d", c.Arena.RecomputeBatchSize)
	}
	return nil
}

// R2Enabled reports whether results archiving is configured.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2BucketName != ""
}
