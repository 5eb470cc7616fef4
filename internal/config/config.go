package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string        `mapstructure:"PORT"`
	Env           string        `mapstructure:"ENV"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32         `mapstructure:"DB_MIN_CONNS"`
	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	ScorerURL     string        `mapstructure:"SCORER_URL"`
	ScorerTimeout time.Duration `mapstructure:"SCORER_TIMEOUT"`
	ScorerRetries int           `mapstructure:"SCORER_RETRIES"`
	ScorerBackoff time.Duration `mapstructure:"SCORER_BACKOFF"`
	ReviewLockTTL time.Duration `mapstructure:"REVIEW_LOCK_TTL"`
	MigrationsDir string        `mapstructure:"MIGRATIONS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SCORER_TIMEOUT", "30s")
	v.SetDefault("SCORER_RETRIES", 3)
	v.SetDefault("SCORER_BACKOFF", "500ms")
	v.SetDefault("REVIEW_LOCK_TTL", "15m")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("SCORER_URL")
	v.BindEnv("SCORER_TIMEOUT")
	v.BindEnv("SCORER_RETRIES")
	v.BindEnv("SCORER_BACKOFF")
	v.BindEnv("REVIEW_LOCK_TTL")
	v.BindEnv("MIGRATIONS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// mode a JWT secret and scorer endpoint are mandatory: the review workflow is
// meaningless without verified clinician identities, and run_analysis cannot
// work without a scorer to call.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
		}
		if c.ScorerURL == "" {
			return fmt.Errorf("SCORER_URL is required when ENV=%q", c.Env)
		}
	}
	if c.ScorerTimeout <= 0 {
		return fmt.Errorf("SCORER_TIMEOUT must be positive, got %s", c.ScorerTimeout)
	}
	if c.ScorerRetries < 0 {
		return fmt.Errorf("SCORER_RETRIES must not be negative, got %d", c.ScorerRetries)
	}
	if c.ReviewLockTTL <= 0 {
		return fmt.Errorf("REVIEW_LOCK_TTL must be positive, got %s", c.ReviewLockTTL)
	}
	return nil
}
