// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every variable. Field tags carry the full name
// (ESTIMATOR_PORT), which envconfig falls back to for nested structs.
const EnvPrefix = "ESTIMATOR"

type Config struct {
	App   AppConfig
	DB    DBConfig
	Admin AdminConfig
	Auth  AuthConfig
}

type AppConfig struct {
	Port           int      `envconfig:"ESTIMATOR_PORT" default:"8080"`
	LogLevel       string   `envconfig:"ESTIMATOR_LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"ESTIMATOR_LOG_FORMAT" default:"json"`
	AllowedOrigins []string `envconfig:"ESTIMATOR_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8080"`
}

type DBConfig struct {
	DataDir     string        `envconfig:"ESTIMATOR_DATA_DIR" default:"data"`
	File        string        `envconfig:"ESTIMATOR_DB_FILE" default:"estimates.db"`
	BusyTimeout time.Duration `envconfig:"ESTIMATOR_BUSY_TIMEOUT" default:"5s"`
}

// Path is the database file location, or ":memory:" when File says so.
func (c DBConfig) Path() string {
	if c.File == ":memory:" {
		return c.File
	}
	return filepath.Join(c.DataDir, c.File)
}

// AdminConfig holds the bootstrap admin credentials used when no admin exists.
type AdminConfig struct {
	Email    string `envconfig:"ESTIMATOR_ADMIN_EMAIL" default:"admin@example.com"`
	Password string `envconfig:"ESTIMATOR_ADMIN_PASSWORD" default:"admin123"`
	Name     string `envconfig:"ESTIMATOR_ADMIN_NAME" default:"Admin"`
}

// AuthConfig covers password hashing and the access tokens issued at
// login. JWTSecret has no default; the server refuses to start without it.
type AuthConfig struct {
	BcryptCost int           `envconfig:"ESTIMATOR_BCRYPT_COST" default:"10"`
	JWTSecret  string        `envconfig:"ESTIMATOR_JWT_SECRET"`
	JWTIssuer  string        `envconfig:"ESTIMATOR_JWT_ISSUER" default:"estimator"`
	TokenTTL   time.Duration `envconfig:"ESTIMATOR_TOKEN_TTL" default:"720h"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
