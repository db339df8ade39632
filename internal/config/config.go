package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full service configuration. Values come from a YAML file
// when one is supplied, overridden by environment variables.
type Config struct {
	Env        string `yaml:"env" env:"HP_ENV" env-default:"local"`
	DB         `yaml:"db"`
	Redis      `yaml:"redis"`
	Tokens     `yaml:"tokens"`
	HTTPServer `yaml:"http_server"`
}

type DB struct {
	DSN string `yaml:"dsn" env:"HP_PG_DSN" env-default:""`
}

// Redis is optional; when Addr is empty the token revocation set stays
// process-local.
type Redis struct {
	Addr     string `yaml:"addr" env:"HP_REDIS_ADDR" env-default:""`
	Password string `yaml:"password" env:"HP_REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"HP_REDIS_DB" env-default:"0"`
}

type Tokens struct {
	Secret     string        `yaml:"secret" env:"HP_AUTH_SECRET" env-default:""`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"HP_ACCESS_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"HP_REFRESH_TTL" env-default:"168h"`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"HP_HTTP_ADDR" env-default:":8080"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HP_IDLE_TIMEOUT" env-default:"60s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HP_WRITE_TIMEOUT" env-default:"15s"`
	RateBurst    int           `yaml:"rate_burst" env:"HP_RATE_BURST" env-default:"20"`
	RatePerSec   int           `yaml:"rate_per_sec" env:"HP_RATE_PER_SEC" env-default:"10"`
}

// MustLoad reads configuration or panics. configPath may be empty, in which
// case only environment variables are consulted.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load reads configuration from the optional file plus environment.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
