package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App        App        `yaml:"app"`
	Database   Database   `yaml:"database"`
	Feed       Feed       `yaml:"feed"`
	Breaker    Breaker    `yaml:"breaker"`
	Migrations Migrations `yaml:"migrations"`
}

type App struct {
	Port     string `yaml:"port" env:"APP_PORT" env-default:"8080"`
	LogLevel string `yaml:"log_level" env:"APP_LOG_LEVEL" env-default:"debug"`
}

type Database struct {
	Driver          string        `yaml:"driver" env:"POSTGRES_DRIVER" env-default:"postgres"`
	Host            string        `yaml:"host" env:"POSTGRES_HOST"`
	Port            string        `yaml:"port" env:"POSTGRES_PORT"`
	User            string        `yaml:"user" env:"POSTGRES_USER"`
	Password        string        `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName          string        `yaml:"dbname" env:"POSTGRES_DB"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE" env-default:"disable"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"DB_QUERY_TIMEOUT" env-default:"3s"`
}

func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		d.Host, d.Port, d.User, d.DBName, d.Password, d.SSLMode,
	)
}

type Feed struct {
	WindowSize  int `yaml:"window_size" env:"FEED_WINDOW_SIZE" env-default:"50"`
	OutputLimit int `yaml:"output_limit" env:"FEED_OUTPUT_LIMIT" env-default:"30"`
}

// Breaker configures the circuit breaker in front of the joined-query tier.
type Breaker struct {
	MaxRequests  uint32        `yaml:"max_requests" env:"BREAKER_MAX_REQUESTS" env-default:"3"`
	Interval     time.Duration `yaml:"interval" env:"BREAKER_INTERVAL" env-default:"1m"`
	Timeout      time.Duration `yaml:"timeout" env:"BREAKER_TIMEOUT" env-default:"30s"`
	MinRequests  uint32        `yaml:"min_requests" env:"BREAKER_MIN_REQUESTS" env-default:"5"`
	FailureRatio float64       `yaml:"failure_ratio" env:"BREAKER_FAILURE_RATIO" env-default:"0.6"`
}

type Migrations struct {
	// Dir overrides the embedded migrations when set.
	Dir string `yaml:"dir" env:"MIGRATIONS_DIR"`
}

func MustLoad() *Config {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	cfg := &Config{}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		log.Printf("failed to read env overrides: %v", err)
	}

	return cfg
}
