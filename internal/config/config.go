package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration, loaded from the environment.
type Config struct {
	Server    Server
	Storage   Storage
	NATS      NATS
	Advisor   Advisor
	Catalog   Catalog
	Auth      Auth
	Analytics Analytics
}

type Server struct {
	Port        string `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

type Storage struct {
	Driver      string `envconfig:"DB_DRIVER" default:"memory"`
	SQLiteFile  string `envconfig:"SQLITE_FILE" default:"dev.sqlite"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
}

type NATS struct {
	URL     string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	Subject string `envconfig:"NATS_SUBJECT" default:"copilot.events"`
}

type Advisor struct {
	BaseURL string `envconfig:"ADVISOR_BASE_URL" default:"http://localhost:8090"`
	APIKey  string `envconfig:"ADVISOR_API_KEY"`
}

type Catalog struct {
	URL string `envconfig:"CATALOG_URL" default:"https://api.sleeper.app/v1/players/nfl"`
}

type Auth struct {
	BaseURL      string `envconfig:"OAUTH_BASE_URL"`
	ClientID     string `envconfig:"OAUTH_CLIENT_ID"`
	ClientSecret string `envconfig:"OAUTH_CLIENT_SECRET"`
	RedirectURL  string `envconfig:"OAUTH_REDIRECT_URL" default:"http://localhost:3000/auth/callback"`
}

type Analytics struct {
	ClickHouseAddr     string `envconfig:"CLICKHOUSE_ADDR"`
	ClickHouseDB       string `envconfig:"CLICKHOUSE_DB" default:"default"`
	ClickHouseUser     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	ClickHousePassword string `envconfig:"CLICKHOUSE_PASSWORD"`
}

// New loads configuration from the environment. A local .env file is applied
// first if present, matching development workflow.
func New() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}
