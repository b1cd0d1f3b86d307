package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	CacheBackendRedis    = "redis"
	CacheBackendPostgres = "postgres"
	CacheBackendMemory   = "memory"
)

type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	Postgres          Postgres
	Telegram          Telegram
	Redis             Redis
	API               API
	Cache             Cache
	Queue             Queue
	Rebalancing       Rebalancing
	Jobs              Jobs
	GoogleDrive       GoogleDrive
	SessionExpiration time.Duration `env:"SESSION_EXPIRATION" envDefault:"720h"`
}

type Postgres struct {
	Host            string `env:"PG_HOST" envDefault:"localhost"`
	Port            int    `env:"PG_PORT" envDefault:"5432"`
	DbName          string `env:"PG_DB_NAME" envDefault:"etf_portfolio_tracker"`
	Password        string `env:"PG_PASSWORD" envDefault:""`
	User            string `env:"PG_USER" envDefault:"postgres"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS" envDefault:"5"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME" envDefault:"300"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"60"`
	MigrationDir    string `env:"PG_MIGRATION_DIR" envDefault:"data/migrations"`
}

type Telegram struct {
	Token            string        `env:"TELEGRAM_TOKEN"`
	UpdTimeout       time.Duration `env:"TELEGRAM_UPD_TIMEOUT" envDefault:"10s"`
	FileLimitInBytes int           `env:"TELEGRAM_FILE_LIMIT_IN_BYTES" envDefault:"1048576"`
	OwnerChatID      int64         `env:"TELEGRAM_OWNER_CHAT_ID"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type API struct {
	Debug       bool            `env:"API_DEBUG" envDefault:"false"`
	Timeout     time.Duration   `env:"API_TIMEOUT" envDefault:"10s"`
	RetryDelays []time.Duration `env:"API_RETRY_DELAYS" envDefault:"2s,5s,10s" envSeparator:","`
	TwelveData  TwelveData
}

type TwelveData struct {
	Url    string `env:"TWELVE_DATA_API_URL" envDefault:"https://api.twelvedata.com"`
	ApiKey string `env:"TWELVE_DATA_API_KEY"`
}

type Cache struct {
	Backend      string        `env:"CACHE_BACKEND" envDefault:"redis"`
	PriceTTL     time.Duration `env:"CACHE_PRICE_TTL" envDefault:"24h"`
	MaxStaleness time.Duration `env:"CACHE_MAX_STALENESS" envDefault:"720h"`
}

type Queue struct {
	Delay time.Duration `env:"REQUEST_QUEUE_DELAY" envDefault:"8s"`
}

type Rebalancing struct {
	DefaultThreshold float64 `env:"REBALANCE_DEFAULT_THRESHOLD" envDefault:"5"`
}

type Jobs struct {
	RefreshPricesInterval   time.Duration `env:"REFRESH_PRICES_JOB_INTERVAL" envDefault:"1h"`
	PruneCacheCrontab       string        `env:"PRUNE_CACHE_JOB_CRONTAB" envDefault:"0 0 3 * * *"`
	DeleteOldReportsCrontab string        `env:"DELETE_OLD_REPORTS_JOB_CRONTAB" envDefault:"0 30 3 * * *"`
}

type GoogleDrive struct {
	CredentialsFile string        `env:"GOOGLE_DRIVE_CREDENTIALS_FILE" envDefault:""`
	FileTTL         time.Duration `env:"GOOGLE_DRIVE_FILE_TTL" envDefault:"168h"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
