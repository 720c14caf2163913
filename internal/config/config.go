// Package config предоставялет структуры и функции для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	PaymentProvider         `yaml:"payment_provider"`
	Entitlement             `yaml:"entitlement"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// RateLimitRPS и RateLimitBurst задают лимит запросов на одного клиента.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env-default:"5"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env-default:"10"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// RabbitMQ структура для подключения к брокеру сообщений
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// PaymentProvider структура для настройки клиента CloudPayments
type PaymentProvider struct {
	ProviderAPIURL   string        `yaml:"api_url" env-default:"https://api.cloudpayments.ru"`
	ProviderPublicID string        `yaml:"public_id" env:"PROVIDER_PUBLIC_ID"`
	ProviderSecret   string        `yaml:"api_secret" env:"PROVIDER_API_SECRET"`
	WebhookSecret    string        `yaml:"webhook_secret" env:"PROVIDER_WEBHOOK_SECRET"`
	ProviderTimeout  time.Duration `yaml:"timeout" env-default:"10s"`
	PremiumAmount    int64         `yaml:"amount" env-default:"99000"`
	PremiumCurrency  string        `yaml:"currency" env-default:"RUB"`
}

// Entitlement структура с параметрами жизненного цикла подписки
type Entitlement struct {
	// TrialDuration задаёт длительность пробного периода.
	TrialDuration time.Duration `yaml:"trial_duration" env:"TRIAL_DURATION" env-default:"72h"`
	// BillingPeriod задаёт оплачиваемый период премиум-подписки.
	BillingPeriod  time.Duration `yaml:"billing_period" env:"BILLING_PERIOD" env-default:"720h"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl" env-default:"1m"`
	SweepInterval  time.Duration `yaml:"sweep_interval" env-default:"10m"`
}

// MustLoad функция для загрузки конфига, путь к файлу берётся из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла, применяя значения по умолчанию и переменные окружения.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.TrialDuration <= 0 || cfg.BillingPeriod <= 0 {
		return nil, fmt.Errorf("%s: trial_duration and billing_period must be positive", op)
	}
	return &cfg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Redis: %s (db %d)\n"+
			"RabbitMQ retries: %d\n"+
			"PaymentProvider: %s (timeout %s)\n"+
			"Entitlement:\n"+
			"  TrialDuration: %s\n"+
			"  BillingPeriod: %s\n",
		c.Env,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.AddressRedis,
		c.DB,
		c.RabbitMQMaxRetries,
		c.ProviderAPIURL,
		c.ProviderTimeout,
		c.TrialDuration,
		c.BillingPeriod,
	)
}
