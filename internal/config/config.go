package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN     string
	MongoURI        string
	RedisAddr       string
	RabbitURL       string
	BookingAPIURL   string
	OTLPEndpoint    string
	LinkCodeLength  int
	LinkCodeRetries int
	ExpirySweep     time.Duration
	IdempotencyTTL  time.Duration
	DefaultCurrency string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	codeLength := intEnv("LINK_CODE_LENGTH", 16)
	if codeLength < 16 {
		codeLength = 16
	}

	sweep, _ := time.ParseDuration(os.Getenv("EXPIRY_SWEEP_INTERVAL"))
	if sweep == 0 {
		sweep = time.Minute
	}

	idempTTL, _ := time.ParseDuration(os.Getenv("IDEMPOTENCY_TTL"))
	if idempTTL == 0 {
		idempTTL = time.Hour
	}

	currency := os.Getenv("DEFAULT_CURRENCY")
	if currency == "" {
		currency = "USD"
	}

	return &Config{
		PostgresDSN:     os.Getenv("PG_DSN"),
		MongoURI:        os.Getenv("MONGO_URI"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		BookingAPIURL:   os.Getenv("BOOKING_API_URL"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LinkCodeLength:  codeLength,
		LinkCodeRetries: intEnv("LINK_CODE_RETRIES", 5),
		ExpirySweep:     sweep,
		IdempotencyTTL:  idempTTL,
		DefaultCurrency: currency,
	}, nil
}

func intEnv(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
