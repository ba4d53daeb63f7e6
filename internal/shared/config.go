package shared

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"stay_chat/internal/domain"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	StoreBackend  string // redis | memory
	StoreRoot     string // tenant-scoped namespace root
	RedisAddr     string
	RedisDB       int
	RedisPass     string
	TranslateBase string
	TranslateKey  string
	TranslateRPS  int
}

// Load reads configuration from the environment, with an optional .env file.
// Missing store credentials are fatal at startup; nothing recovers from them
// later.
func Load() (Config, error) {
	_ = godotenv.Load()

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:        env("APP_ENV", "prod"),
		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		StoreBackend:  env("STORE", "redis"),
		StoreRoot:     env("STORE_ROOT", "staychat"),
		RedisAddr:     env("REDIS_ADDR", ""),
		RedisPass:     env("REDIS_PASSWORD", ""),
		RedisDB:       atoi("REDIS_DB", 0),
		TranslateBase: env("TRANSLATE_BASE_URL", ""),
		TranslateKey:  env("TRANSLATE_API_KEY", ""),
		TranslateRPS:  atoi("TRANSLATE_RPS", 5),
	}

	switch c.StoreBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return Config{}, fmt.Errorf("%w: REDIS_ADDR is required for the redis store", domain.ErrConfiguration)
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown STORE %q", domain.ErrConfiguration, c.StoreBackend)
	}
	if c.TranslateBase == "" {
		return Config{}, fmt.Errorf("%w: TRANSLATE_BASE_URL is required", domain.ErrConfiguration)
	}
	if c.TranslateKey == "" {
		log.Warn().Msg("TRANSLATE_API_KEY is empty")
	}
	return c, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
