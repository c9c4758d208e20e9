package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит настройки процесса, собранные из окружения
type Config struct {
	Port          string
	HealthPort    string // пустая строка отключает gRPC health
	StaticDir     string
	EnginePath    string
	HeightmapPath string

	TickRate    int
	MaxSessions int
	AcceptRate  float64
	AcceptBurst int

	WriteTimeout time.Duration
	PingInterval time.Duration

	NetSimProfile string

	LogLevel  string
	LogFormat string
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Port:          "5000",
		HealthPort:    "5001",
		StaticDir:     "./backend/static",
		EnginePath:    "./assets/solver.bin",
		HeightmapPath: "./assets/heightmap.png",
		TickRate:      30,
		MaxSessions:   256,
		AcceptRate:    20,
		AcceptBurst:   40,
		WriteTimeout:  5 * time.Second,
		PingInterval:  2 * time.Second,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load читает необязательные .env файлы и переменные окружения.
// Без аргументов пытается загрузить ./.env; отсутствие файла не считается ошибкой.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()
	var err error

	cfg.Port = stringEnv("PORT", cfg.Port)
	if v, ok := os.LookupEnv("HEALTH_PORT"); ok {
		cfg.HealthPort = v
	}
	cfg.StaticDir = stringEnv("STATIC_DIR", cfg.StaticDir)
	cfg.EnginePath = stringEnv("ENGINE_PATH", cfg.EnginePath)
	cfg.HeightmapPath = stringEnv("HEIGHTMAP_PATH", cfg.HeightmapPath)
	cfg.NetSimProfile = stringEnv("NET_SIM_PROFILE", cfg.NetSimProfile)
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = stringEnv("LOG_FORMAT", cfg.LogFormat)

	if cfg.TickRate, err = intEnv("TICK_RATE", cfg.TickRate); err != nil {
		return Config{}, err
	}
	if cfg.MaxSessions, err = intEnv("MAX_SESSIONS", cfg.MaxSessions); err != nil {
		return Config{}, err
	}
	if cfg.AcceptBurst, err = intEnv("ACCEPT_BURST", cfg.AcceptBurst); err != nil {
		return Config{}, err
	}
	if cfg.AcceptRate, err = floatEnv("ACCEPT_RATE", cfg.AcceptRate); err != nil {
		return Config{}, err
	}
	if cfg.WriteTimeout, err = durationEnv("WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PingInterval, err = durationEnv("PING_INTERVAL", cfg.PingInterval); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые нельзя исправить молча
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT is empty")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("config: TICK_RATE must be positive, got %d", c.TickRate)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("config: MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	if c.AcceptRate <= 0 || c.AcceptBurst <= 0 {
		return fmt.Errorf("config: ACCEPT_RATE and ACCEPT_BURST must be positive")
	}
	return nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
