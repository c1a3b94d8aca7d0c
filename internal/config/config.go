package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// DSN собирает строку подключения к Postgres.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	HTTPAddr string
	DB       DBConfig
	TestDB   DBConfig
	Redis    RedisConfig

	JWTAccessSecret  []byte
	JWTRefreshSecret []byte

	PolicyFile string

	// Расписания cron (с секундами)
	SweepSpec    string
	ReminderSpec string
	CloseSpec    string

	LockBackend string // memory | redis
	LockTTL     time.Duration
}

// Load читает конфигурацию из окружения. Если ENV_CHEK не задан, сначала подгружается .env.
func Load(envFiles ...string) (*Config, error) {
	if os.Getenv("ENV_CHEK") == "" {
		log.Println("Подключение к .env")
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("ошибка получения .env: %w", err)
		}
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	lockTTL, err := durationEnv("LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr: stringEnv("HTTP_ADDR", ":8080"),
		DB:       dbEnv("DB_"),
		TestDB:   dbEnv("TEST_DB_"),
		Redis: RedisConfig{
			Addr:     stringEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		JWTAccessSecret:  []byte(os.Getenv("JWT_ACCESS_SECRET")),
		JWTRefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
		PolicyFile:       os.Getenv("POLICY_FILE"),
		SweepSpec:        stringEnv("SWEEP_SPEC", "*/30 * * * * *"),
		ReminderSpec:     stringEnv("REMINDER_SPEC", "0 * * * * *"),
		CloseSpec:        stringEnv("CLOSE_SPEC", "0 */5 * * * *"),
		LockBackend:      stringEnv("LOCK_BACKEND", "memory"),
		LockTTL:          lockTTL,
	}
	if cfg.LockBackend != "memory" && cfg.LockBackend != "redis" {
		return nil, fmt.Errorf("LOCK_BACKEND: неизвестное значение %q", cfg.LockBackend)
	}
	return cfg, nil
}

func dbEnv(prefix string) DBConfig {
	return DBConfig{
		Host:     os.Getenv(prefix + "HOST"),
		Port:     os.Getenv(prefix + "PORT"),
		User:     os.Getenv(prefix + "USER"),
		Password: os.Getenv(prefix + "PASSWORD"),
		Name:     os.Getenv(prefix + "NAME"),
	}
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
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
