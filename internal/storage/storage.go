package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"waitlist_backend/internal/config"
	"waitlist_backend/internal/models"
)

// ConnectDatabase открывает подключение к Postgres.
func ConnectDatabase(cfg config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}
	log.Println("Подключение к базе данных успешно!")
	return db, nil
}

// Migrate создаёт или обновляет таблицы сервиса.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{}, &models.WaitingList{}, &models.Entry{}, &models.Slot{})
}

// InitRedis создаёт клиент Redis и проверяет соединение.
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}
	return client, nil
}
