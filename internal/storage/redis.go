package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"waitlist_backend/internal/waitlist"
)

// PenaltyChecker хранит штрафы пользователей в Redis с TTL.
// Пока ключ штрафа жив, пользователь не может бронировать.
type PenaltyChecker struct {
	client *redis.Client
}

var _ waitlist.EligibilityChecker = (*PenaltyChecker)(nil)

func NewPenaltyChecker(client *redis.Client) *PenaltyChecker {
	return &PenaltyChecker{client: client}
}

func penaltyKey(userID uint) string {
	return fmt.Sprintf("penalty:user:%d", userID)
}

func (p *PenaltyChecker) CanReserve(ctx context.Context, userID uint) (waitlist.Eligibility, error) {
	reason, err := p.client.Get(ctx, penaltyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return waitlist.Eligibility{Allowed: true}, nil
	}
	if err != nil {
		return waitlist.Eligibility{}, err
	}
	return waitlist.Eligibility{Allowed: false, Reason: reason}, nil
}

// Penalize запрещает бронирование на duration.
func (p *PenaltyChecker) Penalize(ctx context.Context, userID uint, reason string, duration time.Duration) error {
	if reason == "" {
		reason = "penalty"
	}
	return p.client.Set(ctx, penaltyKey(userID), reason, duration).Err()
}

func (p *PenaltyChecker) Forgive(ctx context.Context, userID uint) error {
	return p.client.Del(ctx, penaltyKey(userID)).Err()
}

// RedisEventSink публикует события в канал Redis для отчётности в других процессах.
type RedisEventSink struct {
	client *redis.Client
	prefix string
}

var _ waitlist.EventSink = (*RedisEventSink)(nil)

func NewRedisEventSink(client *redis.Client) *RedisEventSink {
	return &RedisEventSink{client: client, prefix: "waitlist:events:"}
}

// Channel возвращает канал событий листа ожидания.
func (s *RedisEventSink) Channel(waitingListID uint) string {
	return fmt.Sprintf("%s%d", s.prefix, waitingListID)
}

func (s *RedisEventSink) Emit(ctx context.Context, ev waitlist.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Println("Ошибка сериализации события:", err)
		return
	}
	if err := s.client.Publish(ctx, s.Channel(ev.WaitingListID), payload).Err(); err != nil {
		log.Printf("Ошибка публикации события %s в Redis: %v", ev.Type, err)
	}
}
