package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paper-pulse/config"
)

// Queue-Keys für die Anreicherungs-Warteschlange.
const (
	EnrichQueueKey      = "paperpulse:queue:enrich"
	EnrichDeadLetterKey = "paperpulse:queue:enrich:failed"
)

// NewRedisClient verbindet sich mit Redis und prüft die Verbindung per Ping.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// PushQueue legt einen Wert auf eine Warteschlange.
func PushQueue(ctx context.Context, client *redis.Client, queueKey, value string) error {
	return client.LPush(ctx, queueKey, value).Err()
}

// PopQueue nimmt blockierend einen Wert von einer Warteschlange.
// Bei leerer Queue kommt redis.Nil als Fehler zurück.
func PopQueue(ctx context.Context, client *redis.Client, queueKey string, timeout time.Duration) (string, error) {
	result, err := client.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		return "", err
	}
	return result[1], nil
}

// QueueLen liefert die aktuelle Länge einer Warteschlange.
func QueueLen(ctx context.Context, client *redis.Client, queueKey string) (int64, error) {
	return client.LLen(ctx, queueKey).Result()
}

// CacheGet liest einen Cache-Eintrag; redis.Nil bedeutet Cache-Miss.
func CacheGet(ctx context.Context, client *redis.Client, key string) (string, error) {
	return client.Get(ctx, key).Result()
}

// CacheSet schreibt einen Cache-Eintrag mit TTL.
func CacheSet(ctx context.Context, client *redis.Client, key, value string, ttl time.Duration) error {
	return client.Set(ctx, key, value, ttl).Err()
}
