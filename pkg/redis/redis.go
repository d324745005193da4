package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("redis address not configured")

type IRedis interface {
	SetStatus(ctx context.Context, key string, value []byte, expiration time.Duration) error
	GetStatus(ctx context.Context, key string) ([]byte, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

type redisClient struct {
	client *redis.Client
}

// New connects to REDIS_ADDRESS. The mirror is optional, so an unset address
// yields ErrNotConfigured instead of a client.
func New() (IRedis, error) {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		return nil, ErrNotConfigured
	}

	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	redisPassword := os.Getenv("REDIS_PASSWORD")

	logrus.Info(fmt.Sprintf("Connecting to Redis at %s...", redisAddr))

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client}, nil
}

func (r *redisClient) SetStatus(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	logrus.Debug(fmt.Sprintf("Setting status for key %s with expiration %v", key, expiration))
	if err := r.client.Set(ctx, key, value, expiration).Err(); err != nil {
		logrus.Error(fmt.Sprintf("Error setting status for key %s: %v", key, err))
		return err
	}
	return nil
}

func (r *redisClient) GetStatus(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		logrus.Debug(fmt.Sprintf("Status not found for key %s", key))
		return nil, err
	} else if err != nil {
		logrus.Error(fmt.Sprintf("Error getting status for key %s: %v", key, err))
		return nil, err
	}
	return val, nil
}

func (r *redisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	receivers, err := r.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error publishing to %s: %v", channel, err))
		return err
	}
	logrus.Debug(fmt.Sprintf("Published to %s, %d receivers", channel, receivers))
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
