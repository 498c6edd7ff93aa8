// Package redis appends records as JSON onto a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/shopfinder-crawler/internal/record"
)

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout bounds the startup ping.
const connectionTimeout = 5 * time.Second

// Config holds the connection and the target list.
type Config struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// Sink pushes every record onto the tail of one list.
type Sink struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient wraps an existing client. An empty key defaults to "shops".
func NewWithClient(client *redis.Client, key string) *Sink {
	if key == "" {
		key = "shops"
	}
	return &Sink{client: client, key: key}
}

// Write appends rec to the list.
func (s *Sink) Write(ctx context.Context, rec record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
