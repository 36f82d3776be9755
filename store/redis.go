package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jarvis/core"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "jarvis:"

// Config holds the Redis connection settings for the turn mirror.
type Config struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// TurnStore mirrors every conversation turn into a Redis list per session.
// Lists are only ever appended to.
type TurnStore struct {
	rdb    *redis.Client
	logger *core.Logger
}

// NewTurnStore connects to Redis and verifies the connection with a PING.
func NewTurnStore(ctx context.Context, cfg Config, logger *core.Logger) (*TurnStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("store: redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("store: could not connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewTurnStoreFromClient(rdb, logger), nil
}

func NewTurnStoreFromClient(rdb *redis.Client, logger *core.Logger) *TurnStore {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &TurnStore{
		rdb:    rdb,
		logger: logger.With(map[string]interface{}{"component": "turn_store"}),
	}
}

func turnsKey(sessionID string) string {
	return keyPrefix + "session:" + sessionID + ":turns"
}

const sessionsKey = keyPrefix + "sessions"

// SaveTurn appends turn to the session's list and records the session id.
func (s *TurnStore) SaveTurn(ctx context.Context, sessionID string, turn core.Turn) error {
	data, err := sonic.Marshal(turn)
	if err != nil {
		return fmt.Errorf("store: marshal turn: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, turnsKey(sessionID), data)
	pipe.SAdd(ctx, sessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: save turn: %w", err)
	}
	return nil
}

// Turns returns the session's turns in the order they were saved.
func (s *TurnStore) Turns(ctx context.Context, sessionID string) ([]core.Turn, error) {
	raw, err := s.rdb.LRange(ctx, turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load turns: %w", err)
	}
	turns := make([]core.Turn, 0, len(raw))
	for i, r := range raw {
		var t core.Turn
		if err := sonic.UnmarshalString(r, &t); err != nil {
			return nil, fmt.Errorf("store: decode turn %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Sessions lists every session id that has at least one saved turn.
func (s *TurnStore) Sessions(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return ids, nil
}

func (s *TurnStore) Close() error {
	return s.rdb.Close()
}
