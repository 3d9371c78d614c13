package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jwebster45206/troupe/pkg/chat"
	"github.com/jwebster45206/troupe/pkg/state"
	"github.com/jwebster45206/troupe/pkg/storage"
	"github.com/redis/go-redis/v9"
)

const (
	worldKey         = "world"
	settingsKey      = "settings"
	historyKeyPrefix = "history:"
	tokensKeyPrefix  = "tokens:"

	// maxTxRetries bounds optimistic WATCH retries before ErrConflict.
	maxTxRetries = 10
)

func historyKey(locationID string) string { return historyKeyPrefix + locationID }
func tokensKey(locationID string) string  { return tokensKeyPrefix + locationID }

// RedisStorage implements the Storage interface on Redis. The world and
// settings are single JSON documents; each location has its own history
// and token counter keys.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance. redisURL may be
// a redis:// URL or a bare host:port.
func NewRedisStorage(redisURL string, logger *slog.Logger) (*RedisStorage, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStorage{
		client: redis.NewClient(opts),
		logger: logger,
	}, nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, logger *slog.Logger) *RedisStorage {
	return &RedisStorage{client: client, logger: logger}
}

func parseRedisURL(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}

// Client exposes the underlying client for the queue, locker and
// event broadcaster, which share one connection pool.
func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// watch runs fn in a WATCH transaction on keys, retrying when another
// client modified a watched key first.
func (r *RedisStorage) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug("Redis transaction conflict, retrying", "keys", keys, "attempt", i+1)
			continue
		}
		return err
	}
	return storage.ErrConflict
}

// World operations

func (r *RedisStorage) LoadWorld(ctx context.Context) (*state.World, error) {
	return readWorld(ctx, r.client)
}

func (r *RedisStorage) UpdateWorld(ctx context.Context, fn func(*state.World) error) (*state.World, error) {
	var out *state.World
	err := r.watch(ctx, func(tx *redis.Tx) error {
		w, err := readWorld(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}
		w.UpdatedAt = time.Now()
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("failed to marshal world: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, worldKey, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = w
		return nil
	}, worldKey)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Settings operations

func (r *RedisStorage) LoadSettings(ctx context.Context) (*state.Settings, error) {
	return readSettings(ctx, r.client)
}

func (r *RedisStorage) UpdateSettings(ctx context.Context, fn func(*state.Settings) error) (*state.Settings, error) {
	var out *state.Settings
	err := r.watch(ctx, func(tx *redis.Tx) error {
		s, err := readSettings(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		s.Normalize()
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, settingsKey, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = s
		return nil
	}, settingsKey)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History operations

func (r *RedisStorage) LoadHistory(ctx context.Context, locationID string) ([]chat.ChatMessage, error) {
	return readHistory(ctx, r.client, locationID)
}

func (r *RedisStorage) SaveHistory(ctx context.Context, locationID string, history []chat.ChatMessage) error {
	data, err := json.Marshal(nonNilHistory(history))
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := r.client.Set(ctx, historyKey(locationID), data, 0).Err(); err != nil {
		r.logger.Error("Failed to save history", "location_id", locationID, "error", err)
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (r *RedisStorage) AppendMessages(ctx context.Context, locationID string, msgs ...chat.ChatMessage) error {
	key := historyKey(locationID)
	return r.watch(ctx, func(tx *redis.Tx) error {
		history, err := readHistory(ctx, tx, locationID)
		if err != nil {
			return err
		}
		data, err := json.Marshal(append(history, msgs...))
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

func (r *RedisStorage) ListHistories(ctx context.Context) (map[string][]chat.ChatMessage, error) {
	out := make(map[string][]chat.ChatMessage)
	iter := r.client.Scan(ctx, 0, historyKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		locationID := strings.TrimPrefix(iter.Val(), historyKeyPrefix)
		history, err := r.LoadHistory(ctx, locationID)
		if err != nil {
			return nil, err
		}
		out[locationID] = history
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan histories: %w", err)
	}
	return out, nil
}

func (r *RedisStorage) DeleteHistory(ctx context.Context, locationID string) error {
	if err := r.client.Del(ctx, historyKey(locationID), tokensKey(locationID)).Err(); err != nil {
		r.logger.Error("Failed to delete history", "location_id", locationID, "error", err)
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// Token counter operations

func (r *RedisStorage) GetTokenCount(ctx context.Context, locationID string) (int, error) {
	return readTokens(ctx, r.client, locationID)
}

func (r *RedisStorage) SetTokenCount(ctx context.Context, locationID string, count int) error {
	if err := r.client.Set(ctx, tokensKey(locationID), count, 0).Err(); err != nil {
		return fmt.Errorf("failed to set token count: %w", err)
	}
	return nil
}

// CommitTurn writes history, world, settings and the token counter in
// one MULTI/EXEC so a reader never observes half a turn.
func (r *RedisStorage) CommitTurn(ctx context.Context, commit *state.TurnCommit) ([]chat.ChatMessage, int, error) {
	hKey := historyKey(commit.LocationID)
	tKey := tokensKey(commit.LocationID)

	var (
		outHistory []chat.ChatMessage
		outTokens  int
	)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		history, err := readHistory(ctx, tx, commit.LocationID)
		if err != nil {
			return err
		}
		tokens, err := readTokens(ctx, tx, commit.LocationID)
		if err != nil {
			return err
		}

		var worldData, settingsData []byte
		if len(commit.Deltas) > 0 {
			w, err := readWorld(ctx, tx)
			if err != nil {
				return err
			}
			s, err := readSettings(ctx, tx)
			if err != nil {
				return err
			}
			state.NewDeltaWorker(w, s, commit.Deltas, r.logger).Apply()
			w.UpdatedAt = time.Now()
			if worldData, err = json.Marshal(w); err != nil {
				return fmt.Errorf("failed to marshal world: %w", err)
			}
			if settingsData, err = json.Marshal(s); err != nil {
				return fmt.Errorf("failed to marshal settings: %w", err)
			}
		}

		history = commit.ApplyHistory(history)
		historyData, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		tokens += commit.InputTokens

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, hKey, historyData, 0)
			pipe.Set(ctx, tKey, tokens, 0)
			if worldData != nil {
				pipe.Set(ctx, worldKey, worldData, 0)
				pipe.Set(ctx, settingsKey, settingsData, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		outHistory, outTokens = history, tokens
		return nil
	}, hKey, tKey, worldKey, settingsKey)
	if err != nil {
		r.logger.Error("Failed to commit turn", "location_id", commit.LocationID, "error", err)
		return nil, 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	return outHistory, outTokens, nil
}

// readers work on both the client and a WATCH transaction

func readWorld(ctx context.Context, c redis.Cmdable) (*state.World, error) {
	data, err := c.Get(ctx, worldKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return state.NewWorld(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load world: %w", err)
	}
	var w state.World
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal world: %w", err)
	}
	if w.Characters == nil {
		w.Characters = []state.Character{}
	}
	if w.Locations == nil {
		w.Locations = []state.Location{}
	}
	return &w, nil
}

func readSettings(ctx context.Context, c redis.Cmdable) (*state.Settings, error) {
	data, err := c.Get(ctx, settingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return state.NewSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s := state.NewSettings()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	s.Normalize()
	return s, nil
}

func readHistory(ctx context.Context, c redis.Cmdable, locationID string) ([]chat.ChatMessage, error) {
	data, err := c.Get(ctx, historyKey(locationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []chat.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var history []chat.ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return nonNilHistory(history), nil
}

func readTokens(ctx context.Context, c redis.Cmdable, locationID string) (int, error) {
	val, err := c.Get(ctx, tokensKey(locationID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load token count: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid token count %q: %w", val, err)
	}
	return n, nil
}

func nonNilHistory(h []chat.ChatMessage) []chat.ChatMessage {
	if h == nil {
		return []chat.ChatMessage{}
	}
	return h
}
