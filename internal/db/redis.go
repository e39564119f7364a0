package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/models"
)

// Pub/sub channels shared by all instances.
const (
	ConfigUpdateChannel = "moderation-config-updates"
	AlertChannel        = "moderation-alerts"
)

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// ConfigUpdate is broadcast after a config write so peers reload.
type ConfigUpdate struct {
	Version   int64  `json:"version"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// PublishConfigUpdate announces a new config version.
func (r *RedisStore) PublishConfigUpdate(ctx context.Context, version int64, updatedBy string) error {
	payload, err := json.Marshal(ConfigUpdate{Version: version, UpdatedBy: updatedBy})
	if err != nil {
		return fmt.Errorf("marshal config update: %w", err)
	}
	if err := r.Client.Publish(ctx, ConfigUpdateChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish config update: %w", err)
	}
	return nil
}

// SubscribeConfigUpdates calls fn for every config update until ctx is
// cancelled. Malformed messages are logged and skipped.
func (r *RedisStore) SubscribeConfigUpdates(ctx context.Context, fn func(ConfigUpdate)) {
	sub := r.Client.Subscribe(ctx, ConfigUpdateChannel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var upd ConfigUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				zap.L().Warn("invalid config update message", zap.Error(err))
				continue
			}
			fn(upd)
		}
	}
}

// PublishAlert sends an admin alert to subscribers of AlertChannel.
func (r *RedisStore) PublishAlert(ctx context.Context, alert models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := r.Client.Publish(ctx, AlertChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func decisionKey(day time.Time, action string) string {
	return fmt.Sprintf("moderation:decisions:%s:%s", day.UTC().Format("2006-01-02"), action)
}

// RecordDecision increments the daily counter for the decision's action.
// A 48h TTL is applied on first set.
func (r *RedisStore) RecordDecision(ctx context.Context, _ models.Submission, d models.Decision) error {
	key := decisionKey(time.Now(), string(d.Action))
	val, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if val == 1 {
		r.Client.Expire(ctx, key, 48*time.Hour)
	}
	return nil
}

// DecisionCounts returns the per-action decision counters for day.
func (r *RedisStore) DecisionCounts(ctx context.Context, day time.Time) (map[string]int64, error) {
	actions := []models.Action{models.ActionAllow, models.ActionFlag, models.ActionReview, models.ActionBlock}
	pipe := r.Client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(actions))
	for _, a := range actions {
		cmds[string(a)] = pipe.Get(ctx, decisionKey(day, string(a)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline exec failed: %w", err)
	}
	out := make(map[string]int64, len(actions))
	for a, cmd := range cmds {
		n, err := cmd.Int64()
		if err == redis.Nil {
			n = 0
		} else if err != nil {
			return nil, err
		}
		out[a] = n
	}
	return out, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
