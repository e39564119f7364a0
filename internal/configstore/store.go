// Package configstore holds the live moderation configuration. Readers get
// an immutable snapshot; writers validate and replace the whole document.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

// SystemActor is recorded as the author of seeded configs.
const SystemActor = "system"

// Persister stores config documents durably.
type Persister interface {
	LoadConfig(ctx context.Context) (models.ModerationConfig, error)
	SaveConfig(ctx context.Context, cfg models.ModerationConfig) error
	ConfigHistory(ctx context.Context, limit int) ([]models.ModerationConfig, error)
}

// Notifier tells peer instances that a new version was written.
type Notifier interface {
	PublishConfigUpdate(ctx context.Context, version int64, updatedBy string) error
}

// Evaluator runs the tiers without side effects.
type Evaluator interface {
	Evaluate(ctx context.Context, sub models.Submission, cfg models.ModerationConfig) models.Decision
}

// Store is the configuration store.
type Store struct {
	Persister Persister
	Notifier  Notifier
	Evaluator Evaluator
	Metrics   observability.MetricsRegistry
	Logger    *zap.Logger
	Now       func() time.Time

	current atomic.Pointer[models.ModerationConfig]
	// writeMu serialises Put and Reload so versions stay monotonic.
	writeMu sync.Mutex
}

// New returns a Store serving the default configuration until Init or
// Reload installs a persisted one. Persister and Notifier may be nil.
func New(p Persister, n Notifier, ev Evaluator, metrics observability.MetricsRegistry, logger *zap.Logger) *Store {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		Persister: p,
		Notifier:  n,
		Evaluator: ev,
		Metrics:   metrics,
		Logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
	}
	def := models.DefaultConfig()
	s.current.Store(&def)
	return s
}

// LoadSeed reads a YAML config document from path. Fields missing from the
// file keep their default values.
func LoadSeed(path string) (models.ModerationConfig, error) {
	cfg := models.DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: read seed config: %w", models.ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse seed config: %w", models.ErrConfiguration, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Init loads the persisted config. On first deployment it installs the
// seed at seedPath, or the defaults when seedPath is empty, and persists
// it as version 1.
func (s *Store) Init(ctx context.Context, seedPath string) error {
	if s.Persister == nil {
		if seedPath == "" {
			return nil
		}
		cfg, err := LoadSeed(seedPath)
		if err != nil {
			return err
		}
		cfg.Version = 1
		cfg.UpdatedAt = s.Now()
		cfg.UpdatedBy = SystemActor
		s.swap(cfg)
		return nil
	}

	err := s.Reload(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	cfg := models.DefaultConfig()
	if seedPath != "" {
		if cfg, err = LoadSeed(seedPath); err != nil {
			return err
		}
		s.Logger.Info("seeding moderation config", zap.String("path", seedPath))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cfg.Version = 1
	cfg.UpdatedAt = s.Now()
	cfg.UpdatedBy = SystemActor
	if err := s.Persister.SaveConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save initial config: %w", err)
	}
	s.swap(cfg)
	return nil
}

// Get returns a copy of the current config.
func (s *Store) Get() models.ModerationConfig {
	return s.current.Load().Clone()
}

// Snapshot returns the shared current config without copying. Callers
// must not modify it.
func (s *Store) Snapshot() *models.ModerationConfig {
	return s.current.Load()
}

// Put validates cfg and replaces the whole document. Validation failures
// are returned as *models.ValidationError and leave the current config in
// place.
func (s *Store) Put(ctx context.Context, cfg models.ModerationConfig, actor string) (models.ModerationConfig, error) {
	cfg = cfg.Clone()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return models.ModerationConfig{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg.Version = s.current.Load().Version + 1
	cfg.UpdatedAt = s.Now()
	cfg.UpdatedBy = actor

	if s.Persister != nil {
		if err := s.Persister.SaveConfig(ctx, cfg); err != nil {
			return models.ModerationConfig{}, fmt.Errorf("save config: %w", err)
		}
	}
	s.swap(cfg)

	if s.Notifier != nil {
		if err := s.Notifier.PublishConfigUpdate(ctx, cfg.Version, actor); err != nil {
			s.Logger.Warn("failed to announce config update", zap.Int64("version", cfg.Version), zap.Error(err))
		}
	}
	s.Logger.Info("moderation config updated",
		zap.Int64("version", cfg.Version),
		zap.String("updated_by", actor))
	return cfg.Clone(), nil
}

// TestEvaluate runs content through the current config without enqueueing
// or recording anything.
func (s *Store) TestEvaluate(ctx context.Context, content, workflow string) models.Decision {
	sub := models.Submission{Text: content, ContentType: "test", Workflow: workflow}
	return s.Evaluator.Evaluate(ctx, sub, *s.current.Load())
}

// Reload replaces the snapshot with the persisted config. Older versions
// than the one already served are ignored.
func (s *Store) Reload(ctx context.Context) error {
	if s.Persister == nil {
		return fmt.Errorf("%w: config persistence unavailable", models.ErrConfiguration)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg, err := s.Persister.LoadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Version < s.current.Load().Version {
		return nil
	}
	s.swap(cfg)
	return nil
}

// History returns up to limit previous versions, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]models.ModerationConfig, error) {
	if s.Persister == nil {
		return []models.ModerationConfig{}, nil
	}
	return s.Persister.ConfigHistory(ctx, limit)
}

// OnUpdate reloads when a peer announces a version newer than ours.
func (s *Store) OnUpdate(ctx context.Context, version int64) {
	if version <= s.current.Load().Version {
		return
	}
	if err := s.Reload(ctx); err != nil {
		s.Logger.Error("config reload after update failed", zap.Int64("version", version), zap.Error(err))
	}
}

// Watch reloads on every tick until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.Persister == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.Logger.Error("periodic config reload failed", zap.Error(err))
			}
		}
	}
}

func (s *Store) swap(cfg models.ModerationConfig) {
	c := cfg.Clone()
	s.current.Store(&c)
	s.Metrics.SetConfigVersion(c.Version)
}
