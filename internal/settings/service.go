package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/logging"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// Service assembles immutable settings snapshots. Malformed stored values
// are logged and skipped so a bad settings write can never take scoring or
// the pipeline down with it.
type Service struct {
	store  Store
	logger logging.Logger
}

func NewService(store Store, logger logging.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Snapshot merges stored settings over the compiled defaults and returns
// an immutable copy. Each baseline/scoring/pipeline invocation takes its
// own snapshot at the start and never re-reads mid-flight.
func (s *Service) Snapshot(ctx context.Context) (models.SettingsSnapshot, error) {
	snapshot := defaultSnapshot()
	snapshot.TakenAt = time.Now().UTC()
	if s.store == nil {
		return snapshot, nil
	}

	stored, version, err := s.store.GetAll(ctx)
	if err != nil {
		return models.SettingsSnapshot{}, fmt.Errorf("load settings: %w", err)
	}
	snapshot.Version = version

	s.overlay(stored, KeyScoringWeights, &snapshot.Weights)
	s.overlay(stored, KeyViralThresholds, &snapshot.Thresholds)
	s.overlay(stored, KeyScoreComposition, &snapshot.Composition)
	s.overlay(stored, KeyBaselineConfig, &snapshot.Baseline)
	s.overlay(stored, KeyStageConfigs, &snapshot.Stages)
	s.overlay(stored, KeyModelPricing, &snapshot.Pricing)

	return snapshot, nil
}

func (s *Service) overlay(stored map[string]json.RawMessage, key string, dst any) {
	raw, ok := stored[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Ignoring malformed settings value")
	}
}

// Get returns the effective document for one settings key: the stored
// value when present, otherwise the compiled default at version 0.
// Unknown keys return ErrNotFound.
func (s *Service) Get(ctx context.Context, key string) (json.RawMessage, int, error) {
	def, known := defaultDocument(key)
	if !known {
		return nil, 0, ErrNotFound
	}
	if s.store != nil {
		value, version, err := s.store.Get(ctx, key)
		if err == nil {
			return value, version, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, 0, err
		}
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return nil, 0, fmt.Errorf("encode default for %s: %w", key, err)
	}
	return raw, 0, nil
}

// Update stores one settings document and returns its new version. Only
// known keys are accepted.
func (s *Service) Update(ctx context.Context, key string, value json.RawMessage) (int, error) {
	if _, known := defaultDocument(key); !known {
		return 0, ErrNotFound
	}
	return s.store.Set(ctx, key, value)
}
