package baseline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// SnapshotSource yields an immutable settings view for one invocation.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (models.SettingsSnapshot, error)
}

// Engine recomputes channel baselines from the raw post window.
type Engine struct {
	posts    posts.Store
	store    Store
	locker   Locker
	settings SnapshotSource
	logger   logrus.FieldLogger

	now func() time.Time
}

func NewEngine(postStore posts.Store, store Store, locker Locker, settings SnapshotSource, logger logrus.FieldLogger) *Engine {
	return &Engine{
		posts:    postStore,
		store:    store,
		locker:   locker,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// Recalculate rebuilds the channel's baseline from scratch and fully
// replaces the stored record. Concurrent calls for the same channel are
// rejected with ErrChannelBusy; distinct channels proceed independently.
func (e *Engine) Recalculate(ctx context.Context, channelID int64) (*models.ChannelBaseline, error) {
	release, err := e.locker.Acquire(ctx, channelID)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return e.recalculateLocked(ctx, channelID, snap)
}

func (e *Engine) recalculateLocked(ctx context.Context, channelID int64, snap models.SettingsSnapshot) (*models.ChannelBaseline, error) {
	cfg := snap.Baseline
	now := e.now().UTC()
	since := now.AddDate(0, 0, -cfg.CalculationPeriodDays)

	window, err := e.posts.WindowForChannel(ctx, channelID, since)
	if err != nil {
		return nil, err
	}

	rates := make([]float64, 0, len(window))
	for _, p := range window {
		rates = append(rates, p.WeightedEngagementRate(snap.Weights))
	}
	trimmed := trimOutliers(rates, cfg.OutlierRemovalPercentile)
	stats := computeStats(trimmed)

	// A thin or empty window is a learning baseline, never an error.
	status := models.BaselineReady
	if len(trimmed) < cfg.MinPostsForBaseline {
		status = models.BaselineLearning
	}

	b := models.ChannelBaseline{
		ChannelID:             channelID,
		PostsAnalyzed:         len(trimmed),
		Mean:                  stats.Mean,
		Median:                stats.Median,
		StdDev:                stats.StdDev,
		P75:                   stats.P75,
		P95:                   stats.P95,
		Max:                   stats.Max,
		Status:                status,
		CalculationPeriodDays: cfg.CalculationPeriodDays,
		MinPostsForBaseline:   cfg.MinPostsForBaseline,
		LastCalculated:        now,
		NextCalculation:       now.Add(cfg.RecalculationInterval),
	}
	if err := e.store.Upsert(ctx, b); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"channel_id":     channelID,
		"posts_analyzed": b.PostsAnalyzed,
		"status":         b.Status,
		"mean":           b.Mean,
		"std_dev":        b.StdDev,
	}).Info("Channel baseline recalculated")
	return &b, nil
}

// Get returns the stored baseline for a channel.
func (e *Engine) Get(ctx context.Context, channelID int64) (*models.ChannelBaseline, error) {
	return e.store.Get(ctx, channelID)
}

// SweepDue marks overdue ready baselines outdated, then recalculates the
// most overdue channels. Channels whose lease is held elsewhere are skipped
// and picked up on the next sweep.
func (e *Engine) SweepDue(ctx context.Context, limit int) error {
	now := e.now().UTC()
	marked, err := e.store.MarkOutdated(ctx, now)
	if err != nil {
		return err
	}
	if marked > 0 {
		e.logger.WithField("count", marked).Info("Marked stale baselines outdated")
	}

	due, err := e.store.ListDue(ctx, now, limit)
	if err != nil {
		return err
	}
	for _, channelID := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.Recalculate(ctx, channelID); err != nil {
			if errors.Is(err, ErrChannelBusy) {
				continue
			}
			e.logger.WithError(err).WithField("channel_id", channelID).
				Error("Baseline sweep recalculation failed")
		}
	}
	return nil
}

// RunSweeper recalculates due baselines on a fixed cadence until the
// context is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SweepDue(ctx, batch); err != nil && ctx.Err() == nil {
				e.logger.WithError(err).Error("Baseline sweep failed")
			}
		}
	}
}
