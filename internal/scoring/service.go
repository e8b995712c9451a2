package scoring

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/baseline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// BatchSummary reports the outcome of a batch rescore.
type BatchSummary struct {
	ChannelID int64 `json:"channel_id"`
	Scored    int64 `json:"scored"`
	Viral     int64 `json:"viral"`
	Failed    int64 `json:"failed"`
}

// Service scores posts against their channel baselines and writes the
// derived fields back. Every invocation works from one settings snapshot.
type Service struct {
	posts     posts.Store
	baselines baseline.Store
	settings  baseline.SnapshotSource
	logger    logrus.FieldLogger

	batchWorkers int
	now          func() time.Time
}

func NewService(postStore posts.Store, baselines baseline.Store, settings baseline.SnapshotSource, batchWorkers int, logger logrus.FieldLogger) *Service {
	if batchWorkers <= 0 {
		batchWorkers = 8
	}
	return &Service{
		posts:        postStore,
		baselines:    baselines,
		settings:     settings,
		logger:       logger,
		batchWorkers: batchWorkers,
		now:          time.Now,
	}
}

// ScorePost recomputes one post's viral fields and persists them in a
// single atomic update. A channel without a baseline scores against a
// learning baseline, so the post is never classified viral.
func (s *Service) ScorePost(ctx context.Context, postID int64) (*models.Post, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	in, err := s.inputsForChannel(ctx, post.ChannelID, snap)
	if err != nil {
		return nil, err
	}
	return s.scoreAndPersist(ctx, *post, in)
}

// ScoreChannel rescores the channel's most recent posts concurrently.
// Failures on individual posts are counted, not fatal to the batch.
func (s *Service) ScoreChannel(ctx context.Context, channelID int64, limit int) (*BatchSummary, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	in, err := s.inputsForChannel(ctx, channelID, snap)
	if err != nil {
		return nil, err
	}
	batch, err := s.posts.ListRecent(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{ChannelID: channelID}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for _, post := range batch {
		post := post
		g.Go(func() error {
			scored, err := s.scoreAndPersist(gctx, post, in)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				atomic.AddInt64(&summary.Failed, 1)
				s.logger.WithError(err).WithField("post_id", post.ID).
					Warn("Failed to rescore post")
				return nil
			}
			atomic.AddInt64(&summary.Scored, 1)
			if scored.IsViral {
				atomic.AddInt64(&summary.Viral, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Service) inputsForChannel(ctx context.Context, channelID int64, snap models.SettingsSnapshot) (Inputs, error) {
	in := Inputs{
		Weights:     snap.Weights,
		Thresholds:  snap.Thresholds,
		Composition: snap.Composition,
	}

	b, err := s.baselines.Get(ctx, channelID)
	switch {
	case errors.Is(err, baseline.ErrBaselineNotFound):
		in.Baseline = models.ChannelBaseline{
			ChannelID: channelID,
			Status:    models.BaselineLearning,
		}
	case err != nil:
		return Inputs{}, err
	default:
		in.Baseline = *b
	}

	since := s.now().UTC().AddDate(0, 0, -snap.Baseline.CalculationPeriodDays)
	floor, err := s.posts.ViewsFloor(ctx, channelID, snap.Thresholds.MinViewsPercentile, since)
	if err != nil {
		return Inputs{}, err
	}
	in.ViewsFloor = floor
	return in, nil
}

func (s *Service) scoreAndPersist(ctx context.Context, post models.Post, in Inputs) (*models.Post, error) {
	metrics := ComputeMetrics(post, in)
	at := s.now().UTC()
	if err := s.posts.UpdateViralFields(ctx, post.ID, metrics, at); err != nil {
		return nil, err
	}

	post.EngagementRate = metrics.EngagementRate
	post.ZScore = metrics.ZScore
	post.MedianMultiplier = metrics.MedianMultiplier
	post.ViralScore = metrics.ViralScore
	post.IsViral = metrics.IsViral
	post.LastViralCalculation = &at
	return &post, nil
}
