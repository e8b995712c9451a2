package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/pipeline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/monitoring"
)

// Metrics holds the service's domain counters, registered alongside the
// standard HTTP metrics.
type Metrics struct {
	BaselineRecalcs *prometheus.CounterVec
	PipelineRuns    *prometheus.CounterVec
	ViralDetected   prometheus.Counter
	TokensTotal     *prometheus.CounterVec
	CostTotal       *prometheus.CounterVec
}

// New registers the domain metrics with the collector.
func New(mc *monitoring.MetricsCollector) *Metrics {
	m := &Metrics{
		BaselineRecalcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_baseline_recalculations_total",
			Help: "Baseline recalculations by resulting status",
		}, []string{"status"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_pipeline_runs_total",
			Help: "Pipeline runs by result",
		}, []string{"result"}),
		ViralDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_viral_posts_detected_total",
			Help: "Posts classified viral by the scorer",
		}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_llm_tokens_total",
			Help: "LLM tokens consumed by model and operation",
		}, []string{"model", "operation"}),
		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_llm_cost_usd_total",
			Help: "LLM spend in USD by model and operation",
		}, []string{"model", "operation"}),
	}

	mc.RegisterCustomMetric("baseline_recalculations", m.BaselineRecalcs)
	mc.RegisterCustomMetric("pipeline_runs", m.PipelineRuns)
	mc.RegisterCustomMetric("viral_posts_detected", m.ViralDetected)
	mc.RegisterCustomMetric("llm_tokens", m.TokensTotal)
	mc.RegisterCustomMetric("llm_cost", m.CostTotal)
	return m
}

// meteredUsage counts tokens and cost before delegating to the tracker.
type meteredUsage struct {
	metrics *Metrics
	next    pipeline.Meter
}

// WrapMeter layers token and cost counters over a usage meter.
func (m *Metrics) WrapMeter(next pipeline.Meter) pipeline.Meter {
	return &meteredUsage{metrics: m, next: next}
}

func (u *meteredUsage) RecordUsage(ctx context.Context, model, operation string, tokens int, cost float64) {
	u.metrics.TokensTotal.WithLabelValues(model, operation).Add(float64(tokens))
	u.metrics.CostTotal.WithLabelValues(model, operation).Add(cost)
	if u.next != nil {
		u.next.RecordUsage(ctx, model, operation, tokens, cost)
	}
}
