package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MessageProducer publishes one record to a topic.
type MessageProducer interface {
	ProduceMessage(topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher emits usage summaries as JSON events. Summaries that fail
// to produce are queued and retried on the next publish, capped so a long
// broker outage cannot grow the queue without bound.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
	source   string
	logger   logrus.FieldLogger

	mu         sync.Mutex
	pending    []UsageSummary
	maxPending int
}

func NewKafkaPublisher(producer MessageProducer, topic, source string, logger logrus.FieldLogger) *KafkaPublisher {
	if topic == "" {
		topic = "llm-usage"
	}
	return &KafkaPublisher{
		producer:   producer,
		topic:      topic,
		source:     source,
		logger:     logger,
		maxPending: 1000,
	}
}

type usageEvent struct {
	Source string `json:"source"`
	UsageSummary
}

// Publish sends the given summaries plus any previously failed ones.
func (p *KafkaPublisher) Publish(_ context.Context, summaries []UsageSummary) error {
	p.mu.Lock()
	batch := append(p.pending, summaries...)
	p.pending = nil
	p.mu.Unlock()

	var failed []UsageSummary
	var firstErr error
	for _, s := range batch {
		if err := p.publishOne(s); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, s)
		}
	}

	if len(failed) > 0 {
		p.mu.Lock()
		p.pending = append(p.pending, failed...)
		if overflow := len(p.pending) - p.maxPending; overflow > 0 {
			p.pending = p.pending[overflow:]
			p.logger.WithField("dropped", overflow).Warn("Usage event queue overflow, oldest events dropped")
		}
		p.mu.Unlock()
	}
	return firstErr
}

func (p *KafkaPublisher) publishOne(s UsageSummary) error {
	event := usageEvent{Source: p.source, UsageSummary: s}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	key := []byte(s.Model + ":" + s.Operation)
	return p.producer.ProduceMessage(p.topic, key, value, map[string]string{
		"event_type": "llm_usage_summary",
	})
}

// PendingCount reports how many summaries await retry.
func (p *KafkaPublisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
