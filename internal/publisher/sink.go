// Package publisher turns finished batches into lead events on a message bus.
package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

// LeadEvent is the message published for every deduplicated lead.
type LeadEvent struct {
	EventID string             `json:"event_id"`
	RunID   string             `json:"run_id"`
	Source  crawler.SourceKind `json:"source"`
	Lead    crawler.Lead       `json:"lead"`
}

// Attributes exposes routing attributes to bus implementations.
func (e LeadEvent) Attributes() map[string]string {
	return map[string]string{"run_id": e.RunID, "source": string(e.Source)}
}

// Sink publishes one LeadEvent per lead. It implements crawler.LeadSink.
type Sink struct {
	pub    crawler.Publisher
	topic  string
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// NewSink wires a Sink onto pub.
func NewSink(pub crawler.Publisher, topic string, ids crawler.IDGenerator, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pub: pub, topic: topic, ids: ids, logger: logger}
}

// Name implements crawler.LeadSink.
func (s *Sink) Name() string { return "pubsub" }

// StoreLeads publishes leads in order and stops at the first failure.
func (s *Sink) StoreLeads(ctx context.Context, runID string, leads []crawler.Lead) error {
	for i, lead := range leads {
		id, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		event := LeadEvent{EventID: id, RunID: runID, Source: lead.Source, Lead: lead}
		msgID, err := s.pub.Publish(ctx, s.topic, event)
		if err != nil {
			return fmt.Errorf("publish lead %d of %d: %w", i+1, len(leads), err)
		}
		s.logger.Debug("lead published", zap.String("event_id", id), zap.String("message_id", msgID))
	}
	return nil
}
