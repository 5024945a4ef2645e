// Package events publishes audit events to a message broker through
// Watermill, so other services can consume the SCA audit trail.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "sca.audit"

// AuditPublisher implements [sca.AuditSink] on top of a Watermill publisher.
type AuditPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewAuditPublisher returns a sink publishing to topic. An empty topic uses
// [DefaultTopic].
func NewAuditPublisher(publisher message.Publisher, topic string) *AuditPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &AuditPublisher{
		publisher: publisher,
		topic:     topic,
	}
}

// Publish sends one audit event. The message carries the event type and
// correlation id as metadata.
func (p *AuditPublisher) Publish(ctx context.Context, event sca.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", event.EventType)
	if event.CorrelationID != "" {
		msg.Metadata.Set("correlation_id", event.CorrelationID)
	}

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}
	return nil
}

// Emit implements [sca.AuditSink]. Publish failures are logged and dropped.
func (p *AuditPublisher) Emit(ctx context.Context, event sca.AuditEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Printf("sca: audit publish: %v", err)
	}
}
