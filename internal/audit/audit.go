package audit

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"
)

// Event is the canonical audit record emitted by the SCA engine and the
// request security middleware. It never carries raw credentials.
type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	SubjectID     string            `json:"subject_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	ChallengeID   string            `json:"challenge_id,omitempty"`
	Method        string            `json:"method,omitempty"`
	IP            string            `json:"ip,omitempty"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events. Emit must not retain event.Metadata
// beyond the call unless it copies it.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer goroutine, mostly in tests.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, max(buffer, 1))}
}

// Emit blocks until the event is buffered or ctx is done.
func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		log.Printf("sca: audit json sink: %v", err)
	}
}

// MultiSink forwards every event to each of its sinks in order.
type MultiSink []Sink

// NewMultiSink drops nil sinks and flattens nested MultiSinks.
func NewMultiSink(sinks ...Sink) MultiSink {
	var out MultiSink
	for _, s := range sinks {
		switch v := s.(type) {
		case nil:
		case MultiSink:
			out = append(out, v...)
		default:
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}
