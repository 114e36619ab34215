package events

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/schema"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func stateEvent() models.RecordingStateEvent {
	return models.RecordingStateEvent{
		EventType: "recording.state",
		SessionID: "rec-1",
		DeviceID:  "dev-1",
		Platform:  "browser",
		State:     "RECORDING",
		Timestamp: 1700000000000,
	}
}

func stageEvent() models.PipelineStageEvent {
	return models.PipelineStageEvent{
		EventType: "pipeline.stage",
		UserID:    "user-1",
		TempID:    "tmp-abc",
		Stage:     "upload",
		OK:        true,
		Timestamp: 1700000000000,
	}
}

func enabledPublisher(rec, stage *fakeWriter, m *metrics.Metrics) *Publisher {
	return &Publisher{
		writerRecording: rec,
		writerStage:     stage,
		principal:       "svc-test",
		topicRecording:  "recording.state",
		topicStage:      "pipeline.stage",
		enabled:         true,
		validator:       schema.New(),
		metrics:         m,
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerRecording != nil || p.writerStage != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:        false,
		Brokers:        []string{"localhost:9092"},
		TopicRecording: "test.recording",
		TopicStage:     "test.stage",
		Principal:      "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicRecording != "test.recording" {
		t.Errorf("expected topic 'test.recording', got %s", p.topicRecording)
	}
	if p.topicStage != "test.stage" {
		t.Errorf("expected topic 'test.stage', got %s", p.topicStage)
	}
}

func TestNew_Enabled(t *testing.T) {
	p := New(&Config{Enabled: true, Brokers: []string{"localhost:9092"}, TopicRecording: "r", TopicStage: "s"})
	defer p.Close()

	if !p.enabled {
		t.Error("expected publisher to be enabled")
	}
	w, ok := p.writerRecording.(*kafka.Writer)
	if !ok || w.Topic != "r" {
		t.Errorf("expected kafka writer for topic r, got %#v", p.writerRecording)
	}
}

func TestPublisher_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.PublishRecordingState(context.Background(), stateEvent()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishStage(context.Background(), stageEvent()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_WritesKeyedMessages(t *testing.T) {
	rec, stage := &fakeWriter{}, &fakeWriter{}
	m := metrics.NewUnregistered()
	p := enabledPublisher(rec, stage, m)

	if err := p.PublishRecordingState(context.Background(), stateEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishStage(context.Background(), stageEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.msgs) != 1 || string(rec.msgs[0].Key) != "rec-1" {
		t.Errorf("expected one recording message keyed rec-1, got %+v", rec.msgs)
	}
	if len(stage.msgs) != 1 || string(stage.msgs[0].Key) != "tmp-abc" {
		t.Errorf("expected one stage message keyed tmp-abc, got %+v", stage.msgs)
	}
	if got := string(stage.msgs[0].Headers[0].Value); got != "pipeline.stage" {
		t.Errorf("expected eventType header pipeline.stage, got %s", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("pipeline.stage", "pipeline.stage")); got != 1 {
		t.Errorf("expected 1 publish recorded, got %v", got)
	}
}

func TestPublisher_InvalidEventNotWritten(t *testing.T) {
	rec := &fakeWriter{}
	m := metrics.NewUnregistered()
	p := enabledPublisher(rec, &fakeWriter{}, m)

	ev := stateEvent()
	ev.DeviceID = ""
	if err := p.PublishRecordingState(context.Background(), ev); err == nil {
		t.Error("expected validation error")
	}
	if len(rec.msgs) != 0 {
		t.Errorf("expected nothing written, got %d", len(rec.msgs))
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("recording.state", "recording.state")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	stage := &fakeWriter{err: errors.New("broker down")}
	p := enabledPublisher(&fakeWriter{}, stage, metrics.NewUnregistered())

	if err := p.PublishStage(context.Background(), stageEvent()); err == nil {
		t.Error("expected write error")
	}
}

func TestPublisher_Close(t *testing.T) {
	rec, stage := &fakeWriter{}, &fakeWriter{}
	p := enabledPublisher(rec, stage, metrics.NewUnregistered())

	if err := p.Close(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !rec.closed || !stage.closed {
		t.Error("expected both writers closed")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
