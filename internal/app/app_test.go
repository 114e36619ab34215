package app

import (
	"context"
	"testing"
	"time"

	"lecture-capture-service/internal/config"
	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/capture"
	"lecture-capture-service/internal/service/lectures"
	"lecture-capture-service/internal/service/pipeline"
	"lecture-capture-service/internal/service/session"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	a := New(config.Defaults())
	a.Metrics = metrics.NewUnregistered()
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

func TestStart_DefaultsWireInMemoryStack(t *testing.T) {
	a := newTestApp(t)

	if a.Pipeline == nil || a.Audio == nil || a.Transcription == nil || a.Notes == nil {
		t.Fatal("expected pipeline services to be wired")
	}
	if _, ok := a.Lectures.(*lectures.MemoryStore); !ok {
		t.Errorf("expected memory lecture store, got %T", a.Lectures)
	}
	if _, ok := a.DeviceLock.(*session.MemoryLock); !ok {
		t.Errorf("expected memory device lock, got %T", a.DeviceLock)
	}
	if a.LiveFactory == nil {
		t.Error("expected mock live factory")
	}
	if a.StartupTime.IsZero() {
		t.Error("expected startup time to be set")
	}
	if err := a.Ready(context.Background()); err != nil {
		t.Errorf("expected ready, got %v", err)
	}
}

func TestStart_ClientLiveProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Live.Provider = "client"
	a := New(cfg)
	a.Metrics = metrics.NewUnregistered()
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer a.Shutdown()

	if a.LiveFactory != nil {
		t.Error("expected no server-side live factory")
	}
	if a.ClientSpeech == nil || a.ClientSpeech.Language != "en-US" {
		t.Errorf("expected client speech config, got %+v", a.ClientSpeech)
	}
}

func TestPipeline_EndToEndWithMocks(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	artifact := models.NewAudioArtifact([]byte("fake-webm-audio"), "audio/webm", 0)
	res := a.Pipeline.Run(ctx, artifact, pipelineContext("user-1"))

	if !res.OK() || res.Partial() {
		t.Fatalf("expected success, got error=%s notesError=%s", res.Error, res.NotesError)
	}
	if res.Transcript != MockTranscript {
		t.Errorf("expected mock transcript, got %q", res.Transcript)
	}
	if res.Notes == "" || res.AudioURL == "" {
		t.Errorf("expected notes and audio URL, got %+v", res)
	}

	lec, err := a.Lectures.Get(ctx, res.LectureID)
	if err != nil {
		t.Fatalf("expected lecture record, got %v", err)
	}
	if lec.TranscriptionStatus != lectures.StatusCompleted {
		t.Errorf("expected completed, got %s", lec.TranscriptionStatus)
	}
	if lec.AudioURL != res.AudioURL {
		t.Errorf("expected record URL %s, got %s", res.AudioURL, lec.AudioURL)
	}
}

func TestRecordingEvent(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	ev := RecordingEvent(session.Snapshot{
		SessionID:  "rec-1",
		DeviceID:   "dev-1",
		UserID:     "user-1",
		Platform:   capture.PlatformNative,
		StateName:  "FAILED",
		ErrorKind:  models.KindPermissionDenied,
		DurationMs: 0,
	}, at)

	if ev.EventType != "recording.state" || ev.State != "FAILED" || ev.Platform != "native" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.ErrorKind != "PermissionDenied" {
		t.Errorf("expected PermissionDenied, got %s", ev.ErrorKind)
	}
	if ev.Timestamp != 1700000000000 {
		t.Errorf("expected timestamp 1700000000000, got %d", ev.Timestamp)
	}
}

func pipelineContext(userID string) pipeline.PersistenceContext {
	return pipeline.PersistenceContext{UserID: userID}
}
