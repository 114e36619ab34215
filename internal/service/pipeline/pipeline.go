// Package pipeline runs a finalized recording through upload, transcription, note
// generation and reorganization, reporting each stage independently.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/ids"
	"lecture-capture-service/internal/service/lectures"
	"lecture-capture-service/internal/service/notes"
)

// Stage names a pipeline step.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageTranscribe Stage = "transcribe"
	StageNotes      Stage = "notes"
	StageRecord     Stage = "record"
	StageReorganize Stage = "reorganize"
)

// Audio stores and moves recorded audio.
type Audio interface {
	Upload(ctx context.Context, userID, tempID string, artifact *models.AudioArtifact) (*models.PersistedAudioRecord, error)
	ReorganizeRecord(ctx context.Context, rec *models.PersistedAudioRecord, finalID string) (*models.PersistedAudioRecord, error)
}

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact *models.AudioArtifact) models.TranscriptionResult
}

// NoteTaker turns a transcript into notes.
type NoteTaker interface {
	Generate(ctx context.Context, transcript string, opts notes.Options) models.NotesResult
}

// StagePublisher receives one event per executed stage.
type StagePublisher interface {
	PublishStage(ctx context.Context, event models.PipelineStageEvent) error
}

// PersistenceContext identifies where a run stores its outputs. Empty ids are generated.
type PersistenceContext struct {
	UserID    string
	TempID    string
	LectureID string
	Options   notes.Options
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage     Stage            `json:"stage"`
	OK        bool             `json:"ok"`
	ErrorKind models.ErrorKind `json:"errorKind,omitempty"`
	Message   string           `json:"message,omitempty"`
	LatencyMs int64            `json:"latencyMs"`
}

// Result is the outcome of a run. Transcript and Notes are empty when their stage
// did not succeed. Error is set when the run stopped before a transcript existed
// or was cancelled. Later failures only set NotesError or RecordError.
type Result struct {
	UserID       string                       `json:"userId"`
	TempID       string                       `json:"tempId"`
	LectureID    string                       `json:"lectureId"`
	Transcript   string                       `json:"transcript"`
	Notes        string                       `json:"notes"`
	AudioURL     string                       `json:"audioUrl"`
	Record       *models.PersistedAudioRecord `json:"record,omitempty"`
	Error        models.ErrorKind             `json:"error,omitempty"`
	Message      string                       `json:"message,omitempty"`
	NotesError   models.ErrorKind             `json:"notesError,omitempty"`
	NotesMessage string                       `json:"notesMessage,omitempty"`
	RecordError  models.ErrorKind             `json:"recordError,omitempty"`
	RecordMsg    string                       `json:"recordMessage,omitempty"`
	Stages       []StageResult                `json:"stages"`
}

// OK reports whether the transcript was produced.
func (r *Result) OK() bool { return r.Error == models.KindNone }

// Partial reports a transcript whose notes or lecture record could not be produced.
func (r *Result) Partial() bool {
	return r.OK() && (r.NotesError != models.KindNone || r.RecordError != models.KindNone)
}

func (r *Result) outcome() string {
	switch {
	case r.Error == models.KindCancelled:
		return "cancelled"
	case !r.OK():
		return "failed"
	case r.Partial():
		return "partial"
	default:
		return "success"
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher reports stages to p.
func WithPublisher(p StagePublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the notes pipeline. Stages run strictly in order.
type Orchestrator struct {
	audio       Audio
	transcriber Transcriber
	notes       NoteTaker
	lectures    lectures.Store
	publisher   StagePublisher
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New creates an orchestrator. A nil lecture store skips the record stage.
func New(audio Audio, transcriber Transcriber, notes NoteTaker, store lectures.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		audio:       audio,
		transcriber: transcriber,
		notes:       notes,
		lectures:    store,
		metrics:     metrics.DefaultMetrics,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds per-call state.
type run struct {
	o      *Orchestrator
	res    *Result
	logger zerolog.Logger
}

// Run executes the pipeline for a finalized artifact. It never panics on stage
// failures; every failure is reported in the result.
func (o *Orchestrator) Run(ctx context.Context, artifact *models.AudioArtifact, pc PersistenceContext) *Result {
	if pc.TempID == "" {
		pc.TempID = ids.NewTempID()
	}
	if pc.LectureID == "" {
		pc.LectureID = ids.NewLectureID()
	}

	r := &run{
		o: o,
		res: &Result{
			UserID:    pc.UserID,
			TempID:    pc.TempID,
			LectureID: pc.LectureID,
			Stages:    make([]StageResult, 0, 5),
		},
		logger: logging.WithLecture(pc.UserID, pc.LectureID).With().Str("tempId", pc.TempID).Logger(),
	}
	r.execute(ctx, artifact, pc)

	o.metrics.RecordPipelineRun(r.res.outcome())
	r.logger.Info().
		Str("outcome", r.res.outcome()).
		Str("error", string(r.res.Error)).
		Str("notesError", string(r.res.NotesError)).
		Str("recordError", string(r.res.RecordError)).
		Str("audioUrl", r.res.AudioURL).
		Msg("Pipeline finished")
	return r.res
}

func (r *run) execute(ctx context.Context, artifact *models.AudioArtifact, pc PersistenceContext) {
	res := r.res

	// Upload.
	if r.cancelled(ctx) {
		return
	}
	start := r.o.now()
	rec, err := r.o.audio.Upload(ctx, pc.UserID, pc.TempID, artifact)
	if err != nil {
		kind := models.KindOf(err)
		if kind == models.KindNone {
			kind = models.KindUploadFailed
		}
		r.stage(ctx, StageUpload, start, kind, models.MessageOf(err))
		res.Error, res.Message = kind, models.MessageOf(err)
		return
	}
	res.Record = rec
	res.AudioURL = rec.PublicURL
	r.stage(ctx, StageUpload, start, models.KindNone, "")

	// Transcribe.
	if r.cancelled(ctx) {
		return
	}
	start = r.o.now()
	tr := r.o.transcriber.Transcribe(ctx, artifact)
	if !tr.OK {
		r.stage(ctx, StageTranscribe, start, tr.ErrorKind, tr.Message)
		res.Error, res.Message = tr.ErrorKind, tr.Message
		if tr.ErrorKind != models.KindCancelled {
			r.writeRecord(ctx, lectures.StatusFailed)
		}
		return
	}
	res.Transcript = tr.Value
	r.stage(ctx, StageTranscribe, start, models.KindNone, "")

	// Notes.
	if r.cancelled(ctx) {
		return
	}
	start = r.o.now()
	nr := r.o.notes.Generate(ctx, res.Transcript, pc.Options)
	if !nr.OK {
		r.stage(ctx, StageNotes, start, nr.ErrorKind, nr.Message)
		if nr.ErrorKind == models.KindCancelled {
			res.Error, res.Message = models.KindCancelled, nr.Message
			return
		}
		res.NotesError, res.NotesMessage = nr.ErrorKind, nr.Message
	} else {
		res.Notes = nr.Value
		r.stage(ctx, StageNotes, start, models.KindNone, "")
	}

	// Record.
	if r.cancelled(ctx) {
		return
	}
	status := lectures.StatusCompleted
	if res.NotesError != models.KindNone {
		status = lectures.StatusNotesFailed
	}
	if !r.writeRecord(ctx, status) {
		return
	}

	// Reorganize.
	if r.cancelled(ctx) {
		return
	}
	start = r.o.now()
	moved, err := r.o.audio.ReorganizeRecord(ctx, rec, pc.LectureID)
	if err != nil {
		r.stage(ctx, StageReorganize, start, kindOr(err, models.KindStorageUnavailable), models.MessageOf(err))
		r.logger.Warn().Err(err).Str("audioUrl", res.AudioURL).Msg("Reorganize failed, keeping temp audio url")
		r.cancelled(ctx)
		return
	}
	res.Record = moved
	res.AudioURL = moved.PublicURL
	r.stage(ctx, StageReorganize, start, models.KindNone, "")

	if r.o.lectures != nil {
		if err := r.o.lectures.UpdateAudioURL(ctx, pc.LectureID, moved.PublicURL); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to update lecture audio url")
		}
	}
}

// writeRecord creates the lecture row. It reports false when the row was not written,
// in which case reorganize is skipped and the temp audio url stays valid.
func (r *run) writeRecord(ctx context.Context, status lectures.Status) bool {
	if r.o.lectures == nil {
		return true
	}
	res := r.res
	start := r.o.now()
	err := r.o.lectures.Create(ctx, &lectures.Lecture{
		LectureID:           res.LectureID,
		UserID:              res.UserID,
		AudioURL:            res.AudioURL,
		TranscriptionStatus: status,
		Transcript:          res.Transcript,
		Notes:               res.Notes,
	})
	if err != nil {
		kind := models.KindStorageUnavailable
		if ctx.Err() != nil {
			kind = models.KindCancelled
		}
		r.stage(ctx, StageRecord, start, kind, err.Error())
		r.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to write lecture record")
		if kind == models.KindCancelled {
			r.cancelled(ctx)
		} else {
			res.RecordError, res.RecordMsg = kind, "failed to save lecture"
		}
		return false
	}
	r.stage(ctx, StageRecord, start, models.KindNone, "")
	return true
}

// cancelled marks the result cancelled when ctx is done.
func (r *run) cancelled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	r.res.Error, r.res.Message = models.KindCancelled, "pipeline cancelled"
	return true
}

func (r *run) stage(ctx context.Context, stage Stage, start time.Time, kind models.ErrorKind, msg string) {
	latency := r.o.now().Sub(start)
	sr := StageResult{
		Stage:     stage,
		OK:        kind == models.KindNone,
		ErrorKind: kind,
		Message:   msg,
		LatencyMs: latency.Milliseconds(),
	}
	r.res.Stages = append(r.res.Stages, sr)

	outcome := "ok"
	if !sr.OK {
		outcome = string(kind)
	}
	r.o.metrics.RecordStage(string(stage), outcome, latency.Seconds())

	logger := logging.WithStage(r.res.UserID, r.res.TempID, string(stage))
	if sr.OK {
		logger.Debug().Dur("latency", latency).Msg("Stage completed")
	} else {
		logger.Warn().Str("errorKind", string(kind)).Str("message", msg).Dur("latency", latency).Msg("Stage failed")
	}

	if r.o.publisher == nil {
		return
	}
	event := models.PipelineStageEvent{
		EventType: "pipeline.stage",
		UserID:    r.res.UserID,
		TempID:    r.res.TempID,
		LectureID: r.res.LectureID,
		Stage:     string(stage),
		OK:        sr.OK,
		ErrorKind: string(kind),
		Message:   msg,
		LatencyMs: sr.LatencyMs,
		Timestamp: r.o.now().UnixMilli(),
	}
	// The event outlives a cancelled run.
	if err := r.o.publisher.PublishStage(context.WithoutCancel(ctx), event); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish stage event")
	}
}

func kindOr(err error, fallback models.ErrorKind) models.ErrorKind {
	if k := models.KindOf(err); k != models.KindNone {
		return k
	}
	return fallback
}
