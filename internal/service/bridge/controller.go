package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
	"lecture-capture-service/internal/observability/metrics"
	"lecture-capture-service/internal/service/capture"
	"lecture-capture-service/internal/service/capture/browser"
	"lecture-capture-service/internal/service/ids"
	"lecture-capture-service/internal/service/live"
	"lecture-capture-service/internal/service/notes"
	"lecture-capture-service/internal/service/notify"
	"lecture-capture-service/internal/service/pipeline"
	"lecture-capture-service/internal/service/session"
	"lecture-capture-service/internal/service/stt"
)

// Runner processes a finalized recording.
type Runner interface {
	Run(ctx context.Context, artifact *models.AudioArtifact, pc pipeline.PersistenceContext) *pipeline.Result
}

// ControllerConfig wires a Controller. Only UserID is required.
type ControllerConfig struct {
	UserID   string
	Lock     session.DeviceLock
	Observer session.Observer
	Pipeline Runner
	// LiveFactory runs live transcription on the service (mock or Google streaming).
	LiveFactory stt.Factory
	// ClientSpeech, when set, runs live transcription on the client's recognizer
	// instead of LiveFactory.
	ClientSpeech *SpeechConfig
	LiveOptions  []live.Option
	Metrics      *metrics.Metrics
}

// StartRequest is the payload of a start command.
type StartRequest struct {
	DeviceID string           `json:"deviceId" validate:"required,max=128"`
	Platform capture.Platform `json:"platform" validate:"required,oneof=browser native"`
	Live     bool             `json:"live"`
	Title    string           `json:"title,omitempty"`
	Subject  string           `json:"subject,omitempty"`
	Language string           `json:"language,omitempty"`
	Detail   string           `json:"detail,omitempty" validate:"omitempty,oneof=brief detailed"`
}

// StopReply is sent in response to stop. The pipeline result follows as a
// pipeline.result event carrying the same ids.
type StopReply struct {
	Session    session.Snapshot      `json:"session"`
	TempID     string                `json:"tempId,omitempty"`
	LectureID  string                `json:"lectureId,omitempty"`
	Bytes      int64                 `json:"bytes"`
	MimeType   string                `json:"mimeType"`
	DurationMs int64                 `json:"durationMs"`
	Live       models.LiveTranscript `json:"live"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Controller owns the recording session of one connected client and runs the
// pipeline when it stops.
type Controller struct {
	peer   *Peer
	cfg    ControllerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	session  *session.Session
	request  StartRequest
	pipeWG   sync.WaitGroup
	pipeStop context.CancelFunc
}

// NewController binds a controller to peer.
func NewController(peer *Peer, cfg ControllerConfig) *Controller {
	if cfg.Lock == nil {
		cfg.Lock = session.NewMemoryLock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	return &Controller{
		peer:   peer,
		cfg:    cfg,
		logger: logging.WithComponent("bridge.controller").With().Str("userId", cfg.UserID).Logger(),
	}
}

// Serve runs the peer and handles commands until the client disconnects or ctx
// ends. The session and any running pipeline are cancelled on return.
func (c *Controller) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- c.peer.Run(ctx) }()

	go func() {
		for {
			select {
			case cmd := <-c.peer.Interrupts():
				c.handleCancel(ctx, cmd)
			case <-c.peer.Done():
				return
			}
		}
	}()

	c.logger.Info().Msg("Client connected")

	var err error
loop:
	for {
		select {
		case cmd := <-c.peer.Commands():
			c.handle(ctx, cmd)
		case err = <-runErr:
			break loop
		}
	}

	c.teardown(context.WithoutCancel(ctx))
	c.logger.Info().Err(err).Msg("Client disconnected")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) handle(ctx context.Context, cmd Envelope) {
	var (
		payload any
		err     error
	)
	switch cmd.Op {
	case CmdStart:
		payload, err = c.start(ctx, cmd)
	case CmdPause:
		payload, err = c.withSession(func(s *session.Session) error { return s.Pause(ctx) })
	case CmdResume:
		payload, err = c.withSession(func(s *session.Session) error { return s.Resume(ctx) })
	case CmdStop:
		payload, err = c.stop(ctx)
	case CmdStatus:
		payload, err = c.withSession(func(*session.Session) error { return nil })
	default:
		err = fmt.Errorf("unknown command %q", cmd.Op)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("op", cmd.Op).Msg("Command rejected")
	}
	if rErr := c.peer.Reply(cmd, payload, err); rErr != nil {
		c.logger.Debug().Err(rErr).Str("op", cmd.Op).Msg("Reply not delivered")
	}
}

func (c *Controller) start(ctx context.Context, cmd Envelope) (any, error) {
	var req StartRequest
	if err := cmd.Decode(&req); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid start request: %w", err)
	}

	c.mu.Lock()
	if c.session != nil && c.session.State().IsActive() {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", session.ErrInvalidTransition, c.session.State())
	}
	s := c.newSession(req)
	c.session = s
	c.request = req
	c.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

func (c *Controller) newSession(req StartRequest) *session.Session {
	clientNotices := notify.Func(func(_ context.Context, n notify.Notice) {
		_ = c.peer.Emit(EvNotice, n)
	})
	opts := []session.Option{
		session.WithDeviceLock(c.cfg.Lock),
		session.WithMetrics(c.cfg.Metrics),
		session.WithNotifier(notify.Multi{clientNotices, notify.Log{Logger: c.logger}}),
		session.WithObserver(session.ObserverFunc(c.onStateChange)),
	}
	if req.Live {
		switch {
		case c.cfg.ClientSpeech != nil:
			sc := *c.cfg.ClientSpeech
			if req.Language != "" {
				sc.Language = req.Language
			}
			opts = append(opts, session.WithLive(SpeechFactory(c.peer, sc), c.cfg.LiveOptions...))
		case c.cfg.LiveFactory != nil:
			opts = append(opts, session.WithLive(c.cfg.LiveFactory, c.cfg.LiveOptions...))
		}
	}
	return session.New(session.Config{
		ID:       ids.NewSessionID(),
		DeviceID: req.DeviceID,
		UserID:   c.cfg.UserID,
		Platform: req.Platform,
	}, Backends(c.peer, browser.WithMetrics(c.cfg.Metrics)), opts...)
}

func (c *Controller) onStateChange(ctx context.Context, snap session.Snapshot) {
	if err := c.peer.Emit(EvSessionState, snap); err != nil {
		c.logger.Debug().Err(err).Msg("State event not delivered")
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.OnStateChange(ctx, snap)
	}
}

func (c *Controller) withSession(fn func(*session.Session) error) (any, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: no session", session.ErrInvalidTransition)
	}
	err := fn(s)
	return s.Snapshot(), err
}

func (c *Controller) stop(ctx context.Context) (any, error) {
	c.mu.Lock()
	s := c.session
	req := c.request
	c.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("%w: no session", session.ErrInvalidTransition)
	}

	res, err := s.Stop(ctx)
	if err != nil {
		return s.Snapshot(), err
	}

	reply := StopReply{
		Session:    s.Snapshot(),
		Bytes:      res.Artifact.SizeBytes,
		MimeType:   res.Artifact.MimeType,
		DurationMs: res.Duration.Milliseconds(),
		Live:       res.LiveTranscript,
	}
	if c.cfg.Pipeline == nil {
		return reply, nil
	}

	pc := pipeline.PersistenceContext{
		UserID:    c.cfg.UserID,
		TempID:    ids.NewTempID(),
		LectureID: ids.NewLectureID(),
		Options: notes.Options{
			Title:    req.Title,
			Subject:  req.Subject,
			Language: req.Language,
			Detail:   req.Detail,
		},
	}
	reply.TempID = pc.TempID
	reply.LectureID = pc.LectureID
	c.process(ctx, res.Artifact, pc)
	return reply, nil
}

// process runs the pipeline in the background so the client can keep issuing
// commands. Cancel and disconnect abort it.
func (c *Controller) process(ctx context.Context, artifact *models.AudioArtifact, pc pipeline.PersistenceContext) {
	pipeCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.pipeStop != nil {
		// a previous recording may still be processing; it keeps running
		prev := c.pipeStop
		c.pipeStop = func() { prev(); cancel() }
	} else {
		c.pipeStop = cancel
	}
	c.mu.Unlock()

	c.pipeWG.Add(1)
	go func() {
		defer c.pipeWG.Done()
		defer cancel()
		result := c.cfg.Pipeline.Run(pipeCtx, artifact, pc)
		if err := c.peer.Emit(EvPipelineResult, result); err != nil {
			c.logger.Warn().Err(err).Str("lectureId", pc.LectureID).Msg("Pipeline result not delivered")
		}
	}()
}

func (c *Controller) handleCancel(ctx context.Context, cmd Envelope) {
	c.mu.Lock()
	s := c.session
	stop := c.pipeStop
	c.pipeStop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	var payload any
	if s != nil {
		_ = s.Cancel(ctx)
		payload = s.Snapshot()
	}
	if err := c.peer.Reply(cmd, payload, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Cancel reply not delivered")
	}
}

func (c *Controller) teardown(ctx context.Context) {
	c.mu.Lock()
	s := c.session
	stop := c.pipeStop
	c.pipeStop = nil
	c.mu.Unlock()

	if s != nil {
		_ = s.Cancel(ctx)
	}
	if stop != nil {
		stop()
	}
	c.pipeWG.Wait()
}
