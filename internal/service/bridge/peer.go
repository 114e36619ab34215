package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/observability/logging"
)

// DefaultCallTimeout bounds a request when the caller's context has no deadline.
const DefaultCallTimeout = 30 * time.Second

// ErrPeerClosed is returned by calls on a peer whose connection has gone away.
var ErrPeerClosed = errors.New("bridge peer closed")

// Conn is the subset of *websocket.Conn the peer uses.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// EventHandler receives an event payload. Handlers run on the reader goroutine in
// arrival order and must not block on the peer.
type EventHandler func(env Envelope)

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) PeerOption {
	return func(p *Peer) { p.timeout = d }
}

// WithPeerLogger overrides the peer logger.
func WithPeerLogger(l zerolog.Logger) PeerOption {
	return func(p *Peer) { p.logger = l }
}

// Peer multiplexes requests, responses and events over one connection.
// One goroutine reads (Run); writes are serialized by writeMu.
type Peer struct {
	conn    Conn
	timeout time.Duration
	logger  zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan Envelope
	handlers map[string]EventHandler

	nextID     atomic.Uint64
	commands   chan Envelope
	interrupts chan Envelope
	done       chan struct{}
	closeOnce  sync.Once
}

// NewPeer wraps an established connection. Call Run to start reading.
func NewPeer(conn Conn, opts ...PeerOption) *Peer {
	p := &Peer{
		conn:       conn,
		timeout:    DefaultCallTimeout,
		logger:     logging.WithComponent("bridge"),
		pending:    make(map[string]chan Envelope),
		handlers:   make(map[string]EventHandler),
		commands:   make(chan Envelope, 16),
		interrupts: make(chan Envelope, 4),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Commands delivers client commands except cancel, in arrival order.
func (p *Peer) Commands() <-chan Envelope { return p.commands }

// Interrupts delivers cancel commands. They bypass the command queue so a cancel
// can interrupt a command that is blocked on the client.
func (p *Peer) Interrupts() <-chan Envelope { return p.interrupts }

// Done is closed when the read loop exits.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Run reads frames until the connection fails or ctx ends. Pending calls fail with
// ErrPeerClosed when it returns.
func (p *Peer) Run(ctx context.Context) error {
	defer p.shutdown()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.conn.Close()
		case <-p.done:
		}
	}()

	for {
		var env Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.dispatch(env)
	}
}

func (p *Peer) dispatch(env Envelope) {
	switch env.Type {
	case TypeResponse:
		p.mu.Lock()
		ch, ok := p.pending[env.ID]
		delete(p.pending, env.ID)
		p.mu.Unlock()
		if !ok {
			p.logger.Debug().Str("id", env.ID).Str("op", env.Op).Msg("Response for unknown request dropped")
			return
		}
		ch <- env

	case TypeEvent:
		p.mu.Lock()
		h, ok := p.handlers[handlerKey(env.Op, env.ID)]
		if !ok {
			h, ok = p.handlers[env.Op]
		}
		p.mu.Unlock()
		if !ok {
			p.logger.Debug().Str("op", env.Op).Str("id", env.ID).Msg("Unhandled event dropped")
			return
		}
		h(env)

	case TypeCommand:
		target := p.commands
		if env.Op == CmdCancel {
			target = p.interrupts
		}
		select {
		case target <- env:
		default:
			p.logger.Warn().Str("op", env.Op).Msg("Command queue full, rejecting")
			_ = p.Reply(env, nil, models.NewError(models.KindServiceUnavailable, "too many queued commands", nil))
		}

	default:
		p.logger.Debug().Str("type", string(env.Type)).Msg("Unknown frame type dropped")
	}
}

// Subscribe routes events named op for resource id to h. An empty id matches any
// event of that op with no more specific handler. The returned func unsubscribes.
func (p *Peer) Subscribe(op, id string, h EventHandler) func() {
	key := handlerKey(op, id)
	p.mu.Lock()
	p.handlers[key] = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, key)
		p.mu.Unlock()
	}
}

func handlerKey(op, id string) string {
	if id == "" {
		return op
	}
	return op + "#" + id
}

// Call sends a request and waits for its response. A response carrying an error
// is returned as *RemoteError; out receives the payload otherwise.
func (p *Peer) Call(ctx context.Context, op string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	id := strconv.FormatUint(p.nextID.Add(1), 10)
	ch := make(chan Envelope, 1)

	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return ErrPeerClosed
	default:
	}
	p.pending[id] = ch
	p.mu.Unlock()

	forget := func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}

	if err := p.send(TypeRequest, id, op, in, nil); err != nil {
		forget()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrPeerClosed
		}
		if resp.Error != "" {
			return &RemoteError{Op: op, Kind: models.ErrorKind(resp.Kind), Message: resp.Error}
		}
		return resp.Decode(out)
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Emit sends an event to the client.
func (p *Peer) Emit(op string, payload any) error {
	return p.send(TypeEvent, "", op, payload, nil)
}

// Reply answers a client command. A non-nil err is sent with its kind.
func (p *Peer) Reply(cmd Envelope, payload any, err error) error {
	return p.send(TypeResponse, cmd.ID, cmd.Op, payload, err)
}

func (p *Peer) send(typ MessageType, id, op string, payload any, err error) error {
	env := Envelope{ID: id, Type: typ, Op: op}
	if payload != nil {
		raw, mErr := json.Marshal(payload)
		if mErr != nil {
			return fmt.Errorf("encode %s payload: %w", op, mErr)
		}
		env.Payload = raw
	}
	if err != nil {
		env.Error = models.MessageOf(err)
		env.Kind = string(models.KindOf(err))
	}

	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if wErr := p.conn.WriteJSON(env); wErr != nil {
		return fmt.Errorf("write %s: %w", op, wErr)
	}
	return nil
}

// Close closes the connection, which ends Run.
func (p *Peer) Close() error {
	return p.conn.Close()
}

func (p *Peer) shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.done)
		for id, ch := range p.pending {
			close(ch)
			delete(p.pending, id)
		}
		p.mu.Unlock()
		_ = p.conn.Close()
	})
}
