package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lecture-capture-service/internal/models"
	"lecture-capture-service/internal/service/capture"
)

// pipeConn is one end of an in-memory connection. Closing either end closes both.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   *sync.Once
}

func newPipe() (*pipeConn, *pipeConn) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: b2a, out: a2b, closed: closed, once: once}, &pipeConn{in: a2b, out: b2a, closed: closed, once: once}
}

func (c *pipeConn) ReadJSON(v any) error {
	select {
	case raw := <-c.in:
		return json.Unmarshal(raw, v)
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *pipeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.out <- raw:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func startPeer(t *testing.T) (*Peer, *pipeConn) {
	t.Helper()
	server, client := newPipe()
	p := NewPeer(server, WithCallTimeout(2*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()
	t.Cleanup(cancel)
	return p, client
}

func readEnvelope(t *testing.T, c *pipeConn) Envelope {
	t.Helper()
	var env Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Errorf("read failed: %v", err)
	}
	return env
}

func respond(t *testing.T, c *pipeConn, req Envelope, payload any, errMsg, kind string) {
	t.Helper()
	env := Envelope{ID: req.ID, Type: TypeResponse, Op: req.Op, Error: errMsg, Kind: kind}
	if payload != nil {
		raw, _ := json.Marshal(payload)
		env.Payload = raw
	}
	if err := c.WriteJSON(env); err != nil {
		t.Errorf("write failed: %v", err)
	}
}

func TestPeer_CallResponse(t *testing.T) {
	p, client := startPeer(t)

	go func() {
		req := readEnvelope(t, client)
		if req.Type != TypeRequest || req.Op != OpGetUserMedia {
			t.Errorf("expected request %s, got %s %s", OpGetUserMedia, req.Type, req.Op)
		}
		respond(t, client, req, recorderRef{StreamID: "s1"}, "", "")
	}()

	var ref recorderRef
	if err := p.Call(context.Background(), OpGetUserMedia, nil, &ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.StreamID != "s1" {
		t.Errorf("expected stream s1, got %q", ref.StreamID)
	}
}

func TestPeer_CallRemoteError(t *testing.T) {
	p, client := startPeer(t)

	go func() {
		req := readEnvelope(t, client)
		respond(t, client, req, nil, "NotAllowedError", string(models.KindPermissionDenied))
	}()

	err := p.Call(context.Background(), OpGetUserMedia, nil, nil)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Message != "NotAllowedError" {
		t.Errorf("expected message NotAllowedError, got %q", re.Message)
	}
	if !errors.Is(permissionError(err), capture.ErrPermissionDenied) {
		t.Error("expected permission error to map to capture.ErrPermissionDenied")
	}
}

func TestPeer_CallTimeout(t *testing.T) {
	p, _ := startPeer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Call(ctx, OpRecorderStart, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPipe_CloseEitherEnd(t *testing.T) {
	server, client := newPipe()
	_ = client.Close()
	_ = server.Close()
	_ = client.Close()

	var env Envelope
	if err := server.ReadJSON(&env); err == nil {
		t.Error("expected read on a closed pipe to fail")
	}
}

func TestPeer_CallFailsWhenClosed(t *testing.T) {
	p, client := startPeer(t)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Call(context.Background(), OpRecorderStop, nil, nil) }()

	readEnvelope(t, client)
	_ = client.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPeerClosed) {
			t.Errorf("expected ErrPeerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after close")
	}

	if err := p.Emit(EvNotice, nil); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("expected ErrPeerClosed on emit, got %v", err)
	}
}

func TestPeer_EventRouting(t *testing.T) {
	p, client := startPeer(t)

	specific := make(chan string, 4)
	fallback := make(chan string, 4)
	unsub := p.Subscribe(EvRecorderData, "r1", func(env Envelope) { specific <- env.ID })
	p.Subscribe(EvRecorderData, "", func(env Envelope) { fallback <- env.ID })

	send := func(id string) {
		if err := client.WriteJSON(Envelope{ID: id, Type: TypeEvent, Op: EvRecorderData}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	send("r1")
	send("r2")

	if got := <-specific; got != "r1" {
		t.Errorf("expected r1 on specific handler, got %s", got)
	}
	if got := <-fallback; got != "r2" {
		t.Errorf("expected r2 on fallback handler, got %s", got)
	}

	unsub()
	send("r1")
	if got := <-fallback; got != "r1" {
		t.Errorf("expected r1 on fallback after unsubscribe, got %s", got)
	}
}

func TestPeer_CancelBypassesCommandQueue(t *testing.T) {
	p, client := startPeer(t)

	_ = client.WriteJSON(Envelope{ID: "1", Type: TypeCommand, Op: CmdStop})
	_ = client.WriteJSON(Envelope{ID: "2", Type: TypeCommand, Op: CmdCancel})

	select {
	case env := <-p.Interrupts():
		if env.ID != "2" {
			t.Errorf("expected cancel id 2, got %s", env.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel not delivered")
	}
	select {
	case env := <-p.Commands():
		if env.Op != CmdStop {
			t.Errorf("expected stop command, got %s", env.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("stop not delivered")
	}
}

func TestPeer_ReplyCarriesKind(t *testing.T) {
	p, client := startPeer(t)

	err := models.NewError(models.KindEmptyCapture, "nothing was recorded", nil)
	if rErr := p.Reply(Envelope{ID: "7", Op: CmdStop}, nil, err); rErr != nil {
		t.Fatalf("unexpected error: %v", rErr)
	}

	env := readEnvelope(t, client)
	if env.Type != TypeResponse || env.ID != "7" {
		t.Errorf("expected response 7, got %s %s", env.Type, env.ID)
	}
	if env.Kind != string(models.KindEmptyCapture) {
		t.Errorf("expected kind EmptyCapture, got %s", env.Kind)
	}
	if env.Error != "nothing was recorded" {
		t.Errorf("expected message, got %q", env.Error)
	}
}
