// Package conntest provides an in-memory Transport for exercising code that
// depends on a conn.Manager without a network.
package conntest

import (
	"context"
	"errors"
	"sync"

	"smartweb-monitor/internal/conn"
)

// Transport hands out in-memory sockets. The zero value is not usable; call
// NewTransport.
type Transport struct {
	mu      sync.Mutex
	fail    error
	gate    chan struct{}
	dials   int
	sockets []*Socket
	onDial  func(*Socket)
}

func NewTransport() *Transport {
	return &Transport{}
}

// Dial implements conn.Transport.
func (t *Transport) Dial(ctx context.Context, endpoint string) (conn.Socket, error) {
	t.mu.Lock()
	t.dials++
	gate := t.gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	fail := t.fail
	onDial := t.onDial
	if fail != nil {
		t.mu.Unlock()
		return nil, fail
	}
	s := newSocket()
	t.sockets = append(t.sockets, s)
	t.mu.Unlock()

	if onDial != nil {
		onDial(s)
	}
	return s, nil
}

// FailWith makes subsequent dials fail with err. nil restores success.
func (t *Transport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

// OnDial registers fn to run on each new socket before Dial returns it.
// Frames delivered from fn are read right after the connection opens.
func (t *Transport) OnDial(fn func(*Socket)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDial = fn
}

// Block holds subsequent dials until Release or until the dial context is
// cancelled.
func (t *Transport) Block() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = make(chan struct{})
}

func (t *Transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gate != nil {
		close(t.gate)
		t.gate = nil
	}
}

// Dials returns how many times Dial was called.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Last returns the most recently opened socket, or nil.
func (t *Transport) Last() *Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sockets) == 0 {
		return nil
	}
	return t.sockets[len(t.sockets)-1]
}

// Sockets returns every socket opened so far.
func (t *Transport) Sockets() []*Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Socket(nil), t.sockets...)
}

// ErrClosed is returned by writes to a closed socket.
var ErrClosed = errors.New("conntest: socket closed")

// Socket is one in-memory connection. Frames queued with Deliver are
// returned by Read in order.
type Socket struct {
	frames chan string
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	readErr   error
	closeCode int
	written   []string
	writeErr  error
}

func newSocket() *Socket {
	return &Socket{
		frames: make(chan string, 256),
		done:   make(chan struct{}),
	}
}

func (s *Socket) Read(ctx context.Context) (string, error) {
	// Pending frames win over a close.
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		select {
		case f := <-s.frames:
			return f, nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return "", s.readErr
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Socket) Write(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.written = append(s.written, text)
	return nil
}

// Close records a client-initiated close.
func (s *Socket) Close(code int, reason string) error {
	s.finish(code, &conn.CloseError{Code: code, Reason: reason}, true)
	return nil
}

// Deliver queues a frame from the peer.
func (s *Socket) Deliver(frame string) {
	s.frames <- frame
}

// Drop closes the socket from the peer side with code.
func (s *Socket) Drop(code int) {
	s.finish(code, &conn.CloseError{Code: code}, false)
}

// FailWrites makes every later Write return err.
func (s *Socket) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *Socket) finish(code int, err error, client bool) {
	s.once.Do(func() {
		s.mu.Lock()
		s.readErr = err
		if client {
			s.closeCode = code
		}
		s.mu.Unlock()
		close(s.done)
	})
}

// Written returns the frames written by the client.
func (s *Socket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// CloseCode returns the code the client closed with, or 0.
func (s *Socket) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

// Closed reports whether either side has closed the socket.
func (s *Socket) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
