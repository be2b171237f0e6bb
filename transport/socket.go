package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/alarouche/czrpc/logger"
	"github.com/alarouche/czrpc/protocol"
)

const (
	defaultMaxFrameSize = 16 * 1024 * 1024
	writeQueueMaxSize   = 1000
	maxBlockTime        = 5 * time.Second
)

// SocketTransport adapts an already-established net.Conn to the Transport
// contract. A read loop reassembles exactly one frame at a time from the
// byte stream (header first, then the remaining frameSize bytes) into a
// buffered channel; a write loop drains a bounded queue, so Send never
// blocks on the peer.
type SocketTransport struct {
	conn         net.Conn
	inCh         chan []byte
	writeCh      chan []byte
	done         chan struct{}
	cancelWrites context.CancelFunc
	writeCtx     context.Context
	closeOnce    sync.Once

	mu      sync.Mutex
	closed  bool
	readErr error // protocol-fatal decode failure, if any

	maxFrameSize int
	limiter      *rate.Limiter
}

var _ Transport = (*SocketTransport)(nil)

// SocketOption configures a SocketTransport.
type SocketOption func(*SocketTransport)

// WithMaxFrameSize caps the size of inbound frames. Anything larger is
// treated as stream corruption.
func WithMaxFrameSize(n int) SocketOption {
	return func(s *SocketTransport) {
		s.maxFrameSize = n
	}
}

// WithSendLimiter paces outbound frames with a token bucket. The write loop
// waits for a token before each write, so callers queueing frames are never
// throttled directly.
func WithSendLimiter(l *rate.Limiter) SocketOption {
	return func(s *SocketTransport) {
		s.limiter = l
	}
}

// NewSocketTransport wraps conn and starts the read and write loops. The
// transport owns conn from here on; Close tears it down.
func NewSocketTransport(conn net.Conn, opts ...SocketOption) *SocketTransport {
	writeCtx, cancel := context.WithCancel(context.Background())
	s := &SocketTransport{
		conn:         conn,
		inCh:         make(chan []byte, 128),
		writeCh:      make(chan []byte, writeQueueMaxSize),
		done:         make(chan struct{}),
		writeCtx:     writeCtx,
		cancelWrites: cancel,
		maxFrameSize: defaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *SocketTransport) Send(frame []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case s.writeCh <- frame:
		return nil
	case <-s.done:
		return ErrClosed
	case <-time.After(maxBlockTime):
		logger.Warnf("socket transport: timed out waiting to queue outbound frame")
		return errors.New("timed out waiting to queue frame")
	}
}

func (s *SocketTransport) Receive() ([]byte, error) {
	select {
	case frame, ok := <-s.inCh:
		if !ok {
			return nil, s.closedErr()
		}
		return frame, nil
	default:
		return nil, nil
	}
}

// closedErr distinguishes a clean shutdown from stream corruption. After a
// local Close the answer is always ErrClosed; the embedder already decided
// to tear the connection down.
func (s *SocketTransport) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.readErr != nil {
		return s.readErr
	}
	return ErrClosed
}

func (s *SocketTransport) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.cancelWrites()
		if err := s.conn.Close(); err != nil {
			// Might already be closed by the peer.
		}
	})
	return nil
}

func (s *SocketTransport) readLoop() {
	for {
		header := make([]byte, protocol.HeaderSize)
		if _, err := io.ReadFull(s.conn, header); err != nil {
			s.finishRead(classifyReadErr(err, false))
			return
		}
		size, err := protocol.ParseSize(header)
		if err != nil {
			s.finishRead(err)
			return
		}
		if size > s.maxFrameSize {
			s.finishRead(errors.Errorf("frame size %d exceeds limit %d", size, s.maxFrameSize))
			return
		}
		frame := make([]byte, size)
		copy(frame, header)
		if _, err := io.ReadFull(s.conn, frame[protocol.HeaderSize:]); err != nil {
			s.finishRead(classifyReadErr(err, true))
			return
		}
		select {
		case s.inCh <- frame:
		case <-s.done:
			close(s.inCh)
			return
		}
	}
}

// classifyReadErr separates a peer hanging up at a frame boundary (clean
// close, nil) from a stream cut mid-frame (truncated frame, protocol-fatal).
func classifyReadErr(err error, midFrame bool) error {
	if errors.Is(err, io.EOF) && !midFrame {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.New("truncated frame: stream closed mid-frame")
	}
	return nil // read error on a dying conn, not corruption
}

func (s *SocketTransport) finishRead(decodeErr error) {
	s.mu.Lock()
	if decodeErr != nil && !s.closed {
		s.readErr = decodeErr
		logger.Warnf("socket transport: %v", decodeErr)
	}
	s.mu.Unlock()
	close(s.inCh)
}

func (s *SocketTransport) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.writeCh:
			if s.limiter != nil {
				if err := s.limiter.Wait(s.writeCtx); err != nil {
					return
				}
			}
			if _, err := s.conn.Write(frame); err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if !closed {
					logger.Warnf("socket transport: write failed: %v", err)
					// Stop the read loop too so pending calls get failed.
					_ = s.conn.Close()
				}
				return
			}
		}
	}
}
