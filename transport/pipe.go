package transport

import (
	"sync"
)

// PipeTransport is an in-process Transport. Pipe creates two ends wired
// together: frames sent on one end are received on the other. It is mainly
// used where both peers live in the same process, and in tests.
type PipeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	peer   *PipeTransport
}

var _ Transport = (*PipeTransport)(nil)

// Pipe returns two connected transport ends. Closing either end closes both.
func Pipe() (*PipeTransport, *PipeTransport) {
	a := &PipeTransport{}
	b := &PipeTransport{}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *PipeTransport) Send(frame []byte) error {
	p.peer.mu.Lock()
	defer p.peer.mu.Unlock()
	if p.peer.closed {
		return ErrClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	p.peer.frames = append(p.peer.frames, cp)
	return nil
}

func (p *PipeTransport) Receive() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Frames queued before the close are still delivered; ErrClosed only
	// once the queue runs dry.
	if len(p.frames) > 0 {
		frame := p.frames[0]
		p.frames = p.frames[1:]
		return frame, nil
	}
	if p.closed {
		return nil, ErrClosed
	}
	return nil, nil
}

func (p *PipeTransport) Close() error {
	p.closeEnd()
	p.peer.closeEnd()
	return nil
}

func (p *PipeTransport) closeEnd() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
