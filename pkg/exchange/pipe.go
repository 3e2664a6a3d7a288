package exchange

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Pipe is a bidirectional in-memory connection pair for tests and
// examples. It wraps pion's test.Bridge and pumps queued messages from
// a background goroutine, so traffic flows without manual delivery.
type Pipe struct {
	bridge *test.Bridge

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipe creates a connected pipe with automatic message delivery.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopCh: make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()

	return p
}

// Conn0 returns the connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return p.bridge.GetConn0()
}

// Conn1 returns the connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return p.bridge.GetConn1()
}

// Process delivers all queued messages immediately.
func (p *Pipe) Process() {
	for p.bridge.Tick() > 0 {
	}
}

// Close stops delivery and closes both endpoints. Safe to call twice.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}
