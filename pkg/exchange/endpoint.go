// Package exchange carries protocol messages between two peers over a
// net.Conn. Each frame is an opcode followed by a length-prefixed
// payload; frames split or coalesced by a stream transport are
// reassembled on read. An Endpoint tracks at most one outstanding
// response and reports the peer going silent as a timeout.
package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// Frame layout: opcode (1) || payload length (2, little-endian) || payload.
const (
	frameHeaderSize = 3
	maxPayloadSize  = 1<<16 - 1

	// DefaultResponseTimeout bounds how long an Endpoint waits for the
	// peer to answer a message sent with expectResponse.
	DefaultResponseTimeout = 30 * time.Second
)

var (
	ErrClosed          = errors.New("exchange: endpoint closed")
	ErrPayloadTooLarge = errors.New("exchange: payload exceeds frame limit")
	ErrNoHandler       = errors.New("exchange: no handler configured")
)

// Handler receives inbound traffic and timeout signals from an
// Endpoint. Callbacks run on the endpoint's read goroutine; they must
// not block on the endpoint itself.
type Handler interface {
	// OnMessageReceived delivers one inbound frame.
	OnMessageReceived(opcode uint8, payload []byte)

	// OnResponseTimeout fires when an expected response did not arrive
	// within the configured timeout.
	OnResponseTimeout()
}

// Config configures an Endpoint.
type Config struct {
	// Conn is the connection to the peer. Framing tolerates stream
	// transports that split or merge writes. Required.
	Conn net.Conn

	// Handler receives inbound frames and timeout signals. Required.
	Handler Handler

	// ResponseTimeout overrides DefaultResponseTimeout when positive.
	ResponseTimeout time.Duration

	// LoggerFactory is used for logging. Defaults to a standard logger.
	LoggerFactory logging.LoggerFactory
}

// Endpoint frames outbound messages onto the connection and pumps
// inbound frames to the handler from a background goroutine.
type Endpoint struct {
	conn            net.Conn
	handler         Handler
	responseTimeout time.Duration
	log             logging.LeveledLogger

	mu            sync.Mutex
	closed        bool
	responseTimer *time.Timer

	wg sync.WaitGroup
}

// NewEndpoint validates the config and starts the read loop.
func NewEndpoint(config Config) (*Endpoint, error) {
	if config.Conn == nil {
		return nil, errors.New("exchange: config requires a Conn")
	}
	if config.Handler == nil {
		return nil, ErrNoHandler
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	timeout := config.ResponseTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}

	e := &Endpoint{
		conn:            config.Conn,
		handler:         config.Handler,
		responseTimeout: timeout,
		log:             loggerFactory.NewLogger("exchange"),
	}

	e.wg.Add(1)
	go e.readLoop()

	return e, nil
}

// SendMessage frames and writes one message. When expectResponse is
// set, the response timer is armed; it is cleared by the next inbound
// frame or fires the handler's OnResponseTimeout.
func (e *Endpoint) SendMessage(opcode uint8, payload []byte, expectResponse bool) error {
	if len(payload) > maxPayloadSize {
		return ErrPayloadTooLarge
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = opcode
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	if _, err := e.conn.Write(frame); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("exchange: write failed: %w", err)
	}

	if expectResponse {
		e.armResponseTimerLocked()
	}
	e.mu.Unlock()

	e.log.Tracef("sent opcode=0x%02x len=%d expectResponse=%t", opcode, len(payload), expectResponse)
	return nil
}

// armResponseTimerLocked resets the single outstanding response timer.
// Caller holds e.mu.
func (e *Endpoint) armResponseTimerLocked() {
	if e.responseTimer != nil {
		e.responseTimer.Stop()
	}
	e.responseTimer = time.AfterFunc(e.responseTimeout, func() {
		e.mu.Lock()
		closed := e.closed
		e.responseTimer = nil
		e.mu.Unlock()
		if closed {
			return
		}
		e.log.Warnf("response timeout after %s", e.responseTimeout)
		e.handler.OnResponseTimeout()
	})
}

// cancelResponseTimer clears any pending response expectation.
func (e *Endpoint) cancelResponseTimer() {
	e.mu.Lock()
	if e.responseTimer != nil {
		e.responseTimer.Stop()
		e.responseTimer = nil
	}
	e.mu.Unlock()
}

// readLoop reassembles frames from the connection. Reads may deliver a
// frame in pieces or several frames at once (TCP), so bytes accumulate
// in pending until at least one complete frame is available.
func (e *Endpoint) readLoop() {
	defer e.wg.Done()

	var pending []byte
	buf := make([]byte, frameHeaderSize+maxPayloadSize)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			e.mu.Lock()
			closed := e.closed
			e.mu.Unlock()
			if !closed {
				e.log.Debugf("read loop ended: %v", err)
			}
			return
		}
		pending = append(pending, buf[:n]...)

		for len(pending) >= frameHeaderSize {
			opcode := pending[0]
			length := int(binary.LittleEndian.Uint16(pending[1:3]))
			if len(pending) < frameHeaderSize+length {
				break
			}

			payload := make([]byte, length)
			copy(payload, pending[frameHeaderSize:frameHeaderSize+length])
			pending = pending[frameHeaderSize+length:]

			e.cancelResponseTimer()
			e.log.Tracef("received opcode=0x%02x len=%d", opcode, length)
			e.handler.OnMessageReceived(opcode, payload)
		}
		if len(pending) == 0 {
			pending = nil
		}
	}
}

// Close tears the endpoint down. It is safe to call more than once.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.responseTimer != nil {
		e.responseTimer.Stop()
		e.responseTimer = nil
	}
	e.mu.Unlock()

	err := e.conn.Close()
	e.wg.Wait()
	return err
}
