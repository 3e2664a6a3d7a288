package exchange

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu       sync.Mutex
	opcodes  []uint8
	payloads [][]byte
	timeouts int
	received chan struct{}
	timedOut chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		received: make(chan struct{}, 16),
		timedOut: make(chan struct{}, 16),
	}
}

func (h *recordingHandler) OnMessageReceived(opcode uint8, payload []byte) {
	h.mu.Lock()
	h.opcodes = append(h.opcodes, opcode)
	h.payloads = append(h.payloads, payload)
	h.mu.Unlock()
	h.received <- struct{}{}
}

func (h *recordingHandler) OnResponseTimeout() {
	h.mu.Lock()
	h.timeouts++
	h.mu.Unlock()
	h.timedOut <- struct{}{}
}

func (h *recordingHandler) last(t *testing.T) (uint8, []byte) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.opcodes) == 0 {
		t.Fatal("no messages received")
	}
	return h.opcodes[len(h.opcodes)-1], h.payloads[len(h.payloads)-1]
}

func (h *recordingHandler) timeoutCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeouts
}

func endpointPair(t *testing.T, timeout time.Duration) (*Endpoint, *Endpoint, *recordingHandler, *recordingHandler) {
	t.Helper()

	pipe := NewPipe()
	t.Cleanup(func() { pipe.Close() })

	h0 := newRecordingHandler()
	h1 := newRecordingHandler()

	e0, err := NewEndpoint(Config{Conn: pipe.Conn0(), Handler: h0, ResponseTimeout: timeout})
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	t.Cleanup(func() { e0.Close() })

	e1, err := NewEndpoint(Config{Conn: pipe.Conn1(), Handler: h1, ResponseTimeout: timeout})
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	t.Cleanup(func() { e1.Close() })

	return e0, e1, h0, h1
}

func waitFor(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestEndpoint_SendReceive(t *testing.T) {
	e0, _, _, h1 := endpointPair(t, time.Minute)

	payload := []byte("hello across the pipe")
	if err := e0.SendMessage(0x30, payload, false); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	waitFor(t, h1.received, "message delivery")
	opcode, got := h1.last(t)
	if opcode != 0x30 {
		t.Errorf("opcode = %#x, want 0x30", opcode)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q", got)
	}
}

func TestEndpoint_EmptyPayload(t *testing.T) {
	e0, _, _, h1 := endpointPair(t, time.Minute)

	if err := e0.SendMessage(0x40, nil, false); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	waitFor(t, h1.received, "message delivery")
	opcode, got := h1.last(t)
	if opcode != 0x40 || len(got) != 0 {
		t.Errorf("got opcode %#x payload %x", opcode, got)
	}
}

func TestEndpoint_ResponseTimeout(t *testing.T) {
	e0, _, h0, _ := endpointPair(t, 50*time.Millisecond)

	if err := e0.SendMessage(0x30, []byte("ping"), true); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	waitFor(t, h0.timedOut, "response timeout")
	if h0.timeoutCount() != 1 {
		t.Errorf("timeout count = %d, want 1", h0.timeoutCount())
	}
}

func TestEndpoint_ResponseCancelsTimer(t *testing.T) {
	e0, e1, h0, h1 := endpointPair(t, 200*time.Millisecond)

	if err := e0.SendMessage(0x30, []byte("ping"), true); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	waitFor(t, h1.received, "request delivery")

	if err := e1.SendMessage(0x31, []byte("pong"), false); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	waitFor(t, h0.received, "response delivery")

	// The response arrived, so no timeout may fire.
	time.Sleep(400 * time.Millisecond)
	if h0.timeoutCount() != 0 {
		t.Errorf("timeout fired despite response, count = %d", h0.timeoutCount())
	}
}

func TestEndpoint_CloseIdempotent(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	h := newRecordingHandler()
	e, err := NewEndpoint(Config{Conn: pipe.Conn0(), Handler: h})
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := e.SendMessage(0x30, nil, false); err != ErrClosed {
		t.Errorf("SendMessage after Close: got %v, want ErrClosed", err)
	}
}

func TestEndpoint_CloseStopsPendingTimer(t *testing.T) {
	e0, _, h0, _ := endpointPair(t, 50*time.Millisecond)

	if err := e0.SendMessage(0x30, []byte("ping"), true); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := e0.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if h0.timeoutCount() != 0 {
		t.Errorf("timeout fired after Close, count = %d", h0.timeoutCount())
	}
}

func TestEndpoint_ConfigValidation(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	if _, err := NewEndpoint(Config{Handler: newRecordingHandler()}); err == nil {
		t.Error("missing Conn accepted")
	}
	if _, err := NewEndpoint(Config{Conn: pipe.Conn0()}); err != ErrNoHandler {
		t.Errorf("missing Handler: got %v", err)
	}
}

// fragmentConn splits every write into single-byte writes, modeling a
// stream transport delivering a frame in pieces.
type fragmentConn struct {
	net.Conn
}

func (c *fragmentConn) Write(b []byte) (int, error) {
	for i := range b {
		if _, err := c.Conn.Write(b[i : i+1]); err != nil {
			return i, err
		}
	}
	return len(b), nil
}

func TestEndpoint_FragmentedFrames(t *testing.T) {
	pipe := NewPipe()
	t.Cleanup(func() { pipe.Close() })

	sender, err := NewEndpoint(Config{
		Conn:    &fragmentConn{Conn: pipe.Conn0()},
		Handler: newRecordingHandler(),
	})
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	t.Cleanup(func() { sender.Close() })

	h := newRecordingHandler()
	receiver, err := NewEndpoint(Config{Conn: pipe.Conn1(), Handler: h})
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	t.Cleanup(func() { receiver.Close() })

	payload := []byte("split across many reads")
	if err := sender.SendMessage(0x31, payload, false); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	waitFor(t, h.received, "reassembled frame")
	opcode, got := h.last(t)
	if opcode != 0x31 {
		t.Errorf("opcode = %#x, want 0x31", opcode)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q", got)
	}
}

func TestEndpoint_CoalescedFrames(t *testing.T) {
	pipe := NewPipe()
	t.Cleanup(func() { pipe.Close() })

	h := newRecordingHandler()
	receiver, err := NewEndpoint(Config{Conn: pipe.Conn1(), Handler: h})
	if err != nil {
		t.Fatalf("NewEndpoint failed: %v", err)
	}
	t.Cleanup(func() { receiver.Close() })

	frame := func(opcode byte, payload []byte) []byte {
		f := []byte{opcode, 0, 0}
		binary.LittleEndian.PutUint16(f[1:3], uint16(len(payload)))
		return append(f, payload...)
	}

	// Two complete frames arriving in a single read.
	raw := append(frame(0x30, []byte("first")), frame(0x31, []byte("second"))...)
	if _, err := pipe.Conn0().Write(raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, h.received, "first frame")
	waitFor(t, h.received, "second frame")
	opcode, got := h.last(t)
	if opcode != 0x31 || !bytes.Equal(got, []byte("second")) {
		t.Errorf("last frame = opcode %#x payload %q", opcode, got)
	}
}

func TestEndpoint_PayloadTooLarge(t *testing.T) {
	e0, _, _, _ := endpointPair(t, time.Minute)

	if err := e0.SendMessage(0x30, make([]byte, maxPayloadSize+1), false); err != ErrPayloadTooLarge {
		t.Errorf("oversized payload: got %v, want ErrPayloadTooLarge", err)
	}
}
