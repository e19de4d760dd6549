// Package ws owns the live channel: one websocket per active conversation,
// a connect/disconnect/backoff state machine, and the demultiplexer that
// turns raw frames into typed events.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tbduarte/chatsync/internal/auth"
	"github.com/tbduarte/chatsync/internal/bus"
	"github.com/tbduarte/chatsync/internal/status"
	"github.com/tbduarte/chatsync/internal/wire"
	"go.uber.org/zap"
)

// Options tunes the connection manager. Zero values take the production
// defaults (1s..30s backoff, 30s heartbeat).
type Options struct {
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	Heartbeat    time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// NextDelay returns the backoff delay before attempt k (1-indexed):
// base doubled per consecutive failure, capped.
func (o Options) NextDelay(attempt int) time.Duration {
	d := o.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.BackoffCap {
			return o.BackoffCap
		}
	}
	if d > o.BackoffCap {
		return o.BackoffCap
	}
	return d
}

// Manager owns one live socket for the active conversation. Connection
// failures never surface as errors to the caller; they only show up as
// state transitions on the machine (and "conn.state_changed" bus events).
type Manager struct {
	wsBase string
	creds  auth.Provider
	demux  *Demux
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	machine *status.Machine
	conn    *websocket.Conn
	cancel  context.CancelFunc
	convID  int64

	writeMu sync.Mutex
}

// NewManager creates a connection manager for the given websocket base URL.
func NewManager(wsBase string, creds auth.Provider, demux *Demux, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	return &Manager{
		wsBase: wsBase,
		creds:  creds,
		demux:  demux,
		bus:    b,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Open connects the live channel for a conversation. Any previous session
// (including a pending reconnect timer) is cancelled first.
func (m *Manager) Open(conversationID int64) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	machine := status.NewMachine(conversationID, m.bus)
	m.cancel = cancel
	m.convID = conversationID
	m.machine = machine
	m.mu.Unlock()

	go m.run(ctx, conversationID, machine)
}

// Close tears down the live channel with the user-initiated close code,
// suppressing auto-reconnect.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
}

// State returns the current connection state, Disconnected before any Open.
func (m *Manager) State() status.Status {
	m.mu.Lock()
	machine := m.machine
	m.mu.Unlock()
	if machine == nil {
		return status.Status{Phase: status.Disconnected}
	}
	return machine.Current()
}

// Send writes an outbound frame on the live channel. It returns an error
// only when no connection is up; write failures on a live socket surface
// through the read loop as a transport failure.
func (m *Manager) Send(frame wire.OutboundFrame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("live channel not connected")
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (m *Manager) run(ctx context.Context, conversationID int64, machine *status.Machine) {
	attempt := 0
	for {
		_ = machine.Transition(status.Status{Phase: status.Connecting})

		// The credential may have rotated since the last attempt.
		token, ok := m.creds.Token()
		if !ok {
			m.logger.Warn("no credential available, abandoning connection",
				zap.Int64("conversation_id", conversationID))
			_ = machine.Transition(status.Status{Phase: status.Disconnected})
			return
		}

		conn, err := m.dial(ctx, conversationID, token)
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			_ = machine.Transition(status.Status{Phase: status.Connected})
			attempt = 0

			err = m.readLoop(ctx, conn)
			m.mu.Lock()
			if m.conn == conn {
				m.conn = nil
			}
			m.mu.Unlock()
			_ = conn.Close()

			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				_ = machine.Transition(status.Status{Phase: status.Disconnected})
				return
			}
			m.logger.Warn("live channel lost", zap.Error(err),
				zap.Int64("conversation_id", conversationID))
		} else {
			if ctx.Err() != nil {
				_ = machine.Transition(status.Status{Phase: status.Disconnected})
				return
			}
			m.logger.Warn("live channel dial failed", zap.Error(err),
				zap.Int64("conversation_id", conversationID))
		}

		attempt++
		delay := m.opts.NextDelay(attempt)
		_ = machine.Transition(status.Status{
			Phase:     status.Reconnecting,
			Attempt:   attempt,
			NextDelay: delay,
		})

		select {
		case <-ctx.Done():
			_ = machine.Transition(status.Status{Phase: status.Disconnected})
			return
		case <-time.After(delay):
		}
	}
}

func (m *Manager) dial(ctx context.Context, conversationID int64, token string) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/conversations/%d", m.wsBase, conversationID)
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// readLoop pumps frames into the demultiplexer until the socket dies or ctx
// is cancelled. A heartbeat ping runs alongside; a missing pong lets the
// read deadline expire, which reads as a transport failure.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pongWait := 2 * m.opts.Heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(m.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout))
				m.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-ctx.Done():
				// Unblock the pending read.
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := m.demux.Dispatch(ctx, data); err != nil {
			return err
		}
	}
}
