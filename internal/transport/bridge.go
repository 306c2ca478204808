package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minuteline/consultd/internal/domain"
)

const (
	writeTimeout    = 10 * time.Second
	eventBufferSize = 16
)

// Bridge dials the media gateway's signaling endpoint over a websocket and
// adapts its frames to Session status events.
type Bridge struct {
	url    string
	logger *slog.Logger
	dialer *websocket.Dialer
}

func NewBridge(signalingURL string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		url:    signalingURL,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: writeTimeout},
	}
}

type joinFrame struct {
	Type           string            `json:"type"`
	Mode           string            `json:"mode"`
	CounterpartyID string            `json:"counterparty_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type signalFrame struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (b *Bridge) Dial(ctx context.Context, mode domain.SessionMode, counterpartyID string, metadata map[string]string) (Session, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling endpoint: %w", err)
	}

	join := joinFrame{
		Type:           "join",
		Mode:           string(mode),
		CounterpartyID: counterpartyID,
		Metadata:       metadata,
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce session: %w", err)
	}

	s := &bridgeSession{
		conn:   conn,
		logger: b.logger.With("counterparty_id", counterpartyID),
		events: make(chan StatusEvent, eventBufferSize),
	}
	s.emit(StatusEvent{Status: StatusConnecting})
	go s.readLoop()
	return s, nil
}

type bridgeSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	events    chan StatusEvent
	closeOnce sync.Once
	closedMu  sync.Mutex
	closed    bool
}

func (s *bridgeSession) Events() <-chan StatusEvent { return s.events }

// Close tears the signaling connection down. Idempotent; a second call is a
// no-op returning nil.
func (s *bridgeSession) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closedMu.Lock()
		s.closed = true
		s.closedMu.Unlock()

		deadline := time.Now().Add(writeTimeout)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); werr != nil {
			s.logger.Debug("write close frame", "error", werr)
		}
		err = s.conn.Close()
	})
	return err
}

func (s *bridgeSession) readLoop() {
	defer close(s.events)
	for {
		var frame signalFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(StatusEvent{Status: StatusClosed})
			} else {
				s.emit(StatusEvent{Status: StatusFailed, Err: err})
			}
			return
		}

		switch frame.Type {
		case "status":
			s.emit(StatusEvent{Status: mapStatus(frame.Status)})
		case "error":
			s.emit(StatusEvent{Status: StatusFailed, Err: fmt.Errorf("signaling error: %s", frame.Reason)})
			return
		default:
			s.logger.Debug("unknown signaling frame", "type", frame.Type)
		}
	}
}

// emit never blocks the read loop; a slow consumer drops status updates
// rather than stalling signaling.
func (s *bridgeSession) emit(ev StatusEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *bridgeSession) isClosed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed
}

func mapStatus(status string) Status {
	switch status {
	case "connected":
		return StatusConnected
	case "reconnecting":
		return StatusReconnecting
	case "closed":
		return StatusClosed
	default:
		return StatusConnecting
	}
}
