package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Yusufzhafir/go-matching-engine/backend/internal/propagation"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/util"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrStreamClosed = errors.New("order stream closed")
	ErrSlowConsumer = errors.New("order stream buffer full")
)

const streamSendBuf = 256

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OrderStream delivers the updates of one order over a websocket connection.
type OrderStream struct {
	id      string
	orderID model.OrderId
	conn    *websocket.Conn
	send    chan []byte

	mu       sync.Mutex
	finished bool
	code     int

	done   chan struct{}
	logger *zap.Logger
}

var _ propagation.Subscriber = (*OrderStream)(nil)

// UpgradeOrderStream upgrades the request and starts the stream pumps.
func UpgradeOrderStream(w http.ResponseWriter, r *http.Request, orderID model.OrderId, logger *zap.Logger) (*OrderStream, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	s := newOrderStream(conn, orderID, logger)
	go s.writePump()
	go s.readPump()
	return s, nil
}

func newOrderStream(conn *websocket.Conn, orderID model.OrderId, logger *zap.Logger) *OrderStream {
	return &OrderStream{
		id:      uuid.NewString(),
		orderID: orderID,
		conn:    conn,
		send:    make(chan []byte, streamSendBuf),
		code:    websocket.CloseNormalClosure,
		done:    make(chan struct{}),
		logger:  util.OrNop(logger).With(zap.Uint64("order_id", uint64(orderID))),
	}
}

func (s *OrderStream) ID() string { return s.id }

// Done is closed once the connection has been torn down.
func (s *OrderStream) Done() <-chan struct{} { return s.done }

func (s *OrderStream) Send(update model.OrderUpdate) error {
	b, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return s.enqueue(b)
}

func (s *OrderStream) enqueue(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrStreamClosed
	}
	select {
	case s.send <- b:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Complete ends the stream with a normal close frame.
func (s *OrderStream) Complete() {
	s.finish(websocket.CloseNormalClosure)
}

// Fail sends an error message and closes the stream.
func (s *OrderStream) Fail(err error) {
	msg := "stream failed"
	if err != nil {
		msg = err.Error()
	}
	if b, mErr := json.Marshal(streamError{Type: "error", Message: msg}); mErr == nil {
		_ = s.enqueue(b)
	}
	s.logger.Debug("order_stream_failed", zap.String("stream_id", s.id), zap.Error(err))
	s.finish(websocket.CloseInternalServerErr)
}

func (s *OrderStream) finish(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.code = code
	close(s.send)
}

func (s *OrderStream) closeCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// writePump drains queued messages, then writes the close frame once the stream is finished.
func (s *OrderStream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(s.closeCode(), ""),
				)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.finish(websocket.CloseAbnormalClosure)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.finish(websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

// readPump only watches for the client going away; order streams take no commands.
func (s *OrderStream) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.finish(websocket.CloseGoingAway)
			return
		}
	}
}
