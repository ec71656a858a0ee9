package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
)

// WSTransport carries packet frames as WebSocket binary messages.
// Writes are serialized with a mutex (gorilla/websocket allows one
// concurrent writer); a read pump goroutine delivers whole inbound
// frames to the registered handler.
type WSTransport struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handler   FrameHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWS connects to a WebSocket endpoint and starts the read pump.
//
// Parameters:
//   - url: ws:// or wss:// endpoint
//
// Returns:
//   - *WSTransport: Connected transport
//   - error: Dial failure
func DialWS(url string) (*WSTransport, error) {
	logrus.WithFields(logrus.Fields{
		"function": "DialWS",
		"url":      url,
	}).Info("Dialing WebSocket transport")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return newWSTransport(conn), nil
}

// AcceptWS upgrades an inbound HTTP request to a WebSocket transport.
// The caller owns the HTTP server; this only wraps the upgraded
// connection.
func AcceptWS(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  limits.MaxProcessingBuffer,
		WriteBufferSize: limits.MaxProcessingBuffer,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return newWSTransport(conn), nil
}

func newWSTransport(conn *websocket.Conn) *WSTransport {
	t := &WSTransport{
		id:     uuid.NewString(),
		conn:   conn,
		closed: make(chan struct{}),
	}
	conn.SetReadLimit(limits.MaxProcessingBuffer)
	go t.readPump()
	return t
}

// Send transmits one frame as a binary message.
func (t *WSTransport) Send(frame []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}
	if err := limits.ValidateInboundFrame(frame); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// SetHandler registers the inbound frame handler.
func (t *WSTransport) SetHandler(handler FrameHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = handler
}

// Close shuts the connection down. Idempotent.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		deadline := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage, deadline)
		t.writeMu.Unlock()
		_ = t.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"id":       t.id,
		}).Info("WebSocket transport closed")
	})
	return nil
}

// LocalID identifies this endpoint.
func (t *WSTransport) LocalID() string {
	return t.id
}

// readPump delivers whole inbound binary frames until the connection
// dies. Non-binary messages are ignored.
func (t *WSTransport) readPump() {
	defer t.Close()
	for {
		messageType, frame, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"id":       t.id,
					"error":    err.Error(),
				}).Debug("WebSocket read ended")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		t.handlerMu.RLock()
		handler := t.handler
		t.handlerMu.RUnlock()
		if handler != nil {
			handler(frame)
		}
	}
}
