// Package wstransport implements transport.Transporter over a
// WebSocket connection using gorilla/websocket.
package wstransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nmeshed/nmeshed-go/internal/transport"
	"github.com/nmeshed/nmeshed-go/pkg/log"
)

// Transport is a transport.Transporter backed by one WebSocket
// connection. It is not reusable across sessions: the Connection
// Manager constructs a fresh Transport for every connect attempt, per
// SPEC_FULL.md §4.5's cleanup invariant.
type Transport struct {
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
}

// New constructs a Transport using gorilla's default dialer settings.
func New() *Transport {
	return &Transport{dialer: websocket.DefaultDialer}
}

func (t *Transport) Open(ctx context.Context, url string, onMessage transport.MessageHandler, onClose transport.CloseHandler) error {
	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("wstransport: dial failed: %w", err)
	}
	t.conn = conn

	go t.readLoop(conn, onMessage, onClose)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, onMessage transport.MessageHandler, onClose transport.CloseHandler) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			t.fireClose(onClose, code, reason)
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		onMessage(data)
	}
}

func (t *Transport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("wstransport: send before open")
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *Transport) Close(code int, reason string) error {
	if t.conn == nil {
		return nil
	}
	// Consume closeOnce so the read loop's exit after a local close
	// never reaches onClose.
	t.closeOnce.Do(func() {})
	msg := websocket.FormatCloseMessage(code, reason)
	t.writeMu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage, msg)
	t.writeMu.Unlock()
	return t.conn.Close()
}

func (t *Transport) fireClose(onClose transport.CloseHandler, code int, reason string) {
	t.closeOnce.Do(func() {
		log.Debugf("wstransport: closed code=%d reason=%q", code, reason)
		onClose(transport.CloseInfo{Code: code, Reason: reason})
	})
}
