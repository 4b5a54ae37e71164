package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer открывает соединения с источником телеметрии по WebSocket
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	MaxMessageSize   int64 // 0 - без ограничения
	logger           *log.Logger
}

// NewWebSocketDialer создает WebSocket транспорт с таймаутами по умолчанию
func NewWebSocketDialer(logger *log.Logger) *WebSocketDialer {
	if logger == nil {
		logger = log.New(os.Stdout, "[Telemetry] ", log.LstdFlags)
	}
	return &WebSocketDialer{
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   1 << 20,
		logger:           logger,
	}
}

// Dial выполняет WebSocket рукопожатие
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	if d.MaxMessageSize > 0 {
		conn.SetReadLimit(d.MaxMessageSize)
	}

	return &wsConn{conn: conn, logger: d.logger}, nil
}

// wsConn адаптирует *websocket.Conn к интерфейсу Conn
type wsConn struct {
	conn   *websocket.Conn
	logger *log.Logger
}

func (c *wsConn) ReadMessage() (MessageType, []byte, error) {
	messageType, payload, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			reason := closeErr.Text
			if reason == "" {
				reason = "no reason"
			}
			c.logger.Printf("Connection closed (%d: %s)", closeErr.Code, reason)
		}
		return 0, nil, err
	}

	if messageType == websocket.TextMessage {
		return MessageText, payload, nil
	}
	return MessageBinary, payload, nil
}

func (c *wsConn) Close() error {
	// Сообщаем серверу о штатном закрытии, ошибку записи игнорируем
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
