package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"starwatch-hud/resize"
)

const (
	writeWait      = 10 * time.Second    // Время на запись кадра зрителю
	pongWait       = 60 * time.Second    // Время ожидания pong от зрителя
	pingPeriod     = (pongWait * 9) / 10 // Период ping, меньше pongWait
	maxMessageSize = 512                 // Максимальный размер сообщения зрителя
)

// resizeMessage - сообщение зрителя о новой ширине области
type resizeMessage struct {
	Width float64 `json:"width"`
}

// session передает зрителю SVG кадры одной камеры и принимает от него размеры области
type session struct {
	conn     *websocket.Conn
	viewport *resize.Viewport
	frames   chan []byte // Хранит только последний кадр
	done     chan struct{}
	logger   *log.Logger
}

func newSession(conn *websocket.Conn, viewport *resize.Viewport, logger *log.Logger) *session {
	return &session{
		conn:     conn,
		viewport: viewport,
		frames:   make(chan []byte, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// push кладет кадр в очередь, вытесняя неотправленный предыдущий
func (s *session) push(frame []byte) {
	for {
		select {
		case s.frames <- frame:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

// readPump читает сообщения о размере области до закрытия соединения
func (s *session) readPump() {
	defer func() {
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("Overlay stream read error: %v", err)
			}
			return
		}

		var msg resizeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Printf("Ignoring malformed resize message %q: %v", message, err)
			continue
		}
		s.viewport.SetWidth(msg.Width)
	}
}

// writePump отправляет кадры и ping до закрытия соединения
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.frames:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Printf("Overlay stream write error: %v", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Printf("Overlay stream ping error: %v", err)
				return
			}
		}
	}
}
