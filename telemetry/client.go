package telemetry

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"starwatch-hud/common"
)

// MessageType различает текстовые и бинарные кадры транспорта
type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// Conn представляет одно живое соединение с источником телеметрии
type Conn interface {
	// ReadMessage блокируется до следующего кадра. Ошибка означает закрытие соединения
	ReadMessage() (MessageType, []byte, error)
	Close() error
}

// Dialer открывает соединение с источником телеметрии
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Listener получает каждый нормализованный пакет
type Listener func(packet *common.TelemetryPacket)

// State - состояние общего соединения
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// ClientConfig представляет конфигурацию клиента телеметрии
type ClientConfig struct {
	URL            string        // Адрес источника, например "ws://localhost:8081/"
	ReconnectDelay time.Duration // Пауза перед повторным подключением
}

// DefaultClientConfig возвращает конфигурацию по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:            "ws://localhost:8081/",
		ReconnectDelay: common.ReconnectDelay,
	}
}

// Option настраивает Client при создании
type Option func(*Client)

// WithLogger задает логгер клиента
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock подменяет источник таймеров (используется в тестах)
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithNow подменяет текущее время для пакетов без timestamp
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client держит не более одного соединения на процесс и раздает пакеты подписчикам.
// Соединение живет, пока есть хотя бы один подписчик
type Client struct {
	config ClientConfig
	dialer Dialer
	clock  Clock
	now    func() time.Time
	logger *log.Logger

	mu              sync.Mutex
	listeners       map[uuid.UUID]Listener
	state           State
	conn            Conn
	cancelDial      context.CancelFunc
	reconnectTimer  Timer
	shouldReconnect bool
	generation      uint64 // Увеличивается при каждой попытке и при разрыве, старые события отбрасываются

	ready atomic.Bool
	wg    sync.WaitGroup
}

// NewClient создает клиента телеметрии. При dialer == nil подписка не открывает соединение
func NewClient(config ClientConfig, dialer Dialer, opts ...Option) *Client {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = common.ReconnectDelay
	}

	c := &Client{
		config:    config,
		dialer:    dialer,
		clock:     realClock{},
		now:       time.Now,
		logger:    log.New(os.Stdout, "[Telemetry] ", log.LstdFlags),
		listeners: make(map[uuid.UUID]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe регистрирует подписчика и при первом интересе открывает соединение.
// Возвращаемая функция отписки идемпотентна
func (c *Client) Subscribe(listener Listener) (unsubscribe func()) {
	id := uuid.New()

	c.mu.Lock()
	c.listeners[id] = listener
	if c.dialer != nil {
		c.shouldReconnect = true
		c.ensureConnectionLocked()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

// Ready сообщает, был ли доставлен хотя бы один корректный пакет
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// State возвращает текущее состояние соединения
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribers возвращает число активных подписчиков
func (c *Client) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Close снимает всех подписчиков, закрывает соединение и ждет завершения горутин.
// Нельзя вызывать из подписчика
func (c *Client) Close() error {
	c.mu.Lock()
	hadListeners := len(c.listeners) > 0
	c.listeners = make(map[uuid.UUID]Listener)
	if hadListeners {
		c.teardownLocked()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) unsubscribe(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.listeners[id]; !ok {
		return
	}
	delete(c.listeners, id)
	if len(c.listeners) == 0 {
		c.teardownLocked()
	}
}

// ensureConnectionLocked запускает попытку подключения, если нет живого или открываемого соединения
func (c *Client) ensureConnectionLocked() {
	if c.dialer == nil {
		return
	}
	switch c.state {
	case StateConnecting, StateConnected, StateClosing, StateReconnectPending:
		return
	}

	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.state = StateConnecting

	c.wg.Add(1)
	go c.connect(ctx, cancel, gen)
}

func (c *Client) connect(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer c.wg.Done()
	defer cancel()

	conn, err := c.dialer.Dial(ctx, c.config.URL)

	c.mu.Lock()
	if gen != c.generation {
		// Попытку отменили отпиской последнего подписчика
		if conn != nil {
			conn.Close()
		}
		if c.state == StateClosing {
			c.state = StateIdle
			if c.shouldReconnect && len(c.listeners) > 0 {
				c.ensureConnectionLocked()
			}
		}
		c.mu.Unlock()
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.logger.Printf("Connection error: dial %s: %v", c.config.URL, err)
		c.handleCloseLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Printf("Connected to %s", c.config.URL)
	c.readLoop(conn, gen)
}

// readLoop читает кадры по порядку. Следующий кадр читается после раздачи текущего
func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := gen == c.generation
			if current {
				c.logger.Printf("Connection closed: %v", err)
				c.conn = nil
				c.handleCloseLocked()
			}
			c.mu.Unlock()

			// Соединение прежнего поколения уже закрыто в teardownLocked
			if current {
				if err := conn.Close(); err != nil {
					c.logger.Printf("Failed to close connection: %v", err)
				}
			}
			return
		}
		c.handleMessage(gen, messageType, payload)
	}
}

func (c *Client) handleMessage(gen uint64, messageType MessageType, payload []byte) {
	if messageType != MessageText {
		c.logger.Printf("Non-string payload received (%d bytes)", len(payload))
		return
	}

	packet, err := Decode(payload, c.now)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			c.logger.Printf("Failed to parse message %q: %v", payload, err)
		} else {
			c.logger.Printf("Invalid packet shape %q: %v", payload, err)
		}
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, listener := range c.listeners {
		listeners = append(listeners, listener)
	}
	c.mu.Unlock()

	c.ready.Store(true)
	for _, listener := range listeners {
		listener(packet)
	}
}

// handleCloseLocked решает, планировать ли переподключение после закрытия
func (c *Client) handleCloseLocked() {
	if !c.shouldReconnect {
		c.state = StateIdle
		return
	}
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked планирует не более одного таймера переподключения
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		return
	}

	gen := c.generation
	c.state = StateReconnectPending
	c.logger.Printf("Reconnecting in %v...", c.config.ReconnectDelay)
	c.reconnectTimer = c.clock.AfterFunc(c.config.ReconnectDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return
		}
		c.reconnectTimer = nil
		c.state = StateIdle
		c.ensureConnectionLocked()
	})
}

// teardownLocked закрывает соединение и отменяет переподключение
func (c *Client) teardownLocked() {
	c.shouldReconnect = false
	c.generation++

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Printf("Failed to close connection: %v", err)
		}
		c.conn = nil
	}

	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
		c.state = StateClosing
	} else if c.state != StateClosing {
		c.state = StateIdle
	}
	c.logger.Println("Telemetry connection torn down")
}
