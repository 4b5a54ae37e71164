package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"starwatch-hud/telemetry"
)

// ErrClosed возвращается из ReadMessage после закрытия подписки
var ErrClosed = errors.New("mqtt: subscription closed")

// Config представляет конфигурацию MQTT транспорта телеметрии
type Config struct {
	Broker         string        `mapstructure:"broker"`          // Адрес брокера, например "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Имя пользователя (опционально)
	Password       string        `mapstructure:"password"`        // Пароль (опционально)
	ClientID       string        `mapstructure:"client_id"`       // ID клиента (генерируется если пустой)
	Topic          string        `mapstructure:"topic"`           // Топик с пакетами телеметрии
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      int           `mapstructure:"keep_alive"`      // Интервал keep alive в секундах
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут подключения
}

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	return "starwatch-hud-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		Topic:          "starwatch/telemetry/+",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
	}
}

// Dialer открывает подписку на топик телеметрии и представляет ее как telemetry.Conn.
// Автоматическое переподключение paho выключено, им управляет telemetry.Client
type Dialer struct {
	config    Config
	logger    *log.Logger
	newClient func(opts *mqttLib.ClientOptions) mqttLib.Client
}

// NewDialer создает MQTT транспорт
func NewDialer(config Config) *Dialer {
	return &Dialer{
		config:    config,
		logger:    log.New(os.Stdout, "[MQTT-Transport] ", log.LstdFlags|log.Lshortfile),
		newClient: mqttLib.NewClient,
	}
}

// SetLogger задает логгер транспорта
func (d *Dialer) SetLogger(logger *log.Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Dial подключается к брокеру и подписывается на топик. Пустой url означает брокер из конфигурации
func (d *Dialer) Dial(ctx context.Context, url string) (telemetry.Conn, error) {
	broker := url
	if broker == "" {
		broker = d.config.Broker
	}
	clientID := d.config.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}

	conn := newSubscriptionConn()

	opts := mqttLib.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(time.Duration(d.config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(d.config.ConnectTimeout)
	if d.config.Username != "" && d.config.Password != "" {
		opts.SetUsername(d.config.Username)
		opts.SetPassword(d.config.Password)
	}
	opts.SetConnectionLostHandler(func(client mqttLib.Client, err error) {
		d.logger.Printf("Connection lost: %v", err)
		conn.fail(fmt.Errorf("mqtt connection lost: %w", err))
	})

	client := d.newClient(opts)
	d.logger.Printf("Connecting to broker %s as %s", broker, clientID)

	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}

	if err := waitToken(ctx, client.Subscribe(d.config.Topic, d.config.QoS, conn.onMessage)); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", d.config.Topic, err)
	}
	d.logger.Printf("Subscribed to telemetry topic: %s", d.config.Topic)

	conn.client = client
	return conn, nil
}

// waitToken ждет завершения операции paho или отмены контекста
func waitToken(ctx context.Context, token mqttLib.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscriptionConn передает сообщения подписки в ReadMessage в порядке получения
type subscriptionConn struct {
	client   mqttLib.Client
	messages chan []byte
	done     chan struct{}
	once     sync.Once
	err      error
}

func newSubscriptionConn() *subscriptionConn {
	return &subscriptionConn{
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// onMessage вызывается paho для каждого сообщения топика
func (c *subscriptionConn) onMessage(client mqttLib.Client, msg mqttLib.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case c.messages <- payload:
	case <-c.done:
	}
}

func (c *subscriptionConn) ReadMessage() (telemetry.MessageType, []byte, error) {
	select {
	case payload := <-c.messages:
		if utf8.Valid(payload) {
			return telemetry.MessageText, payload, nil
		}
		return telemetry.MessageBinary, payload, nil
	case <-c.done:
		return 0, nil, c.err
	}
}

// fail завершает подписку с ошибкой, повторные вызовы игнорируются
func (c *subscriptionConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *subscriptionConn) Close() error {
	c.fail(ErrClosed)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}
