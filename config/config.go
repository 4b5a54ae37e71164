package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"starwatch-hud/mqtt"
)

var logger = log.New(os.Stdout, "[Config] ", log.LstdFlags)

const (
	// DefaultTelemetryHost - адрес движка трекинга по умолчанию
	DefaultTelemetryHost = "ws://localhost:8081"

	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config представляет конфигурацию HUD клиента
type Config struct {
	Telemetry struct {
		URL       string `mapstructure:"url"`       // Полный адрес, перекрывает path
		Path      string `mapstructure:"path"`      // Путь на адресе по умолчанию
		Transport string `mapstructure:"transport"` // websocket или mqtt
	} `mapstructure:"telemetry"`
	MQTT mqtt.Config `mapstructure:"mqtt"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"` // Пусто - вывод в stdout
	} `mapstructure:"logging"`
}

// Load читает .env, config.yaml из каталога path и переменные окружения.
// Отсутствие файла конфигурации не ошибка: используются значения по умолчанию
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("Warning: failed to load .env: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	if path != "." {
		v.AddConfigPath(".")
	}
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		logger.Printf("Config file not found in %s, using defaults", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	mqttDefaults := mqtt.DefaultConfig()

	v.SetDefault("telemetry.url", "")
	v.SetDefault("telemetry.path", "/")
	v.SetDefault("telemetry.transport", TransportWebSocket)
	v.SetDefault("mqtt.broker", mqttDefaults.Broker)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic", mqttDefaults.Topic)
	v.SetDefault("mqtt.qos", mqttDefaults.QoS)
	v.SetDefault("mqtt.keep_alive", mqttDefaults.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", mqttDefaults.ConnectTimeout)
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

// bindEnv связывает ключи с переменными окружения
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("telemetry.url", "TELEMETRY_URL")
	_ = v.BindEnv("telemetry.path", "TELEMETRY_PATH")
	_ = v.BindEnv("telemetry.transport", "TELEMETRY_TRANSPORT")
	_ = v.BindEnv("mqtt.broker", "MQTT_BROKER")
	_ = v.BindEnv("mqtt.username", "MQTT_USERNAME")
	_ = v.BindEnv("mqtt.password", "MQTT_PASSWORD")
	_ = v.BindEnv("mqtt.topic", "MQTT_TOPIC")
	_ = v.BindEnv("http.addr", "HUD_HTTP_ADDR")
	_ = v.BindEnv("logging.level", "HUD_LOG_LEVEL")
	_ = v.BindEnv("logging.file", "HUD_LOG_FILE")
}

// Validate проверяет значения, которые нельзя заменить значениями по умолчанию
func (c *Config) Validate() error {
	switch c.Telemetry.Transport {
	case TransportWebSocket, TransportMQTT:
	default:
		return fmt.Errorf("unsupported telemetry transport %q", c.Telemetry.Transport)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	return nil
}

// TelemetryURL возвращает адрес источника телеметрии для выбранного транспорта
func (c *Config) TelemetryURL() string {
	if c.Telemetry.Transport == TransportMQTT {
		return c.MQTT.Broker
	}
	return ResolveURL(c.Telemetry.URL, c.Telemetry.Path)
}

// ResolveURL возвращает override без изменений, если он задан,
// иначе адрес по умолчанию с нормализованным путем
func ResolveURL(override, path string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	normalized := NormalizePath(path)
	if normalized == "" {
		normalized = "/"
	}
	return DefaultTelemetryHost + normalized
}

// NormalizePath приводит путь к виду с ровно одним ведущим "/".
// Пустой путь и "/" дают пустую строку
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	trimmed := strings.TrimLeft(path, "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}
