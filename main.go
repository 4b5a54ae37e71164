package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"starwatch-hud/common"
	"starwatch-hud/config"
	"starwatch-hud/dashboard"
	"starwatch-hud/mqtt"
	"starwatch-hud/telemetry"
)

var logger = log.New(os.Stdout, "[HUD] ", log.LstdFlags)

// logOutput возвращает stdout или ротируемый файл журнала
func logOutput(cfg *config.Config) io.Writer {
	if cfg.Logging.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    20, // мегабайт
		MaxBackups: 5,
		MaxAge:     14, // дней
		Compress:   true,
	}
}

// logFlags возвращает флаги логгеров для уровня журнала
func logFlags(level string) int {
	if strings.EqualFold(level, "debug") {
		return log.LstdFlags | log.Lshortfile
	}
	return log.LstdFlags
}

// newDialer выбирает транспорт телеметрии по конфигурации
func newDialer(cfg *config.Config, out io.Writer, flags int) telemetry.Dialer {
	if cfg.Telemetry.Transport == config.TransportMQTT {
		dialer := mqtt.NewDialer(cfg.MQTT)
		dialer.SetLogger(log.New(out, "[MQTT-Transport] ", flags))
		return dialer
	}
	return telemetry.NewWebSocketDialer(log.New(out, "[Telemetry] ", flags))
}

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	out := logOutput(cfg)
	flags := logFlags(cfg.Logging.Level)
	logger.SetOutput(out)
	logger.SetFlags(flags)

	client := telemetry.NewClient(
		telemetry.ClientConfig{
			URL:            cfg.TelemetryURL(),
			ReconnectDelay: common.ReconnectDelay,
		},
		newDialer(cfg, out, flags),
		telemetry.WithLogger(log.New(out, "[Telemetry] ", flags)),
	)

	store := dashboard.NewStore()
	detach := store.Attach(client)

	server := dashboard.NewServer(store, dashboard.DefaultCameras(), client)
	server.SetLogger(log.New(out, "[Dashboard] ", flags))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("Serving overlays on %s (telemetry %s via %s)", cfg.HTTP.Addr, cfg.TelemetryURL(), cfg.Telemetry.Transport)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	logger.Println("StarWatch HUD started. Press Ctrl+C to stop.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}

	detach()
	client.Close()
	logger.Println("Stopped")
}
