package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/cellmux/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Duration("maintain-interval", 100*time.Millisecond, "Period of the modem maintenance pass")
	flag.String("redis-addr", "", "Redis address for the session store (in-memory when empty)")
	flag.Int("redis-db", 0, "Redis database number")
	flag.String("mqtt-broker", "", "MQTT broker URL (bridge disabled when empty)")
	flag.String("mqtt-client-id", "cellmuxd", "MQTT client id")
	flag.String("mqtt-topic", "cellmux", "MQTT topic prefix")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))

	modemConfig, err := modem.NewConfigBuilder().
		WithLogger(logger).
		WithATTimeout(time.Second).
		WithInitTimeout(30 * time.Second).
		WithMaxRetries(10).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	store, err := newSessionStore(config, logger)
	if err != nil {
		logger.Error("Failed to create session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	gateway := &Gateway{
		Logger: logger.With("component", "gateway"),
		Modem:  m,
		Store:  store,
	}

	if config.MQTTBroker != "" {
		bridge := &Bridge{
			Logger:  logger.With("component", "mqtt"),
			Gateway: gateway,
			Topic:   config.MQTTTopic,
		}
		if err := bridge.Connect(config); err != nil {
			logger.Error("Failed to connect MQTT bridge", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
		gateway.Publisher = bridge
	}

	if err := gateway.Restore(ctx); err != nil {
		logger.Warn("Failed to restore sessions", "error", err)
	}

	logger.Info("Starting cellmux gateway", "serial_port", config.SerialPort)

	go gateway.Forward(ctx)
	go func() {
		if err := gateway.Run(ctx, config.MaintainInterval); err != nil && ctx.Err() == nil {
			logger.Error("Maintenance loop stopped", "error", err)
			stop()
		}
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Gateway: gateway,
		},
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
