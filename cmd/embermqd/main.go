// Command embermqd runs the EmberMQ broker: an MQTT v5 listener that
// accepts connections, performs the CONNECT handshake, replies to keepalive
// traffic and validates PUBLISH/SUBSCRIBE/UNSUBSCRIBE structure.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/embermq/embermq/network"
	"github.com/embermq/embermq/pkg/config"
	"github.com/embermq/embermq/pkg/logger"
)

func main() {
	log := logger.NewSlogLogger(slog.LevelInfo, os.Stdout)
	slog.SetDefault(log.Logger())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	brokerCfg := network.DefaultBrokerConfig(addr)
	brokerCfg.Listener.MaxConnections = cfg.MaxConnections

	broker, err := network.NewBroker(brokerCfg)
	if err != nil {
		slog.Error("failed to create broker", "error", err)
		os.Exit(1)
	}

	if err := broker.Start(); err != nil {
		slog.Error("failed to start broker", "error", err)
		os.Exit(1)
	}

	slog.Info("embermqd listening", "address", addr, "max_connections", cfg.MaxConnections)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("embermqd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), brokerCfg.ShutdownTimeout)
	defer cancel()
	if err := broker.Shutdown(shutdownCtx); err != nil {
		slog.Error("broker shutdown error", "error", err)
	}
}
