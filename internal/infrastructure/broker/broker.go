// Package broker runs an optional in-process MQTT broker.
//
// Small lab setups can run the host as a single binary: the embedded broker
// listens on a TCP address and the host's own transport connects to it like
// any other client. Retained messages, wildcards and will messages behave as
// on an external broker.
package broker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
)

// listenerID names the single TCP listener.
const listenerID = "labhost-tcp"

// ErrDisabled is returned by Start when the embedded broker is not enabled.
var ErrDisabled = errors.New("broker: embedded broker disabled")

// Broker is a running embedded MQTT server.
type Broker struct {
	server  *mochi.Server
	address string
	logger  *slog.Logger

	closeOnce sync.Once
}

// Start creates the server, binds the TCP listener and begins serving.
//
// The listener is bound before Start returns, so clients may connect as soon
// as it does. Authentication is allow-all: the broker is intended for a
// trusted lab network.
func Start(cfg config.EmbeddedBrokerConfig, logger *slog.Logger) (*Broker, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	server := mochi.New(&mochi.Options{
		Logger: logger,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("binding %s: %w", cfg.Address, err)
	}

	b := &Broker{
		server:  server,
		address: cfg.Address,
		logger:  logger,
	}

	go func() {
		if err := server.Serve(); err != nil {
			logger.Error("embedded broker stopped", "error", err)
		}
	}()

	logger.Info("embedded broker listening", "address", cfg.Address)
	return b, nil
}

// Address returns the configured listen address.
func (b *Broker) Address() string {
	return b.address
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	return b.server.Clients.Len()
}

// Close stops the listener and disconnects every client. Safe to call more than once.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.server.Close()
	})
	return err
}
