package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	operationTimeout    = 5 * time.Second
	disconnectQuiesceMS = 1000
	keepAlive           = 60 * time.Second
	maxQoS              = 2
)

// buildClientOptions maps the mqtt config block onto paho options.
//
// Sessions are clean: retained meta, status and registry topics rebuild all
// state after a reconnect. Delivery is ordered, one message at a time.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOrderMatters(true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}

	initial, ceiling := backoff(cfg.Reconnect)
	opts.SetConnectRetryInterval(initial).SetMaxReconnectInterval(ceiling)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// backoff clamps the reconnect window: at least 1s, ceiling never below
// the initial delay.
func backoff(r config.MQTTReconnectConfig) (initial, ceiling time.Duration) {
	initial = time.Duration(r.InitialDelay) * time.Second
	if initial <= 0 {
		initial = time.Second
	}
	ceiling = time.Duration(r.MaxDelay) * time.Second
	if ceiling < initial {
		ceiling = initial
	}
	return initial, ceiling
}

// hostStatus is the retained payload on /lab/orchestrator/status.
type hostStatus struct {
	Online   bool   `json:"online"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason,omitempty"`
	TS       string `json:"ts"`
}

// configureLWT has the broker mark the host offline if the session dies.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetBinaryWill(Topics{}.HostStatus(), buildStatusPayload(clientID, false, "unexpected_disconnect"), 1, true)
}

func buildStatusPayload(clientID string, online bool, reason string) []byte {
	//nolint:errcheck // flat struct of strings and a bool
	data, _ := json.Marshal(hostStatus{
		Online:   online,
		ClientID: clientID,
		Reason:   reason,
		TS:       time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
