package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/playout-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	// opTimeout bounds one publish, subscribe or unsubscribe round trip.
	opTimeout = 5 * time.Second
	keepAlive = 60 * time.Second

	disconnectQuiesceMillis = 1000
	maxQoS                  = 2
)

// Reasons carried by an offline daemon status.
const (
	reasonCrashed  = "unexpected_disconnect"
	reasonShutdown = "graceful_shutdown"
)

// daemonStatus is the retained payload on <prefix>/system/status. Gateways
// hold their last snapshot while the daemon is offline with reasonCrashed.
type daemonStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(daemonStatus{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// buildClientOptions maps the mqtt config section onto paho options. The
// session is clean; callback subscriptions are restored by handleConnect
// instead of by the broker.
func buildClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// The broker publishes the will if the daemon drops off without Close.
	opts.SetBinaryWill(topics.SystemStatus(),
		statusPayload(cfg.Broker.ClientID, "offline", reasonCrashed), 1, true)
	return opts
}
