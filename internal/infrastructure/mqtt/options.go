package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sensornode/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used when the session does not set one.
	defaultKeepAlive = 240 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// SessionConfig describes one broker session.
type SessionConfig struct {
	Host     string
	Port     int
	ClientID string
	Username string

	TLS       config.MQTTTLSConfig
	KeepAlive time.Duration
	Reconnect config.MQTTReconnectConfig

	// AutoReconnect lets paho re-establish a dropped session on its own.
	// The provisioning session leaves this off and reconnects itself.
	AutoReconnect bool
}

// NewSessionConfig fills the transport-wide parts of a SessionConfig from cfg.
func NewSessionConfig(cfg config.MQTTConfig, host string, port int, clientID, username string) SessionConfig {
	return SessionConfig{
		Host:      host,
		Port:      port,
		ClientID:  clientID,
		Username:  username,
		TLS:       cfg.TLS,
		KeepAlive: time.Duration(cfg.KeepAlive) * time.Second,
		Reconnect: cfg.Reconnect,
	}
}

// BrokerURL returns the paho broker URL for the session.
func (s SessionConfig) BrokerURL() string {
	scheme := "tcp"
	if s.TLS.Enabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// buildClientOptions creates paho MQTT options for a session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and username (the device authenticates with its certificate)
//   - Optional auto-reconnect with exponential backoff
//   - TLS with the device certificate when enabled
//   - Clean session mode
func buildClientOptions(cfg SessionConfig) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(cfg.AutoReconnect)
	if cfg.AutoReconnect {
		opts.SetConnectRetry(true)
		opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS, cfg.Host)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig loads the CA bundle and device key pair named in cfg.
// Empty paths fall back to the system roots and no client certificate.
func buildTLSConfig(cfg config.MQTTTLSConfig, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: serverName,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading device key pair: %w", ErrTLSConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
