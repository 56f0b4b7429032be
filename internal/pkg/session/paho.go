package session

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/certs"
	"github.com/pkg/errors"
)

const (
	connectTimeout    = 10 * time.Second
	subscribeTimeout  = 10 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	subscribeQoS      = 1
)

// PahoDialer opens TLS 1.2 mutually-authenticated MQTT connections to
// the vendor's streaming server
type PahoDialer struct{}

func tlsConfig(material *certs.Material) (*tls.Config, error) {
	keyPair, err := tls.X509KeyPair([]byte(material.CertPEM), []byte(material.KeyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "loading client certificate key pair")
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{keyPair},
	}

	if material.CAPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(material.CAPEM)) {
			return nil, errors.New("parsing vendor CA certificate")
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func (d *PahoDialer) Dial(address string, clientID string, material *certs.Material, onMessage MessageHandler) (Conn, error) {
	tlsCfg, err := tlsConfig(material)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(address)
	opts.SetClientID(clientID)
	opts.SetTLSConfig(tlsCfg)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(connectTimeout)

	// The session manager drives reconnection; paho must not race it
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		select {
		case done <- err:
		default:
		}
	})

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		onMessage(msg.Topic(), msg.Payload())
	})

	cli := pahomqtt.NewClient(opts)

	token := cli.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.Errorf("connecting to %s: timeout after %s", address, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", address)
	}

	return &pahoConn{cli: cli, done: done}, nil
}

type pahoConn struct {
	cli  pahomqtt.Client
	done chan error
}

func (c *pahoConn) Subscribe(topic string) error {
	token := c.cli.Subscribe(topic, subscribeQoS, nil)
	if !token.WaitTimeout(subscribeTimeout) {
		return errors.Errorf("subscribing to %s: timeout after %s", topic, subscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribing to %s", topic)
	}

	return nil
}

func (c *pahoConn) Close() {
	c.cli.Disconnect(disconnectQuiesce)
}

func (c *pahoConn) Done() <-chan error {
	return c.done
}
