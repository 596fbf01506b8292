package telemetry

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MQTT parameters
const (
	qos      = 1
	retain   = false
	username = "unused"
)

type MQTTConfig struct {
	Broker         string
	DeviceID       string
	ProjectID      string
	Region         string
	RegistryID     string
	PrivateKeyPath string
	// Algorithm is RS256 or ES256.
	Algorithm      string
	ConnectRetries int
}

func (c MQTTConfig) clientID() string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
		c.ProjectID, c.Region, c.RegistryID, c.DeviceID)
}

// password signs a JWT for the broker with the device private key.
func (c MQTTConfig) password(now time.Time) (string, error) {
	keyData, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return "", errors.Wrap(err, "read private key")
	}

	var key interface{}
	switch c.Algorithm {
	case "RS256":
		key, err = jwt.ParseRSAPrivateKeyFromPEM(keyData)
	case "ES256":
		key, err = jwt.ParseECPrivateKeyFromPEM(keyData)
	default:
		return "", errors.Errorf("unknown algorithm: %s", c.Algorithm)
	}
	if err != nil {
		return "", errors.Wrap(err, "parse private key")
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(c.Algorithm), &jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(24 * time.Hour).Unix(),
		Audience:  c.ProjectID,
	})
	pass, err := token.SignedString(key)
	return pass, errors.Wrap(err, "sign token")
}

// NewMQTTClient connects to the broker, authenticating with a JWT signed by
// the device key.
func NewMQTTClient(c MQTTConfig) (mqtt.Client, error) {
	pass, err := c.password(time.Now())
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"broker":   c.Broker,
		"clientID": c.clientID(),
	}).Info("Connecting MQTT")

	opts := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.clientID()).
		SetUsername(username).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetPassword(pass).
		SetProtocolVersion(4) // Use MQTT 3.1.1

	client := mqtt.NewClient(opts)
	for attempt := 1; ; attempt++ {
		tok := client.Connect()
		if !tok.WaitTimeout(5 * time.Second) {
			logrus.WithField("attempt", attempt).Warn("MQTT connection timeout")
			if attempt >= c.ConnectRetries {
				return nil, errors.Errorf("mqtt connect: no answer after %d attempts", attempt)
			}
			continue
		}
		if err := tok.Error(); err != nil {
			return nil, errors.Wrap(err, "mqtt connect")
		}
		break
	}
	logrus.Info("MQTT connected")
	return client, nil
}

type mqttPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewMQTTPublisher publishes with QoS 1 and waits at most timeout for the
// broker to acknowledge.
func NewMQTTPublisher(client mqtt.Client, timeout time.Duration) Publisher {
	return &mqttPublisher{client, timeout}
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	tok := p.client.Publish(topic, qos, retain, payload)
	if !tok.WaitTimeout(p.timeout) {
		return errors.Errorf("publish %s: timeout", topic)
	}
	return errors.Wrapf(tok.Error(), "publish %s", topic)
}
