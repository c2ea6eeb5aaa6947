// internal/publisher/client.go
package publisher

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamzrod/unipi-control/internal/config"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Client is the part of mqtt.Client the publisher and commander use.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Connect dials the broker and blocks until the first connection is up.
//
// The last will marks the device offline. Every (re)connect publishes online
// and then runs onConnect, which is where subscriptions belong.
func Connect(cfg config.MQTTConfig, topics Topics, onConnect mqtt.OnConnectHandler, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address is required")
	}

	opts := buildOptions(cfg, topics, onConnect, logger)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout(cfg)) {
		return nil, errors.New("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}

	return client, nil
}

func buildOptions(cfg config.MQTTConfig, topics Topics, onConnect mqtt.OnConnectHandler, logger zerolog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", topics.Prefix(), uuid.NewString()))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAliveS > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAliveS) * time.Second)
	}
	opts.SetConnectTimeout(connectTimeout(cfg))
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetWill(topics.Availability(), payloadOffline, cfg.QoS, true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("mqtt: connected")

		token := c.Publish(topics.Availability(), cfg.QoS, true, payloadOnline)
		if token.WaitTimeout(connectTimeout(cfg)) && token.Error() != nil {
			logger.Error().Err(token.Error()).Msg("mqtt: publish availability failed")
		}

		if onConnect != nil {
			onConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	return opts
}

func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.ConnectTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
}

// Disconnect announces offline and closes the connection.
func Disconnect(client mqtt.Client, topics Topics, qos byte) {
	if client == nil || !client.IsConnected() {
		return
	}
	token := client.Publish(topics.Availability(), qos, true, payloadOffline)
	token.WaitTimeout(time.Second)
	client.Disconnect(250)
}

// wait turns a paho token into an error bounded by timeout.
func wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.New("mqtt: timeout waiting for broker")
	}
	return token.Error()
}
