package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the broker settings for MQTTSink.
type MQTTConfig struct {
	Broker   string
	ClientID string
	// Topic is the prefix; events are published to <Topic>/<run id>.
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTSink publishes events as JSON to an MQTT broker. Publishing does not
// wait for broker acknowledgement.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *slog.Logger
}

// NewMQTTSink connects to the broker and returns a sink.
func NewMQTTSink(cfg MQTTConfig, logger *slog.Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker not set")
	}
	if cfg.Topic == "" {
		cfg.Topic = "framewatch/progress"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	logger = logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt: connection lost", "error", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	logger.Info("mqtt: connected", "broker", cfg.Broker, "topic", cfg.Topic)

	return &MQTTSink{
		client: client,
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

// Publish implements Sink.
func (s *MQTTSink) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("mqtt: encode event", "error", err)
		return
	}
	s.client.Publish(s.topic+"/"+e.RunID, s.qos, false, payload)
}

// Close disconnects from the broker, waiting up to 250ms for in-flight
// messages.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
