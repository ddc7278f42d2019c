// Package telemetry publishes safety events to an MQTT broker.
//
// Publishing is strictly best-effort: a slow or absent broker must
// never block a stop path, so events are dropped when the connection
// is down and publish results are checked off the caller's goroutine.
package telemetry

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event kinds emitted by the safety layer.
const (
	KindEmergencyStop  = "emergency_stop"
	KindEmergencyClear = "emergency_clear"
	KindTimeoutStop    = "timeout_stop"
	KindHardwareFault  = "hardware_fault"
)

type Event struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Source  string    `json:"source,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

type Sink interface {
	Publish(evt Event)
}

// Nop discards all events. Used when telemetry is disabled.
type Nop struct{}

func (Nop) Publish(Event) {}

type Config struct {
	Broker      string
	TopicPrefix string
	ClientID    string
}

type Emitter struct {
	client mqtt.Client
	prefix string
	logger zerolog.Logger
}

// NewEmitter connects to the broker in the background and returns
// immediately. Events published before the connection is up are
// dropped.
func NewEmitter(cfg Config, logger zerolog.Logger) *Emitter {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "armctl-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("telemetry connect failed")
			return
		}
		logger.Info().Str("broker", cfg.Broker).Msg("telemetry connected")
	}()

	return &Emitter{client: client, prefix: cfg.TopicPrefix, logger: logger}
}

func (e *Emitter) Publish(evt Event) {
	evt = normalize(evt)
	if !e.client.IsConnectionOpen() {
		e.logger.Debug().Str("kind", evt.Kind).Msg("telemetry drop: broker not connected")
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Warn().Err(err).Str("kind", evt.Kind).Msg("telemetry marshal failed")
		return
	}
	topic := eventTopic(e.prefix, evt.Kind)
	token := e.client.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			e.logger.Warn().Err(err).Str("topic", topic).Msg("telemetry publish failed")
		}
	}()
}

func (e *Emitter) Close() {
	e.client.Disconnect(250)
}

func normalize(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	return evt
}

func eventTopic(prefix, kind string) string {
	if prefix == "" {
		prefix = "armctl"
	}
	return prefix + "/events/" + kind
}
