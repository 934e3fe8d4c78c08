// Package notify publishes job and save lifecycle notifications to an MQTT
// broker, for downstream automation that wants push instead of SSE.
package notify

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Publisher pushes lifecycle messages to a single topic. All publishes are
// QoS 0 fire-and-forget; a disconnected broker drops messages rather than
// blocking the engine.
type Publisher struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

// Options configures Connect.
type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	Log       zerolog.Logger
}

type message struct {
	Event    string `json:"event"`
	RecordID string `json:"record_id"`
	JobID    string `json:"job_id,omitempty"`
	At       string `json:"at"`
}

// Connect dials the broker and returns a publisher. The connection
// auto-reconnects; publishes while disconnected are dropped.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{
		topic: opts.Topic,
		log:   opts.Log.With().Str("component", "notify").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return p, nil
}

// JobCompleted announces a finished transcription.
func (p *Publisher) JobCompleted(recordID, jobID string) {
	p.publish("job.completed", recordID, jobID)
}

// JobFailed announces a failed transcription.
func (p *Publisher) JobFailed(recordID, jobID string) {
	p.publish("job.failed", recordID, jobID)
}

// DocumentSaved announces a successful document write for a session.
func (p *Publisher) DocumentSaved(recordID string) {
	p.publish("document.saved", recordID, "")
}

func (p *Publisher) publish(event, recordID, jobID string) {
	if !p.connected.Load() {
		return
	}
	payload, err := json.Marshal(message{
		Event:    event,
		RecordID: recordID,
		JobID:    jobID,
		At:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	p.conn.Publish(p.topic, 0, false, payload)
}

func (p *Publisher) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Str("topic", p.topic).Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// IsConnected reports the live broker connection state.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// Close flushes and disconnects.
func (p *Publisher) Close() {
	p.log.Info().Msg("disconnecting mqtt publisher")
	p.conn.Disconnect(1000)
}
