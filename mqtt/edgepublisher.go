// Package mqtt publishes S7 trigger edges to a single MQTT broker.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"warlink/s7"
)

// EdgeMessage is the JSON payload published for each trigger edge.
type EdgeMessage struct {
	ID   string `json:"id"`
	Edge string `json:"edge"`
	At   string `json:"at"`
}

// Options configures an EdgePublisher.
type Options struct {
	ClientID string
	Username string
	Password string
	UseTLS   bool
	Topic    string // topic prefix; messages publish to "<prefix>/<id>"
}

// EdgePublisher connects to one MQTT broker and publishes trigger edges.
// It implements s7.TriggerSink.
type EdgePublisher struct {
	broker string
	port   int
	opts   Options

	mu      sync.RWMutex
	client  pahomqtt.Client
	running bool
}

// NewEdgePublisher creates a publisher for broker:port. Call Start to
// connect.
func NewEdgePublisher(broker string, port int, opts Options) *EdgePublisher {
	if opts.Topic == "" {
		opts.Topic = "s7/triggers"
	}
	return &EdgePublisher{broker: broker, port: port, opts: opts}
}

// Start connects to the broker, auto-reconnecting on drop.
func (p *EdgePublisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	clientOpts := pahomqtt.NewClientOptions()
	if p.opts.UseTLS {
		clientOpts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.broker, p.port))
		clientOpts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		clientOpts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.broker, p.port))
	}
	clientOpts.SetClientID(p.opts.ClientID)
	if p.opts.Username != "" {
		clientOpts.SetUsername(p.opts.Username)
		clientOpts.SetPassword(p.opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(5 * time.Second)
	clientOpts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt: connection timeout")
	}
	if err := token.Error(); err != nil {
		return err
	}

	p.mu.Lock()
	p.client = client
	p.running = true
	p.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (p *EdgePublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.client.Disconnect(250)
	p.running = false
}

// Publish implements s7.TriggerSink: publishes a small JSON edge message
// to "<topic prefix>/<id>".
func (p *EdgePublisher) Publish(id string, edge s7.EdgeKind) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("mqtt: publisher not started")
	}

	msg := EdgeMessage{ID: id, Edge: edge.String(), At: time.Now().UTC().Format(time.RFC3339Nano)}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	topic := fmt.Sprintf("%s/%s", p.opts.Topic, id)
	token := p.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}
