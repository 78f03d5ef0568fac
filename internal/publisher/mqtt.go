package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/trackusage/internal/config"
	"github.com/jgoulah/trackusage/pkg/models"
)

// Publisher announces finished aggregation runs on MQTT
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
}

// New connects to the configured broker
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("trackusage")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return NewWithClient(client, cfg.GetTopicPrefix()), nil
}

// NewWithClient wraps an already configured client
func NewWithClient(client mqtt.Client, topicPrefix string) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		qos:         1,
	}
}

// Topic returns the topic a summary is published on: <prefix>/weekly/<year>-W<week>
// for single-week runs and <prefix>/runs otherwise.
func (p *Publisher) Topic(summary models.RunSummary) string {
	if summary.Year == 0 || summary.WeekNumber == 0 {
		return p.topicPrefix + "/runs"
	}
	return fmt.Sprintf("%s/weekly/%d-W%02d", p.topicPrefix, summary.Year, summary.WeekNumber)
}

// PublishSummary sends the run summary as retained JSON
func (p *Publisher) PublishSummary(summary models.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	token := p.client.Publish(p.Topic(summary), p.qos, true, body)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publishing to %s: timed out", p.Topic(summary))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Topic(summary), err)
	}
	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
