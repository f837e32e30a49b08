package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/table"
)

const connectTimeout = 10 * time.Second

type Config struct {
	Host        string
	Port        int16
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// Message is the payload published for every harvested table.
type Message struct {
	Endpoint string       `json:"endpoint"`
	RunID    string       `json:"run_id"`
	At       time.Time    `json:"at"`
	Table    *table.Table `json:"table"`
}

// Publisher sends harvested tables to "<prefix>/<endpoint>".
type Publisher struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger
}

func NewClient(cfg Config) mqtt.Client {
	logger := slog.Default().With("module", "publish")
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("MQTT connected", slog.String("host", cfg.Host))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	mqttLogger := slog.Default().With("module", "mqtt")
	mqtt.CRITICAL = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.ERROR = newMqttLogger(mqttLogger, slog.LevelError)
	mqtt.WARN = newMqttLogger(mqttLogger, slog.LevelWarn)

	return mqtt.NewClient(opts)
}

func New(client mqtt.Client, prefix string) *Publisher {
	return &Publisher{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		logger: slog.Default().With("module", "publish"),
	}
}

// Connect blocks until the broker accepted the connection or ctx is done.
func (p *Publisher) Connect(ctx context.Context) error {
	p.logger.Debug("connecting MQTT client")
	return wait(ctx, p.client.Connect())
}

func (p *Publisher) Topic(endpoint string) string {
	if p.prefix == "" {
		return endpoint
	}
	return p.prefix + "/" + endpoint
}

func (p *Publisher) Publish(ctx context.Context, endpoint, runID string, t *table.Table) error {
	if !p.client.IsConnectionOpen() {
		return errors.New("MQTT client is not connected")
	}
	data, err := json.Marshal(Message{Endpoint: endpoint, RunID: runID, At: time.Now().UTC(), Table: t})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", endpoint, err)
	}
	topic := p.Topic(endpoint)
	if err := wait(ctx, p.client.Publish(topic, 1, false, data)); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	p.logger.Debug("published", slog.String("topic", topic), slog.Int("rows", t.Len()))
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
