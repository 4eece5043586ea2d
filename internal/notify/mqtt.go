package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// Timeouts for broker operations.
const (
	ConnectTimeout    = 30 * time.Second
	PublishTimeout    = 10 * time.Second
	DisconnectQuiesce = 250 // milliseconds
)

// PublishObserver records publish attempts. *metrics.NotificationMetrics satisfies it.
type PublishObserver interface {
	ObservePublish(channel string, started time.Time, err error)
	UpdateConnectionStatus(connected bool)
}

// MQTTNotifier publishes events as JSON to <topic>/<type>.
type MQTTNotifier struct {
	settings conf.MQTTSettings
	client   mqtt.Client
	observer PublishObserver
	mu       sync.Mutex
	log      logger.Logger
}

// NewMQTTNotifier creates a notifier for the configured broker. Connect must
// be called before events are published.
func NewMQTTNotifier(settings *conf.MQTTSettings, observer PublishObserver) *MQTTNotifier {
	n := &MQTTNotifier{
		settings: *settings,
		observer: observer,
		log:      GetLogger().Module("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(n.onConnect)
	opts.SetConnectionLostHandler(n.onConnectionLost)
	n.client = mqtt.NewClient(opts)
	return n
}

// newMQTTNotifierWithClient is used by tests to inject a client.
func newMQTTNotifierWithClient(settings *conf.MQTTSettings, client mqtt.Client, observer PublishObserver) *MQTTNotifier {
	return &MQTTNotifier{
		settings: *settings,
		client:   client,
		observer: observer,
		log:      GetLogger().Module("mqtt"),
	}
}

// Connect resolves the broker host and connects.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	u, err := url.Parse(n.settings.Broker)
	if err != nil {
		return mqttError("invalid broker URL", err)
	}

	host := u.Hostname()
	if host != "" && net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return mqttError(fmt.Sprintf("failed to resolve hostname %s", host), err)
		}
	}

	// With connect retry enabled the token only completes once connected, so
	// the wait is bounded by ctx as well.
	token := n.client.Connect()
	timer := time.NewTimer(ConnectTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return mqttError("connection aborted", ctx.Err())
	case <-timer.C:
		return mqttError("connection timeout", nil)
	}
	if err := token.Error(); err != nil {
		return mqttError("connection error", err)
	}
	return nil
}

// Topic returns the topic an event of modelType is published to.
func (n *MQTTNotifier) Topic(modelType string) string {
	return strings.TrimSuffix(n.settings.Topic, "/") + "/" + modelType
}

// Notify implements Notifier.
func (n *MQTTNotifier) Notify(ctx context.Context, event *Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return mqttError("failed to encode event", err)
	}

	started := time.Now()
	err = n.publish(n.Topic(event.ModelType), payload)
	if n.observer != nil {
		n.observer.ObservePublish("mqtt", started, err)
	}
	if err != nil {
		return err
	}

	n.log.Debug("event published",
		logger.String("topic", n.Topic(event.ModelType)),
		logger.Int("size", len(payload)))
	return nil
}

func (n *MQTTNotifier) publish(topic string, payload []byte) error {
	if !n.client.IsConnected() {
		return mqttError("not connected to MQTT broker", nil)
	}
	token := n.client.Publish(topic, n.settings.QoS, n.settings.Retain, payload)
	if !token.WaitTimeout(PublishTimeout) {
		return mqttError("publish timeout", nil)
	}
	if err := token.Error(); err != nil {
		return mqttError("publish failed", err)
	}
	return nil
}

// Close implements Notifier.
func (n *MQTTNotifier) Close() error {
	if n.client.IsConnected() {
		n.client.Disconnect(DisconnectQuiesce)
	}
	if n.observer != nil {
		n.observer.UpdateConnectionStatus(false)
	}
	return nil
}

func (n *MQTTNotifier) onConnect(mqtt.Client) {
	n.log.Info("connected to MQTT broker", logger.String("broker", n.settings.Broker))
	if n.observer != nil {
		n.observer.UpdateConnectionStatus(true)
	}
}

func (n *MQTTNotifier) onConnectionLost(_ mqtt.Client, err error) {
	n.log.Warn("connection to MQTT broker lost",
		logger.String("broker", n.settings.Broker),
		logger.Error(err))
	if n.observer != nil {
		n.observer.UpdateConnectionStatus(false)
	}
}

func mqttError(msg string, err error) error {
	if err == nil {
		err = errors.NewStd(msg)
	} else {
		err = fmt.Errorf("%s: %w", msg, err)
	}
	return errors.New(err).
		Component("notify").
		Category(errors.CategoryMQTTPublish).
		Build()
}
