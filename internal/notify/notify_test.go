package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeClient implements the subset of mqtt.Client the notifier uses.
type fakeClient struct {
	mqtt.Client
	mu         sync.Mutex
	connected  bool
	publishErr error
	messages   []published
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: c.publishErr}
}

type recordingObserver struct {
	mu        sync.Mutex
	results   map[string][]error
	connected bool
}

func (o *recordingObserver) ObservePublish(channel string, _ time.Time, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string][]error)
	}
	o.results[channel] = append(o.results[channel], err)
}

func (o *recordingObserver) UpdateConnectionStatus(connected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = connected
}

func sampleEvent() *Event {
	oldMetric, newMetric := 0.80, 0.82
	return &Event{
		ModelType: "Object",
		RunName:   "obj_20250304_050607",
		Outcome:   "promoted",
		Promoted:  true,
		OldMetric: &oldMetric,
		NewMetric: &newMetric,
		Images:    2,
		Message:   "promoted",
	}
}

func TestMQTTNotifierPublishesToTypeTopic(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	observer := &recordingObserver{}
	settings := &conf.MQTTSettings{Broker: "tcp://127.0.0.1:1883", Topic: "bbd/training/", QoS: 1}
	n := newMQTTNotifierWithClient(settings, client, observer)

	require.NoError(t, n.Connect(context.Background()))
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "bbd/training/Object", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "Object", decoded["type"])
	assert.Equal(t, "promoted", decoded["outcome"])
	assert.InDelta(t, 0.82, decoded["newMetric"], 1e-9)
	assert.Equal(t, []error{nil}, observer.results["mqtt"])

	require.NoError(t, n.Close())
	assert.False(t, client.IsConnected())
}

func TestMQTTNotifierNotConnected(t *testing.T) {
	t.Parallel()

	observer := &recordingObserver{}
	n := newMQTTNotifierWithClient(&conf.MQTTSettings{Topic: "bbd"}, &fakeClient{}, observer)

	err := n.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	require.Len(t, observer.results["mqtt"], 1)
	assert.Error(t, observer.results["mqtt"][0])
}

func TestMQTTNotifierPublishError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connected: true, publishErr: errors.NewStd("broker rejected")}
	n := newMQTTNotifierWithClient(&conf.MQTTSettings{Topic: "bbd"}, client, nil)

	err := n.Notify(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker rejected")
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, *Event) error {
	c.calls++
	return c.err
}

func (c *countingNotifier) Close() error { return nil }

func TestMultiAttemptsEveryNotifier(t *testing.T) {
	t.Parallel()

	failing := &countingNotifier{err: errors.NewStd("down")}
	ok := &countingNotifier{}
	err := Multi{failing, ok}.Notify(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestEventText(t *testing.T) {
	t.Parallel()

	e := sampleEvent()
	assert.Equal(t, "Object training promoted", e.Title())
	assert.Contains(t, e.Body(), "0.8000 -> 0.8200")
	assert.Contains(t, e.Body(), "obj_20250304_050607")
}

func TestShoutrrrNotifierValidation(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrNotifier(nil, 0, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	secret := "notaservice://token-123@example.com"
	_, err = NewShoutrrrNotifier([]string{secret}, 0, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token-123")
}

func TestFromSettingsDisabled(t *testing.T) {
	t.Parallel()

	n, err := FromSettings(context.Background(), &conf.NotifySettings{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
}
