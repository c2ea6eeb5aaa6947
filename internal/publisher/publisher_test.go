// internal/publisher/publisher_test.go
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/unipi-control/internal/config"
	"github.com/tamzrod/unipi-control/internal/feature"
	"github.com/tamzrod/unipi-control/internal/poller"
	"github.com/tamzrod/unipi-control/internal/status"
)

// ------------------------------------------------------------
// fakes
// ------------------------------------------------------------

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu       sync.Mutex
	msgs     []published
	handlers map[string]mqtt.MessageHandler
	failPub  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failPub != nil {
		return fakeToken{err: c.failPub}
	}

	var s string
	switch v := payload.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	}
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, retained: retained, payload: s})
	return fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return fakeToken{}
}

func (c *fakeClient) take() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.msgs
	c.msgs = nil
	return out
}

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{QoS: 1, ConnectTimeoutMs: 100}
}

func decodeStatus(t *testing.T, payload string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &m))
	return m
}

// ------------------------------------------------------------
// topics
// ------------------------------------------------------------

func TestTopics(t *testing.T) {
	topics := NewTopics("Unipi Neuron")

	require.Equal(t, "unipi_neuron", topics.Prefix())
	require.Equal(t, "unipi_neuron/status", topics.Availability())
	require.Equal(t, "unipi_neuron/status/tcp", topics.Status(config.ConnectionTCP))
	require.Equal(t, "unipi_neuron/relay/physical/ro_2_01/get", topics.State(feature.KindRelay, "ro_2_01"))
	require.Equal(t, "unipi_neuron/led/led_1_01/set", topics.Command(feature.KindLED, "led_1_01"))
	require.Equal(t, "unipi_neuron/meter/active_power_1/get", topics.State(feature.KindMeter, "active_power_1"))

	circuit, err := topics.CircuitFromCommand("unipi_neuron/output/analog/ao_1_01/set")
	require.NoError(t, err)
	require.Equal(t, "ao_1_01", circuit)

	circuit, err = topics.CircuitFromCommand("unipi_neuron/led/led_1_01/set")
	require.NoError(t, err)
	require.Equal(t, "led_1_01", circuit)

	for _, bad := range []string{
		"unipi_neuron/set",
		"other/relay/physical/ro_1_01/set",
		"unipi_neuron/relay/physical/ro_1_01/get",
		"unipi_neuron/a/b/c/d/set",
	} {
		_, err := topics.CircuitFromCommand(bad)
		require.Error(t, err, bad)
	}
}

// ------------------------------------------------------------
// publisher
// ------------------------------------------------------------

func TestWritePublishesStatesAndStatusOnChange(t *testing.T) {
	client := newFakeClient()
	p := New(client, NewTopics("unipi"), testMQTTConfig(), zerolog.Nop())

	res := poller.PollResult{
		Initial: true,
		Scans:   []poller.ScanResult{{Connection: config.ConnectionTCP}},
		States: []feature.State{
			{Kind: feature.KindRelay, Circuit: "ro_2_01", Value: 1},
			{Kind: feature.KindAnalogInput, Circuit: "ai_1_01", Value: 4.2},
		},
	}
	require.NoError(t, p.Write(res))

	msgs := client.take()
	require.Len(t, msgs, 3)
	require.Equal(t, published{topic: "unipi/relay/physical/ro_2_01/get", qos: 1, retained: true, payload: "ON"}, msgs[0])
	require.Equal(t, "unipi/input/analog/ai_1_01/get", msgs[1].topic)
	require.Equal(t, "4.2", msgs[1].payload)
	require.Equal(t, "unipi/status/tcp", msgs[2].topic)
	require.Equal(t, "ok", decodeStatus(t, msgs[2].payload)["health"])

	// unchanged status is not republished
	require.NoError(t, p.Write(poller.PollResult{Scans: []poller.ScanResult{{Connection: config.ConnectionTCP}}}))
	require.Empty(t, client.take())
}

func TestWriteLogsInitialCycleOnce(t *testing.T) {
	var buf bytes.Buffer
	client := newFakeClient()
	p := New(client, NewTopics("unipi"), testMQTTConfig(), zerolog.New(&buf))

	states := []feature.State{{Kind: feature.KindDigitalInput, Circuit: "di_1_01", Value: 1}}
	require.NoError(t, p.Write(poller.PollResult{Initial: true, States: states}))
	require.Contains(t, buf.String(), `"message":"initial feature states published"`)
	require.Contains(t, buf.String(), `"states":1`)

	buf.Reset()
	require.NoError(t, p.Write(poller.PollResult{States: states}))
	require.NotContains(t, buf.String(), "initial feature states published")
}

func TestWriteHonoursRetainFlag(t *testing.T) {
	client := newFakeClient()
	retain := false
	cfg := testMQTTConfig()
	cfg.Retain = &retain
	p := New(client, NewTopics("unipi"), cfg, zerolog.Nop())

	require.NoError(t, p.Write(poller.PollResult{
		States: []feature.State{{Kind: feature.KindDigitalInput, Circuit: "di_1_01"}},
	}))

	msgs := client.take()
	require.Len(t, msgs, 1)
	require.False(t, msgs[0].retained)
	require.Equal(t, "OFF", msgs[0].payload)
}

func TestStatusErrorTickAndRecovery(t *testing.T) {
	client := newFakeClient()
	p := New(client, NewTopics("unipi"), testMQTTConfig(), zerolog.Nop())

	failed := poller.PollResult{Scans: []poller.ScanResult{
		{Connection: config.ConnectionTCP},
		{Connection: config.ConnectionSerial, Err: errors.New("timeout")},
	}}
	require.NoError(t, p.Write(failed))
	require.Len(t, client.take(), 2)

	snap, ok := p.Snapshot(config.ConnectionSerial)
	require.True(t, ok)
	require.Equal(t, status.HealthError, snap.Health)
	require.Equal(t, status.GenericErrorCode, snap.LastErrorCode)

	require.NoError(t, p.Tick())
	msgs := client.take()
	require.Len(t, msgs, 1)
	require.Equal(t, "unipi/status/serial", msgs[0].topic)
	require.EqualValues(t, 1, decodeStatus(t, msgs[0].payload)["seconds_in_error"])

	require.NoError(t, p.Write(poller.PollResult{Scans: []poller.ScanResult{{Connection: config.ConnectionSerial}}}))
	msgs = client.take()
	require.Len(t, msgs, 1)
	require.Equal(t, "ok", decodeStatus(t, msgs[0].payload)["health"])

	require.NoError(t, p.Tick())
	require.Empty(t, client.take())
}

func TestWriteReportsPublishFailures(t *testing.T) {
	client := newFakeClient()
	client.failPub = errors.New("not connected")
	p := New(client, NewTopics("unipi"), testMQTTConfig(), zerolog.Nop())

	err := p.Write(poller.PollResult{
		Scans:  []poller.ScanResult{{Connection: config.ConnectionTCP}},
		States: []feature.State{{Kind: feature.KindRelay, Circuit: "ro_1_01", Value: 1}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ro_1_01")
	require.Contains(t, err.Error(), "status/tcp")
}

// ------------------------------------------------------------
// commander
// ------------------------------------------------------------

type fakeFeature struct {
	kind    feature.Kind
	circuit string

	mu     sync.Mutex
	values []float64
	err    error
	done   chan struct{}
}

func (f *fakeFeature) Kind() feature.Kind      { return f.kind }
func (f *fakeFeature) Circuit() string         { return f.circuit }
func (f *fakeFeature) Info() feature.Info      { return feature.Info{Kind: f.kind, Circuit: f.circuit} }
func (f *fakeFeature) Value() (float64, error) { return 0, nil }
func (f *fakeFeature) Changed() (bool, error)  { return false, nil }
func (f *fakeFeature) State() (feature.State, error) {
	return feature.State{Kind: f.kind, Circuit: f.circuit}, nil
}

func (f *fakeFeature) SetState(ctx context.Context, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	f.values = append(f.values, value)
	if f.done != nil {
		f.done <- struct{}{}
	}
	return f.err
}

// readOnly does not implement SetState.
type readOnly struct {
	kind    feature.Kind
	circuit string
}

func (r readOnly) Kind() feature.Kind      { return r.kind }
func (r readOnly) Circuit() string         { return r.circuit }
func (r readOnly) Info() feature.Info      { return feature.Info{Kind: r.kind, Circuit: r.circuit} }
func (r readOnly) Value() (float64, error) { return 0, nil }
func (r readOnly) Changed() (bool, error)  { return false, nil }
func (r readOnly) State() (feature.State, error) {
	return feature.State{Kind: r.kind, Circuit: r.circuit}, nil
}

type fakeDirectory map[string]feature.Feature

func (d fakeDirectory) ByCircuit(circuit string) (feature.Feature, bool) {
	f, ok := d[circuit]
	return f, ok
}

type writeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (w *writeCounter) ObserveScan(config.Connection, time.Duration, error) {}
func (w *writeCounter) IncWrite(kind string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.counts == nil {
		w.counts = make(map[string]int)
	}
	key := kind + "/ok"
	if err != nil {
		key = kind + "/error"
	}
	w.counts[key]++
}

func newTestCommander(t *testing.T, dir Directory, collector *writeCounter) *Commander {
	t.Helper()
	c, err := NewCommander(CommanderConfig{Workers: 2, Timeout: time.Second, QoS: 1},
		dir, NewTopics("unipi"), collector, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestHandleWritesFeature(t *testing.T) {
	relay := &fakeFeature{kind: feature.KindRelay, circuit: "ro_2_01"}
	ao := &fakeFeature{kind: feature.KindAnalogOutput, circuit: "ao_1_01"}
	counter := &writeCounter{}
	c := newTestCommander(t, fakeDirectory{"ro_2_01": relay, "ao_1_01": ao}, counter)

	ctx := context.Background()
	require.NoError(t, c.Handle(ctx, "unipi/relay/physical/ro_2_01/set", []byte("ON")))
	require.NoError(t, c.Handle(ctx, "unipi/relay/physical/ro_2_01/set", []byte(" off ")))
	require.NoError(t, c.Handle(ctx, "unipi/output/analog/ao_1_01/set", []byte("5.25")))

	require.Equal(t, []float64{1, 0}, relay.values)
	require.Equal(t, []float64{5.25}, ao.values)
	require.Equal(t, 2, counter.counts["RO/ok"])
	require.Equal(t, 1, counter.counts["AO/ok"])
}

func TestHandleRejections(t *testing.T) {
	failing := &fakeFeature{kind: feature.KindRelay, circuit: "ro_1_02", err: errors.New("device busy")}
	counter := &writeCounter{}
	c := newTestCommander(t, fakeDirectory{
		"di_1_01": readOnly{kind: feature.KindDigitalInput, circuit: "di_1_01"},
		"ao_1_01": &fakeFeature{kind: feature.KindAnalogOutput, circuit: "ao_1_01"},
		"ro_1_02": failing,
	}, counter)
	ctx := context.Background()

	err := c.Handle(ctx, "unipi/relay/physical/ro_9_99/set", []byte("ON"))
	require.ErrorIs(t, err, feature.ErrMissingFeature)

	err = c.Handle(ctx, "unipi/input/digital/di_1_01/set", []byte("ON"))
	require.ErrorIs(t, err, feature.ErrNotWritable)

	// ON is not a number for analog kinds
	err = c.Handle(ctx, "unipi/output/analog/ao_1_01/set", []byte("ON"))
	require.Error(t, err)

	err = c.Handle(ctx, "unipi/relay/physical/ro_1_02/set", []byte("ON"))
	require.ErrorContains(t, err, "device busy")
	require.Equal(t, 1, counter.counts["RO/error"])

	err = c.Handle(ctx, "unipi/relay/physical/ro_1_02/get", []byte("ON"))
	require.Error(t, err)
}

func TestSubscribeDispatchesToPool(t *testing.T) {
	relay := &fakeFeature{kind: feature.KindRelay, circuit: "ro_1_01", done: make(chan struct{}, 1)}
	c := newTestCommander(t, fakeDirectory{"ro_1_01": relay}, &writeCounter{})

	client := newFakeClient()
	require.NoError(t, c.Subscribe(context.Background(), client))
	require.Len(t, client.handlers, 2)

	handler := client.handlers["unipi/+/+/+/set"]
	require.NotNil(t, handler)
	handler(nil, fakeMessage{topic: "unipi/relay/physical/ro_1_01/set", payload: []byte("ON")})

	select {
	case <-relay.done:
	case <-time.After(2 * time.Second):
		t.Fatal("command was not handled")
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Equal(t, []float64{1}, relay.values)
}

func TestNewCommanderValidates(t *testing.T) {
	_, err := NewCommander(CommanderConfig{Workers: 0, Timeout: time.Second}, fakeDirectory{}, NewTopics("u"), nil, zerolog.Nop())
	require.Error(t, err)
	_, err = NewCommander(CommanderConfig{Workers: 1}, fakeDirectory{}, NewTopics("u"), nil, zerolog.Nop())
	require.Error(t, err)
	_, err = NewCommander(CommanderConfig{Workers: 1, Timeout: time.Second}, nil, NewTopics("u"), nil, zerolog.Nop())
	require.Error(t, err)
}

func TestParsePayload(t *testing.T) {
	v, err := ParsePayload(feature.KindLED, []byte("on"))
	require.NoError(t, err)
	require.Equal(t, 1.0, v)

	v, err = ParsePayload(feature.KindDigitalOutput, []byte("0"))
	require.NoError(t, err)
	require.Equal(t, 0.0, v)

	v, err = ParsePayload(feature.KindAnalogOutput, []byte("-1.5"))
	require.NoError(t, err)
	require.Equal(t, -1.5, v)

	_, err = ParsePayload(feature.KindAnalogOutput, []byte("NaN"))
	require.Error(t, err)
	_, err = ParsePayload(feature.KindRelay, []byte(""))
	require.Error(t, err)
}

func TestBuildOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:           "tcp://localhost:1883",
		Username:         "user",
		Password:         "secret",
		KeepAliveS:       15,
		ConnectTimeoutMs: 5000,
		QoS:              1,
	}
	opts := buildOptions(cfg, NewTopics("Unipi"), nil, zerolog.Nop())

	require.Len(t, opts.Servers, 1)
	require.Equal(t, "localhost:1883", opts.Servers[0].Host)
	require.Regexp(t, `^unipi-[0-9a-f-]{36}$`, opts.ClientID)
	require.Equal(t, "user", opts.Username)
	require.True(t, opts.WillEnabled)
	require.Equal(t, "unipi/status", opts.WillTopic)
	require.Equal(t, []byte("offline"), opts.WillPayload)
	require.True(t, opts.WillRetained)
	require.True(t, opts.AutoReconnect)
	require.Equal(t, int64(15), opts.KeepAlive)
	require.Equal(t, 5*time.Second, opts.ConnectTimeout)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
