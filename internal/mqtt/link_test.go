package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpiper/internal/model"
)

type fakeClient struct {
	mu          sync.Mutex
	failures    int
	connects    int
	subscribes  int
	disconnects int
	topic       string
	fn          func(string, []byte)
	onLost      func(error)
	id          string
}

func (f *fakeClient) Connect(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ time.Duration, fn func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.topic = topic
	f.fn = fn
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeClient) publish(topic, body string) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	fn(topic, []byte(body))
}

func (f *fakeClient) counts() (connects, subscribes, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.subscribes, f.disconnects
}

type recordingHandler struct {
	mu           sync.Mutex
	messages     []string
	connectivity []bool
}

func (h *recordingHandler) MQTTMessage(_ context.Context, topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, topic+"="+string(payload))
}

func (h *recordingHandler) MQTTConnectivity(_ context.Context, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectivity = append(h.connectivity, connected)
}

func (h *recordingHandler) snapshot() ([]string, []bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.messages...), append([]bool(nil), h.connectivity...)
}

func factory(fc *fakeClient) ClientFactory {
	return func(_ model.MQTTSettings, id string, onLost func(error)) Client {
		fc.mu.Lock()
		fc.onLost = onLost
		fc.id = id
		fc.mu.Unlock()
		return fc
	}
}

var settings = model.MQTTSettings{Broker: "broker.local", Port: 1883, Topic: "sensors/#"}

func TestDialSubscribesAndDelivers(t *testing.T) {
	fc := &fakeClient{}
	h := &recordingHandler{}
	l, err := Dial(context.Background(), settings, h, Options{NewClient: factory(fc)})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "sensors/#", fc.topic)
	assert.True(t, strings.HasPrefix(fc.id, "paperpiper-"))
	assert.Equal(t, settings, l.Settings())

	fc.publish("sensors/temp", "21.5")
	msgs, _ := h.snapshot()
	assert.Equal(t, []string{"sensors/temp=21.5"}, msgs)
}

func TestDialConnectFailure(t *testing.T) {
	fc := &fakeClient{failures: 1}
	_, err := Dial(context.Background(), settings, &recordingHandler{}, Options{NewClient: factory(fc)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt: connect failed")
	_, subs, disc := fc.counts()
	assert.Zero(t, subs)
	assert.Equal(t, 1, disc)
}

func TestReconnectAfterLoss(t *testing.T) {
	fc := &fakeClient{}
	h := &recordingHandler{}
	l, err := Dial(context.Background(), settings, h, Options{
		NewClient:     factory(fc),
		RetryInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	defer l.Close()

	fc.mu.Lock()
	fc.failures = 2
	lost := fc.onLost
	fc.mu.Unlock()
	lost(errors.New("EOF"))

	require.Eventually(t, func() bool {
		_, conn := h.snapshot()
		return len(conn) == 2
	}, time.Second, 5*time.Millisecond)

	_, conn := h.snapshot()
	assert.Equal(t, []bool{false, true}, conn)
	connects, subs, _ := fc.counts()
	assert.Equal(t, 4, connects)
	assert.Equal(t, 2, subs)
}

func TestCloseStopsRetryAndDropsMessages(t *testing.T) {
	fc := &fakeClient{}
	h := &recordingHandler{}
	l, err := Dial(context.Background(), settings, h, Options{
		NewClient:     factory(fc),
		RetryInterval: time.Hour,
	})
	require.NoError(t, err)

	fc.mu.Lock()
	fc.onLost(errors.New("EOF"))
	fc.mu.Unlock()
	require.Eventually(t, func() bool {
		_, conn := h.snapshot()
		return len(conn) == 1
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = l.Close()
		_ = l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on the retry loop")
	}

	fc.publish("sensors/temp", "late")
	msgs, _ := h.snapshot()
	assert.Empty(t, msgs)
	_, _, disc := fc.counts()
	assert.Equal(t, 1, disc)
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	defer close(block)

	_, err := Dial(ctx, settings, &recordingHandler{}, Options{
		NewClient: func(model.MQTTSettings, string, func(error)) Client {
			return blockingClient{block}
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingClient struct{ release chan struct{} }

func (b blockingClient) Connect(time.Duration) error {
	<-b.release
	return nil
}
func (b blockingClient) Subscribe(string, time.Duration, func(string, []byte)) error { return nil }
func (b blockingClient) Disconnect()                                                {}

// stuckHandler blocks like a full display queue until its context ends.
type stuckHandler struct {
	entered chan struct{}
	once    sync.Once
}

func (h *stuckHandler) MQTTMessage(ctx context.Context, _ string, _ []byte) { <-ctx.Done() }

func (h *stuckHandler) MQTTConnectivity(ctx context.Context, _ bool) {
	h.once.Do(func() { close(h.entered) })
	<-ctx.Done()
}

func TestCloseReleasesBlockedHandler(t *testing.T) {
	fc := &fakeClient{}
	h := &stuckHandler{entered: make(chan struct{})}
	l, err := Dial(context.Background(), settings, h, Options{NewClient: factory(fc)})
	require.NoError(t, err)

	fc.mu.Lock()
	fc.onLost(errors.New("EOF"))
	fc.mu.Unlock()
	<-h.entered

	done := make(chan struct{})
	go func() {
		_ = l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close waited on a blocked handler")
	}
}
