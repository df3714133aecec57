package orchestrator

import (
	"context"
	"errors"
	"image"

	"paperpiper/internal/activity"
	"paperpiper/internal/gesture"
	"paperpiper/internal/model"
)

// ErrStopped is returned to producers once the loop has exited.
var ErrStopped = errors.New("orchestrator: stopped")

// event is one unit of work applied on the loop goroutine.
type event interface {
	apply(o *Orchestrator, now activity.Millis)
}

// Queue is the single ordered inbox of the orchestrator. It is safe for
// concurrent use by any number of producers. Request methods block until
// the loop has handled the event.
type Queue struct {
	ch   chan event
	done chan struct{}
}

// NewQueue returns a queue with the given buffer size.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan event, size), done: make(chan struct{})}
}

func (q *Queue) post(ctx context.Context, ev event) error {
	select {
	case <-q.done:
		return ErrStopped
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, q *Queue, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-q.done:
		// The loop may have replied just before stopping.
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type textEvent struct {
	text    string
	size    int
	hasSize bool
	reply   chan error
}

func (e textEvent) apply(o *Orchestrator, now activity.Millis) {
	e.reply <- o.OnTextSubmitted(e.text, e.size, e.hasSize, now)
}

// SubmitText posts a text submission and waits for the result.
func (q *Queue) SubmitText(ctx context.Context, text string, size int, hasSize bool) error {
	ev := textEvent{text: text, size: size, hasSize: hasSize, reply: make(chan error, 1)}
	if err := q.post(ctx, ev); err != nil {
		return err
	}
	err, werr := await(ctx, q, ev.reply)
	if werr != nil {
		return werr
	}
	return err
}

type imageEvent struct {
	asset model.ImageAsset
	reply chan error
}

func (e imageEvent) apply(o *Orchestrator, now activity.Millis) {
	e.reply <- o.OnImageUploaded(e.asset, now)
}

// UploadImage posts a completed upload and waits for it to be shown.
func (q *Queue) UploadImage(ctx context.Context, asset model.ImageAsset) error {
	ev := imageEvent{asset: asset, reply: make(chan error, 1)}
	if err := q.post(ctx, ev); err != nil {
		return err
	}
	err, werr := await(ctx, q, ev.reply)
	if werr != nil {
		return werr
	}
	return err
}

type mqttConfigEvent struct {
	settings model.MQTTSettings
	sub      Subscription
	reply    chan error
}

func (e mqttConfigEvent) apply(o *Orchestrator, now activity.Millis) {
	e.reply <- o.OnMQTTConfigured(e.settings, e.sub, now)
}

// ConfigureMQTT hands a connected subscription to the orchestrator. If the
// loop is gone the subscription is closed here.
func (q *Queue) ConfigureMQTT(ctx context.Context, settings model.MQTTSettings, sub Subscription) error {
	ev := mqttConfigEvent{settings: settings, sub: sub, reply: make(chan error, 1)}
	if err := q.post(ctx, ev); err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return err
	}
	err, werr := await(ctx, q, ev.reply)
	if errors.Is(werr, ErrStopped) && sub != nil {
		_ = sub.Close()
	}
	if werr != nil {
		return werr
	}
	return err
}

type statusEvent struct {
	reply chan model.Status
}

func (e statusEvent) apply(o *Orchestrator, _ activity.Millis) {
	e.reply <- o.Status()
}

// Status queries the current state.
func (q *Queue) Status(ctx context.Context) (model.Status, error) {
	ev := statusEvent{reply: make(chan model.Status, 1)}
	if err := q.post(ctx, ev); err != nil {
		return model.Status{}, err
	}
	return await(ctx, q, ev.reply)
}

type screenshotEvent struct {
	reply chan image.Image
}

func (e screenshotEvent) apply(o *Orchestrator, _ activity.Millis) {
	img, _ := o.Screenshot()
	e.reply <- img
}

// Screenshot returns a copy of the last rendered frame, or nil when the
// renderer keeps none.
func (q *Queue) Screenshot(ctx context.Context) (image.Image, error) {
	ev := screenshotEvent{reply: make(chan image.Image, 1)}
	if err := q.post(ctx, ev); err != nil {
		return nil, err
	}
	return await(ctx, q, ev.reply)
}

type streamConnectedEvent struct{ client uint64 }

func (e streamConnectedEvent) apply(o *Orchestrator, now activity.Millis) {
	o.OnStreamConnected(e.client, now)
}

type streamBytesEvent struct {
	client uint64
	data   []byte
}

func (e streamBytesEvent) apply(o *Orchestrator, now activity.Millis) {
	o.OnStreamBytes(e.client, e.data, now)
}

// StreamConnected implements stream.Sink.
func (q *Queue) StreamConnected(client uint64) {
	_ = q.post(context.Background(), streamConnectedEvent{client: client})
}

// StreamBytes implements stream.Sink. It blocks while the queue is full,
// which throttles the TCP reader.
func (q *Queue) StreamBytes(client uint64, data []byte) {
	_ = q.post(context.Background(), streamBytesEvent{client: client, data: data})
}

type mqttMessageEvent struct {
	topic   string
	payload []byte
}

func (e mqttMessageEvent) apply(o *Orchestrator, now activity.Millis) {
	o.OnMQTTMessage(e.topic, e.payload, now)
}

type mqttConnectivityEvent struct{ connected bool }

func (e mqttConnectivityEvent) apply(o *Orchestrator, _ activity.Millis) {
	o.OnMQTTConnectivity(e.connected)
}

// MQTTMessage implements mqtt.Handler. It gives up when ctx ends, so a
// link being closed from the loop never waits on a full queue.
func (q *Queue) MQTTMessage(ctx context.Context, topic string, payload []byte) {
	_ = q.post(ctx, mqttMessageEvent{topic: topic, payload: payload})
}

// MQTTConnectivity implements mqtt.Handler.
func (q *Queue) MQTTConnectivity(ctx context.Context, connected bool) {
	_ = q.post(ctx, mqttConnectivityEvent{connected: connected})
}

type touchEvent struct{ sample gesture.Sample }

func (e touchEvent) apply(o *Orchestrator, now activity.Millis) {
	o.OnNativeTouch(e.sample, now)
}

// Touch posts a touch sample in native panel coordinates.
func (q *Queue) Touch(s gesture.Sample) {
	_ = q.post(context.Background(), touchEvent{sample: s})
}
