// Package mqtt subscribes to one broker topic and forwards messages to the
// display. A lost connection is retried at a fixed interval in the
// background.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appLog "paperpiper/internal/log"
	"paperpiper/internal/model"
)

// Defaults for Options.
const (
	DefaultRetryInterval  = 5 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Handler receives messages and connectivity changes. Calls come from
// client goroutines; ctx is cancelled when the link is closed, and a call
// blocked on it must return then.
type Handler interface {
	MQTTMessage(ctx context.Context, topic string, payload []byte)
	MQTTConnectivity(ctx context.Context, connected bool)
}

// Client is the part of a broker client the link drives.
type Client interface {
	Connect(timeout time.Duration) error
	Subscribe(topic string, timeout time.Duration, fn func(topic string, payload []byte)) error
	Disconnect()
}

// ClientFactory builds a client. onLost must be called when an established
// connection drops.
type ClientFactory func(s model.MQTTSettings, clientID string, onLost func(error)) Client

// Options tunes a Link.
type Options struct {
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
	NewClient      ClientFactory
}

func (o *Options) normalize() {
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.NewClient == nil {
		o.NewClient = NewPahoClient
	}
}

// ClientID returns a fresh client id.
func ClientID() string {
	return "paperpiper-" + uuid.NewString()[:8]
}

// Link is a live subscription. It implements orchestrator.Subscription.
type Link struct {
	settings model.MQTTSettings
	opts     Options
	handler  Handler
	client   Client

	ctx       context.Context
	cancel    context.CancelFunc
	lost      chan error
	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Dial connects and subscribes. It fails when the first connection or
// subscription fails; later drops are retried until Close.
func Dial(ctx context.Context, s model.MQTTSettings, h Handler, opts Options) (*Link, error) {
	opts.normalize()
	lctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		settings: s,
		opts:     opts,
		handler:  h,
		ctx:      lctx,
		cancel:   cancel,
		lost:     make(chan error, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	id := ClientID()
	l.client = opts.NewClient(s, id, l.onLost)

	errc := make(chan error, 1)
	go func() { errc <- l.connect() }()
	select {
	case err := <-errc:
		if err != nil {
			cancel()
			l.client.Disconnect()
			return nil, fmt.Errorf("mqtt: connect failed: %w", err)
		}
	case <-ctx.Done():
		cancel()
		go func() {
			<-errc
			l.client.Disconnect()
		}()
		return nil, ctx.Err()
	}

	appLog.Info("mqtt subscribed", "broker", s.Broker, "port", s.Port, "topic", s.Topic, "client_id", id)
	go l.supervise()
	return l, nil
}

// Settings returns the broker configuration of the link.
func (l *Link) Settings() model.MQTTSettings { return l.settings }

// Close stops retrying and disconnects. Messages arriving afterwards are
// dropped. It may be called from the goroutine that drains the handler:
// pending handler calls are released before Close waits for the
// supervisor.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		close(l.stop)
		<-l.done
		l.client.Disconnect()
		appLog.Info("mqtt link closed", "broker", l.settings.Broker, "topic", l.settings.Topic)
	})
	return nil
}

func (l *Link) connect() error {
	if err := l.client.Connect(l.opts.ConnectTimeout); err != nil {
		return err
	}
	return l.client.Subscribe(l.settings.Topic, l.opts.ConnectTimeout, l.deliver)
}

func (l *Link) deliver(topic string, payload []byte) {
	if l.closed.Load() {
		return
	}
	l.handler.MQTTMessage(l.ctx, topic, payload)
}

func (l *Link) onLost(err error) {
	select {
	case l.lost <- err:
	default:
	}
}

func (l *Link) supervise() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case err := <-l.lost:
			appLog.Warn("mqtt connection lost", "broker", l.settings.Broker, "err", errString(err))
			l.handler.MQTTConnectivity(l.ctx, false)
			if !l.reconnect() {
				return
			}
			l.handler.MQTTConnectivity(l.ctx, true)
		}
	}
}

// reconnect retries at a fixed interval until it succeeds or the link is
// closed.
func (l *Link) reconnect() bool {
	t := time.NewTicker(l.opts.RetryInterval)
	defer t.Stop()
	for attempt := 1; ; attempt++ {
		select {
		case <-l.stop:
			return false
		case <-t.C:
		}
		l.client.Disconnect()
		if err := l.connect(); err != nil {
			appLog.Debug("mqtt reconnect failed", "attempt", attempt, "err", err.Error())
			continue
		}
		appLog.Info("mqtt reconnected", "broker", l.settings.Broker, "attempt", attempt)
		// A drop reported while we were still reconnecting is stale.
		select {
		case <-l.lost:
		default:
		}
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
