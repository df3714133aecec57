package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"paperpiper/internal/model"
)

var errTimeout = errors.New("timed out")

type pahoClient struct {
	c paho.Client
}

// NewPahoClient is the default ClientFactory. Paho's own reconnect is off;
// the Link retries.
func NewPahoClient(s model.MQTTSettings, clientID string, onLost func(error)) Client {
	port := s.Port
	if port <= 0 {
		port = model.DefaultMQTTPort
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", net.JoinHostPort(s.Broker, strconv.Itoa(port))))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		onLost(err)
	})
	return &pahoClient{c: paho.NewClient(opts)}
}

func wait(tok paho.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return errTimeout
	}
	return tok.Error()
}

func (p *pahoClient) Connect(timeout time.Duration) error {
	return wait(p.c.Connect(), timeout)
}

func (p *pahoClient) Subscribe(topic string, timeout time.Duration, fn func(string, []byte)) error {
	tok := p.c.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
		fn(m.Topic(), m.Payload())
	})
	return wait(tok, timeout)
}

func (p *pahoClient) Disconnect() {
	if p.c.IsConnected() {
		p.c.Disconnect(250)
	}
}
