package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	subscribeQOS     = 1
	connectRetryWait = 2 * time.Second
	subChannelDepth  = 128
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string // optional; a random suffix is appended when empty
}

// MQTTConn is a Conn over an MQTT broker via the Paho client. The
// client auto-reconnects and re-subscribes registered filters on
// reconnect.
type MQTTConn struct {
	client paho.Client

	mu   sync.Mutex
	subs map[string]paho.MessageHandler // filter → handler, replayed on reconnect
}

// DialMQTT connects to the broker, retrying until ctx is cancelled.
func DialMQTT(ctx context.Context, conf MQTTConfig) (*MQTTConn, error) {
	c := &MQTTConn{subs: make(map[string]paho.MessageHandler)}

	clientID := conf.ClientID
	if clientID == "" {
		clientID = "bridge-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.BrokerURL)
	opts.SetClientID(clientID)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(c.onConnected)
	opts.SetConnectionLostHandler(func(_ paho.Client, reason error) {
		log.Printf("[bus] connection lost: %v", reason)
	})

	c.client = paho.NewClient(opts)

	for {
		token := c.client.Connect()
		if token.Wait() && token.Error() == nil {
			break
		}
		log.Printf("[bus] broker connect failed: %v, retrying", token.Error())
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("broker connect: %w", ctx.Err())
		case <-time.After(connectRetryWait):
		}
	}

	return c, nil
}

// Subscribe registers a filter and returns a subscription fed by the
// Paho client. A full channel drops the message (at-most-once,
// best-effort semantics).
func (c *MQTTConn) Subscribe(filter string) (*Subscription, error) {
	ch := make(chan Message, subChannelDepth)
	var closed sync.Once
	done := make(chan struct{})

	handler := func(_ paho.Client, m paho.Message) {
		select {
		case <-done:
		case ch <- Message{Topic: m.Topic(), Payload: m.Payload()}:
		default:
			log.Printf("[bus] dropping message on %s: subscriber backlog full", m.Topic())
		}
	}

	if token := c.client.Subscribe(filter, subscribeQOS, handler); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}

	c.mu.Lock()
	c.subs[filter] = handler
	c.mu.Unlock()

	cancel := func() {
		closed.Do(func() {
			close(done)
			c.client.Unsubscribe(filter)
			c.mu.Lock()
			delete(c.subs, filter)
			c.mu.Unlock()
		})
	}
	return &Subscription{C: ch, cancel: cancel}, nil
}

// Publish sends payload on topic.
func (c *MQTTConn) Publish(topic string, payload []byte) error {
	if token := c.client.Publish(topic, subscribeQOS, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// Connected reports whether the broker link is up.
func (c *MQTTConn) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Close unsubscribes everything and disconnects.
func (c *MQTTConn) Close() {
	c.mu.Lock()
	filters := make([]string, 0, len(c.subs))
	for f := range c.subs {
		filters = append(filters, f)
	}
	c.mu.Unlock()

	for _, f := range filters {
		c.client.Unsubscribe(f)
	}
	c.client.Disconnect(500)
}

// onConnected replays subscriptions after a reconnect.
func (c *MQTTConn) onConnected(_ paho.Client) {
	c.mu.Lock()
	subs := make(map[string]paho.MessageHandler, len(c.subs))
	for f, h := range c.subs {
		subs[f] = h
	}
	c.mu.Unlock()

	for filter, handler := range subs {
		if token := c.client.Subscribe(filter, subscribeQOS, handler); token.Wait() && token.Error() != nil {
			log.Printf("[bus] re-subscribe %s failed: %v", filter, token.Error())
		}
	}
}
