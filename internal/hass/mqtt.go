package hass

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const defaultConnectWait = 15 * time.Second

var errNotConnected = errors.New("mqtt: not connected")

// Publisher is the broker surface the bridge needs.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, cb func([]byte)) (func(), error)
}

// ClientOptions configures a broker session.
type ClientOptions struct {
	Broker   string
	Username string
	Password string
	// WillTopic receives WillPayload (retained) when the session drops.
	WillTopic   string
	WillPayload string
	// OnConnect runs in its own goroutine after every (re)connect, once
	// subscriptions are restored.
	OnConnect func()
	// ConnectWait bounds how long Dial blocks on the first connect. Past it
	// Dial returns and paho keeps retrying in the background. Default 15s.
	ConnectWait time.Duration
}

// Client is a paho session with per-topic callback fan-out.
type Client struct {
	client mqtt.Client
	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

func Dial(opts ClientOptions) (*Client, error) {
	po := mqtt.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetUsername(opts.Username)
	po.SetPassword(opts.Password)
	po.SetClientID("apsystems-local-" + uuid.NewString()[:8])
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectTimeout(10 * time.Second)
	po.SetOrderMatters(false)
	if opts.WillTopic != "" {
		po.SetWill(opts.WillTopic, opts.WillPayload, 0, true)
	}

	c := &Client{subs: make(map[string]map[int]func([]byte))}
	po.SetDefaultPublishHandler(c.dispatch)
	po.OnConnect = func(_ mqtt.Client) {
		log.Printf("mqtt: connected to %s", opts.Broker)
		c.resubscribeAll()
		if opts.OnConnect != nil {
			go opts.OnConnect()
		}
	}
	po.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	}

	wait := opts.ConnectWait
	if wait <= 0 {
		wait = defaultConnectWait
	}

	c.client = mqtt.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(wait) {
		log.Printf("mqtt: %s not reachable after %s, retrying in background", opts.Broker, wait)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return c, nil
}

func (c *Client) Subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	// While disconnected the topic is picked up by resubscribeAll.
	if needSubscribe && c.client.IsConnectionOpen() {
		if token := c.client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
			return nil, token.Error()
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		shouldUnsub := len(callbacks) == 0
		if shouldUnsub {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if shouldUnsub && c.client.IsConnectionOpen() {
			_ = c.client.Unsubscribe(topic).Wait()
		}
	}, nil
}

// Publish fails fast while disconnected; the bridge replays state on reconnect.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return errNotConnected
	}
	if token := c.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *Client) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	for _, topic := range topics {
		_ = c.client.Subscribe(topic, 0, nil).Wait()
	}
}
