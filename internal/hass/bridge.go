// Package hass mirrors entities to Home Assistant over MQTT discovery and
// routes command topics back to number and switch entities.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joshp123/apsystems-local/internal/entity"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	payloadOn      = "ON"
	payloadOff     = "OFF"

	commandTimeout = 15 * time.Second
)

// Options holds the topic layout of a bridge.
type Options struct {
	DiscoveryPrefix string
	BaseTopic       string
}

// StatusTopic carries the bridge's own online/offline state.
func (o Options) StatusTopic() string {
	return o.BaseTopic + "/status"
}

func (o Options) configTopic(e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/config", o.DiscoveryPrefix, e.Platform(), e.UniqueID())
}

func (o Options) stateTopic(id string) string        { return o.BaseTopic + "/" + id + "/state" }
func (o Options) availabilityTopic(id string) string { return o.BaseTopic + "/" + id + "/availability" }
func (o Options) commandTopic(id string) string      { return o.BaseTopic + "/" + id + "/set" }

type tracked struct {
	entity    entity.Entity
	state     entity.State
	announced []byte
	unsub     func()
}

// Bridge is an entity.StateWriter that publishes to a broker.
type Bridge struct {
	pub  Publisher
	opts Options

	mu      sync.Mutex
	tracked map[string]*tracked
}

func NewBridge(pub Publisher, opts Options) *Bridge {
	return &Bridge{pub: pub, opts: opts, tracked: make(map[string]*tracked)}
}

// WriteState announces the entity on first sight (and whenever its discovery
// payload changes), then publishes availability and state.
func (b *Bridge) WriteState(e entity.Entity, s entity.State) {
	id := e.UniqueID()
	config, err := json.Marshal(discoveryFor(e, b.opts))
	if err != nil {
		log.Printf("hass: encode discovery %s: %v", id, err)
		return
	}

	b.mu.Lock()
	t := b.tracked[id]
	if t == nil {
		t = &tracked{entity: e}
		b.tracked[id] = t
	}
	t.state = s
	announce := !bytes.Equal(t.announced, config)
	needSubscribe := t.unsub == nil && isCommandable(e)
	b.mu.Unlock()

	if needSubscribe {
		unsub, err := b.pub.Subscribe(b.opts.commandTopic(id), b.commandHandler(e))
		if err != nil {
			log.Printf("hass: subscribe %s: %v", id, err)
		} else {
			b.mu.Lock()
			t.unsub = unsub
			b.mu.Unlock()
		}
	}
	if announce {
		if err := b.pub.Publish(b.opts.configTopic(e), true, config); err != nil {
			log.Printf("hass: announce %s: %v", id, err)
			return
		}
		b.mu.Lock()
		t.announced = config
		b.mu.Unlock()
	}
	b.publishState(id, s)
}

func (b *Bridge) publishState(id string, s entity.State) {
	availability := payloadOffline
	if s.Available {
		availability = payloadOnline
	}
	if err := b.pub.Publish(b.opts.availabilityTopic(id), true, []byte(availability)); err != nil {
		log.Printf("hass: availability %s: %v", id, err)
	}
	if s.Value == nil {
		return
	}
	if err := b.pub.Publish(b.opts.stateTopic(id), true, []byte(entity.RenderValue(s.Value))); err != nil {
		log.Printf("hass: state %s: %v", id, err)
	}
}

// Online marks the bridge online and republishes everything it has seen.
// It runs after each broker (re)connect.
func (b *Bridge) Online() {
	if err := b.pub.Publish(b.opts.StatusTopic(), true, []byte(payloadOnline)); err != nil {
		log.Printf("hass: status: %v", err)
	}
	b.mu.Lock()
	replay := make([]*tracked, 0, len(b.tracked))
	for _, t := range b.tracked {
		t.announced = nil
		replay = append(replay, t)
	}
	b.mu.Unlock()
	for _, t := range replay {
		b.WriteState(t.entity, t.state)
	}
}

// Close publishes offline and drops command subscriptions.
func (b *Bridge) Close() {
	b.mu.Lock()
	var unsubs []func()
	for _, t := range b.tracked {
		if t.unsub != nil {
			unsubs = append(unsubs, t.unsub)
			t.unsub = nil
		}
	}
	b.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	_ = b.pub.Publish(b.opts.StatusTopic(), true, []byte(payloadOffline))
}

func isCommandable(e entity.Entity) bool {
	switch e.(type) {
	case entity.NumberSetter, entity.Toggler:
		return true
	}
	return false
}

func (b *Bridge) commandHandler(e entity.Entity) func([]byte) {
	return func(payload []byte) {
		// paho delivers on its router goroutine; device calls must not block it.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := runCommand(ctx, e, strings.TrimSpace(string(payload))); err != nil {
				log.Printf("hass: command %s %q: %v", e.UniqueID(), payload, err)
			}
		}()
	}
}

func runCommand(ctx context.Context, e entity.Entity, payload string) error {
	switch target := e.(type) {
	case entity.NumberSetter:
		value, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		return target.SetNativeValue(ctx, value)
	case entity.Toggler:
		switch strings.ToUpper(payload) {
		case payloadOn:
			return target.TurnOn(ctx)
		case payloadOff:
			return target.TurnOff(ctx)
		}
		return fmt.Errorf("unsupported payload")
	}
	return fmt.Errorf("entity does not accept commands")
}
