// Package publish mirrors accepted spots to an MQTT broker as compact JSON,
// one message per spot on <topic>/<call>.
//
// The ingest loop never waits on the broker: spots are queued with a
// non-blocking send and a single goroutine publishes them at QoS 0. A full
// queue or a disconnected broker drops the message and counts it.
package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dxfeed/config"
	"dxfeed/spot"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is the JSON payload. Field names are abbreviated to keep payloads
// small, in the PSKReporter style.
type Message struct {
	Call    string  `json:"dx"`
	Spotter string  `json:"de,omitempty"`
	FreqKHz float64 `json:"f"`
	Grid    string  `json:"g"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	UTC     string  `json:"utc"`
	Comment string  `json:"c,omitempty"`
	Country string  `json:"cty,omitempty"`
	Source  string  `json:"src"`
	Time    int64   `json:"t"`
}

// NewMessage converts a spot to its wire form.
func NewMessage(s *spot.Spot) Message {
	ts := s.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{
		Call:    s.Call,
		Spotter: s.Spotter,
		FreqKHz: s.FreqKHz,
		Grid:    s.Grid,
		Lat:     s.Position.Lat,
		Lon:     s.Position.Lon,
		UTC:     s.UTCString(),
		Comment: s.Comment,
		Country: s.Country,
		Source:  string(s.Source),
		Time:    ts.UTC().Unix(),
	}
}

const (
	publishTimeout       = 2 * time.Second
	connectWait          = 15 * time.Second
	connectRetryInterval = 15 * time.Second
)

type pending struct {
	topic   string
	payload []byte
}

// Publisher owns the MQTT client and the publish goroutine.
type Publisher struct {
	client mqtt.Client
	broker string
	topic  string
	queue  chan pending
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// connectWait bounds how long Connect blocks on the first attempt.
	connectWait time.Duration

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Stats reports publisher outcomes.
type Stats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// New builds a publisher for cfg. Call Connect, then Start.
func New(cfg config.MQTTConfig) *Publisher {
	opts := clientOptions(cfg)
	p := newWithClient(mqtt.NewClient(opts), cfg.Topic, cfg.QueueSize)
	p.broker = opts.Servers[0].String()
	return p
}

// clientOptions builds the paho options. Auto-reconnect only covers a
// connection that was up once, so connect retry is enabled as well to keep
// trying when the broker is down at startup.
func clientOptions(cfg config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
	opts.AddBroker(brokerURL)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dxfeed"
	}
	opts.SetClientID(fmt.Sprintf("%s-%d", clientID, time.Now().Unix()))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("MQTT: connected to %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT: connection lost: %v (will reconnect)", err)
	})
	return opts
}

func newWithClient(client mqtt.Client, topic string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	topic = strings.TrimRight(strings.TrimSpace(topic), "/")
	if topic == "" {
		topic = "dxfeed/spots"
	}
	return &Publisher{
		client:      client,
		topic:       topic,
		queue:       make(chan pending, queueSize),
		stop:        make(chan struct{}),
		connectWait: connectWait,
	}
}

// Connect starts the connection and waits up to connectWait for it. A broker
// that is not reachable yet is not an error: paho keeps retrying in the
// background and spots are dropped until it succeeds. An attempt that
// completes with an error is returned.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.connectWait) {
		log.Printf("MQTT: broker %s not reachable yet, retrying every %s", p.broker, connectRetryInterval)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: connect: %w", err)
	}
	return nil
}

// Start launches the publish goroutine.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop drains nothing further and disconnects.
func (p *Publisher) Stop() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.stop)
		p.wg.Wait()
		// Also cancels a connect retry still in progress.
		p.client.Disconnect(250)
	})
}

// Topic returns the topic a spot for call is published on. Slashes in
// portable calls would create extra topic levels, so they become underscores.
func (p *Publisher) Topic(call string) string {
	return p.topic + "/" + strings.ReplaceAll(call, "/", "_")
}

// Enqueue queues s for publication without blocking.
func (p *Publisher) Enqueue(s *spot.Spot) {
	if p == nil || s == nil {
		return
	}
	payload, err := json.Marshal(NewMessage(s))
	if err != nil {
		p.failed.Add(1)
		return
	}
	select {
	case p.queue <- pending{topic: p.Topic(s.Call), payload: payload}:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case m := <-p.queue:
			p.publish(m)
		}
	}
}

func (p *Publisher) publish(m pending) {
	if !p.client.IsConnected() {
		p.dropped.Add(1)
		return
	}
	token := p.client.Publish(m.topic, 0, false, m.payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		p.failed.Add(1)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{Published: p.published.Load(), Dropped: p.dropped.Load(), Failed: p.failed.Load()}
}
