package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// MQTTChannel relays records through an MQTT broker on the LAN. A record for
// host:port is published on <prefix>/<host>/<port>; a listener subscribes to
// the topic naming its own address. Each send or listen uses its own client
// connection, keeping the one-shot contract.
type MQTTChannel struct {
	broker         string
	prefix         string
	self           string
	connectTimeout time.Duration
}

// NewMQTTChannel returns a channel using broker (e.g. tcp://10.0.0.2:1883).
// self is this host's address as the peer knows it.
func NewMQTTChannel(broker, prefix, self string, connectTimeout time.Duration) *MQTTChannel {
	return &MQTTChannel{
		broker:         broker,
		prefix:         prefix,
		self:           self,
		connectTimeout: connectTimeout,
	}
}

func (c *MQTTChannel) topic(host string, port int) string {
	return fmt.Sprintf("%s/%s/%d", c.prefix, host, port)
}

// connect opens a client, bounded by connectTimeout.
func (c *MQTTChannel) connect(ctx context.Context) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID("p2pcall-" + petname.Generate(3, "-"))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(c.connectTimeout)

	client := mqtt.NewClient(opts)

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if err := waitToken(dialCtx, client.Connect()); err != nil {
		return nil, connectError(ctx, dialCtx, c.broker, err)
	}
	return client, nil
}

// Send publishes rec for host:port with QoS 1.
func (c *MQTTChannel) Send(ctx context.Context, rec negotiation.Record, host string, port int) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	payload, err := newEnvelope(rec, c.self)
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %w", negotiation.ErrSignalingIO, err)
	}

	topic := c.topic(host, port)
	if err := waitToken(ctx, client.Publish(topic, 1, false, payload)); err != nil {
		return fmt.Errorf("%w: publish %s to %s: %w", negotiation.ErrSignalingIO, rec.Kind(), topic, err)
	}

	util.LogDebug("signaling: published %s on %s", rec.Kind(), topic)
	return nil
}

// Listen subscribes to this host's topic for port.
func (c *MQTTChannel) Listen(ctx context.Context, port int) (Listener, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on port %d: %w", negotiation.ErrSignalingIO, port, err)
	}

	l := &mqttListener{
		client: client,
		topic:  c.topic(c.self, port),
		msgCh:  make(chan []byte, 1),
	}

	handler := func(_ mqtt.Client, m mqtt.Message) {
		// Only the first record counts.
		select {
		case l.msgCh <- m.Payload():
		default:
		}
	}

	if err := waitToken(ctx, client.Subscribe(l.topic, 1, handler)); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("%w: subscribe %s: %w", negotiation.ErrSignalingIO, l.topic, err)
	}

	util.LogDebug("signaling: subscribed to %s", l.topic)
	return l, nil
}

// ---------------------------------------------------------------------------
// Listener
// ---------------------------------------------------------------------------

type mqttListener struct {
	client mqtt.Client
	topic  string
	msgCh  chan []byte

	closeOnce sync.Once
}

func (l *mqttListener) Receive(ctx context.Context) (Inbound, error) {
	defer l.Close()

	select {
	case data := <-l.msgCh:
		if len(data) > maxRecordSize {
			return Inbound{}, fmt.Errorf("%w: record on %s exceeds %d bytes", negotiation.ErrSignalingIO, l.topic, maxRecordSize)
		}
		return parseEnvelope(data)
	case <-ctx.Done():
		return Inbound{}, receiveError(ctx, "subscribe", l.topic, ctx.Err())
	}
}

func (l *mqttListener) Close() error {
	l.closeOnce.Do(func() {
		l.client.Unsubscribe(l.topic).WaitTimeout(time.Second)
		l.client.Disconnect(250)
	})
	return nil
}

// waitToken blocks until tok completes or ctx ends.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
