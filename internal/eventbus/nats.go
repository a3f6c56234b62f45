package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus implements Bus on top of NATS JetStream. Each event type maps to
// its own subject under the stream prefix, and each subscription gets a
// durable pull consumer so events survive subscriber restarts.
type NATSBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	config *NATSConfig

	subscriptions map[EventType]*nats.Subscription
	subMutex      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NATSConfig holds NATS JetStream configuration.
type NATSConfig struct {
	URL                  string        `json:"url" yaml:"url"`
	StreamName           string        `json:"stream_name" yaml:"stream_name"`
	SubjectPrefix        string        `json:"subject_prefix" yaml:"subject_prefix"`
	MaxAge               time.Duration `json:"max_age" yaml:"max_age"`
	MaxMsgs              int64         `json:"max_msgs" yaml:"max_msgs"`
	Replicas             int           `json:"replicas" yaml:"replicas"`
	ConnectTimeout       time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReconnectWait        time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:                  nats.DefaultURL,
		StreamName:           "PRINTSHOP_EVENTS",
		SubjectPrefix:        "printshop.events",
		MaxAge:               24 * time.Hour,
		MaxMsgs:              1000000,
		Replicas:             1,
		ConnectTimeout:       10 * time.Second,
		ReconnectWait:        2 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// NewNATSBus connects to NATS and ensures the event stream exists.
func NewNATSBus(config *NATSConfig, logger *zap.Logger) (*NATSBus, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &NATSBus{
		logger:        logger,
		config:        config,
		subscriptions: make(map[EventType]*nats.Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := bus.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if err := bus.setupStream(); err != nil {
		cancel()
		bus.conn.Close()
		return nil, fmt.Errorf("failed to setup JetStream: %w", err)
	}

	return bus, nil
}

func (n *NATSBus) connect() error {
	opts := []nats.Option{
		nats.Name("printshop-eventbus"),
		nats.Timeout(n.config.ConnectTimeout),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.MaxReconnects(n.config.MaxReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	n.conn = conn
	n.js = js

	n.logger.Info("Connected to NATS JetStream",
		zap.String("url", n.config.URL),
		zap.String("stream", n.config.StreamName))

	return nil
}

func (n *NATSBus) setupStream() error {
	streamConfig := &nats.StreamConfig{
		Name:       n.config.StreamName,
		Subjects:   []string{n.config.SubjectPrefix + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     n.config.MaxAge,
		MaxMsgs:    n.config.MaxMsgs,
		Replicas:   n.config.Replicas,
		Storage:    nats.FileStorage,
		Duplicates: 5 * time.Minute,
	}

	if _, err := n.js.StreamInfo(n.config.StreamName); err != nil {
		if _, err := n.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	} else {
		if _, err := n.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
	}

	return nil
}

func (n *NATSBus) subject(eventType EventType) string {
	return fmt.Sprintf("%s.%s", n.config.SubjectPrefix, eventType)
}

func (n *NATSBus) consumerName(eventType EventType) string {
	return "printshop-consumer-" + subjectToken(string(eventType))
}

// subjectToken makes an event type safe to use in a NATS consumer name.
func subjectToken(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '*' || c == '>' {
			c = '-'
		}
		out[i] = c
	}
	return string(out)
}

// Publish sends the event to its subject with the event ID as the message ID
// for JetStream deduplication.
func (n *NATSBus) Publish(event *Event) error {
	subject := n.subject(event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := n.js.Publish(subject, data, nats.MsgId(event.ID)); err != nil {
		n.logger.Error("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	n.logger.Debug("Published event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject", subject))

	return nil
}

// Subscribe creates a durable pull consumer for the event type and starts a
// goroutine polling it until the bus is closed.
func (n *NATSBus) Subscribe(eventType EventType, handler Handler) error {
	subject := n.subject(eventType)

	n.subMutex.Lock()
	defer n.subMutex.Unlock()

	if _, exists := n.subscriptions[eventType]; exists {
		return fmt.Errorf("already subscribed to event type: %s", eventType)
	}

	sub, err := n.js.PullSubscribe(subject, n.consumerName(eventType),
		nats.AckExplicit(),
		nats.DeliverNew(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	n.subscriptions[eventType] = sub

	n.wg.Add(1)
	go n.processMessages(sub, handler, eventType)

	n.logger.Info("Subscribed to event type",
		zap.String("event_type", string(eventType)),
		zap.String("subject", subject))

	return nil
}

func (n *NATSBus) processMessages(sub *nats.Subscription, handler Handler, eventType EventType) {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
			msgs, err := sub.Fetch(10, nats.MaxWait(1*time.Second))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				if n.ctx.Err() != nil {
					return
				}
				n.logger.Error("Failed to fetch messages",
					zap.String("event_type", string(eventType)),
					zap.Error(err))
				continue
			}

			for _, msg := range msgs {
				if err := n.handleMessage(msg, handler); err != nil {
					n.logger.Error("Failed to handle message",
						zap.String("event_type", string(eventType)),
						zap.Error(err))
					msg.Nak()
				} else {
					msg.Ack()
				}
			}
		}
	}
}

func (n *NATSBus) handleMessage(msg *nats.Msg, handler Handler) error {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return handler.Handle(n.ctx, &event)
}

// Close stops all consumers and closes the NATS connection.
func (n *NATSBus) Close() error {
	n.cancel()

	n.subMutex.Lock()
	for eventType, sub := range n.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Error("Failed to unsubscribe",
				zap.String("event_type", string(eventType)),
				zap.Error(err))
		}
	}
	n.subscriptions = make(map[EventType]*nats.Subscription)
	n.subMutex.Unlock()

	n.wg.Wait()

	if n.conn != nil && !n.conn.IsClosed() {
		n.conn.Close()
	}

	return nil
}
