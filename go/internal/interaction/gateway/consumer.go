package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/tabletop/go/internal/interaction/broadcaster"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventConsumer feeds room events into the connection manager. The memory
// consumer serves single-process deployments; the JetStream consumer serves
// a gateway running apart from the room store.
type EventConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}

// MemoryConsumer pipes an in-process broadcaster subscription to the
// connection manager.
type MemoryConsumer struct {
	connectionManager *ConnectionManager
	source            *broadcaster.Memory
	sub               *broadcaster.Subscription
}

// NewMemoryConsumer creates an in-process consumer.
func NewMemoryConsumer(cm *ConnectionManager, source *broadcaster.Memory) *MemoryConsumer {
	return &MemoryConsumer{connectionManager: cm, source: source}
}

func (mc *MemoryConsumer) Start(ctx context.Context) error {
	mc.sub = mc.source.SubscribeAll()
	log.Info().Msg("in-process event consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-mc.sub.C:
			if !ok {
				return nil
			}
			mc.connectionManager.Broadcast(ev)
		}
	}
}

func (mc *MemoryConsumer) Stop() error {
	if mc.sub != nil {
		mc.sub.Close()
	}
	return nil
}

// JetStreamConsumerConfig holds JetStream consumer settings.
type JetStreamConsumerConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConsumerConfig returns defaults matching the publisher's
// stream layout.
func DefaultJetStreamConsumerConfig() JetStreamConsumerConfig {
	return JetStreamConsumerConfig{
		URL:           nats.DefaultURL,
		StreamName:    "INTERACTION_EVENTS",
		ConsumerName:  "interaction-gateway",
		SubjectFilter: "interaction.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// JetStreamConsumer consumes room events from JetStream and broadcasts them
// to WebSocket clients.
type JetStreamConsumer struct {
	connectionManager *ConnectionManager
	nc                *nats.Conn
	js                jetstream.JetStream
	consumer          jetstream.Consumer
	config            JetStreamConsumerConfig
}

// NewJetStreamConsumer connects to NATS and ensures the durable consumer.
func NewJetStreamConsumer(cm *ConnectionManager, config JetStreamConsumerConfig) (*JetStreamConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	jc := &JetStreamConsumer{
		connectionManager: cm,
		nc:                nc,
		js:                js,
		config:            config,
	}
	if err := jc.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return jc, nil
}

func (jc *JetStreamConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := jc.js.Stream(ctx, jc.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.Consumer(ctx, jc.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
			Name:          jc.config.ConsumerName,
			Durable:       jc.config.ConsumerName,
			Description:   "interaction gateway WebSocket consumer",
			FilterSubject: jc.config.SubjectFilter,
			DeliverPolicy: jetstream.DeliverNewPolicy,
			AckPolicy:     jetstream.AckExplicitPolicy,
			MaxDeliver:    jc.config.MaxDeliver,
			AckWait:       jc.config.AckWait,
			MaxAckPending: jc.config.MaxAckPending,
			ReplayPolicy:  jetstream.ReplayInstantPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", jc.config.ConsumerName).
			Str("stream", jc.config.StreamName).
			Msg("created JetStream consumer")
	}

	jc.consumer = consumer
	return nil
}

// Start consumes messages until ctx is cancelled.
func (jc *JetStreamConsumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", jc.config.ConsumerName).
		Str("stream", jc.config.StreamName).
		Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)
	consumeCtx, err := jc.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := jc.processMessage(msg); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (jc *JetStreamConsumer) processMessage(msg jetstream.Msg) error {
	var ev events.GameEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		return fmt.Errorf("unmarshal event envelope: %w", err)
	}

	log.Debug().
		Str("event_id", ev.ID).
		Str("room_id", ev.RoomID).
		Str("event_type", string(ev.Type)).
		Uint64("seq", ev.Seq).
		Msg("processing JetStream event")

	jc.connectionManager.Broadcast(ev)
	return nil
}

// Stop closes the NATS connection.
func (jc *JetStreamConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")
	if jc.nc != nil {
		jc.nc.Close()
	}
	return nil
}
