// Package eventbus mirrors the coordinator's broadcast stream onto NATS
// JetStream so external consumers (dashboards, analytics) can follow the
// race without holding a WebSocket. The mirror is strictly fire-and-forget:
// it never gates or reorders the in-process fan-out.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/typeswift/typeswift/internal/game"
)

// Config holds the JetStream mirror settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
	PublishWait   time.Duration
}

// DefaultConfig returns the default mirror configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "TYPING_EVENTS",
		SubjectPrefix: "typing.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
		PublishWait:   2 * time.Second,
	}
}

// mirrorQueueSize bounds how many envelopes may wait on the bus before the
// mirror starts shedding.
const mirrorQueueSize = 512

// Publisher publishes broadcast envelopes to JetStream. Envelopes are
// queued and published from a dedicated goroutine so the caller never waits
// on the bus.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config

	queue chan *game.Event
	quit  chan struct{}
	done  chan struct{}
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{
		nc:     nc,
		js:     js,
		config: cfg,
		queue:  make(chan *game.Event, mirrorQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	go p.run()

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Typing race broadcast mirror",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := p.js.Stream(ctx, p.config.StreamName); err != nil {
		if _, err := p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", p.config.StreamName).Msg("created JetStream stream")
	}
	return nil
}

// Publish enqueues one broadcast envelope for mirroring. It never blocks:
// when the queue is full the envelope is dropped and logged, so a slow or
// flapping bus cannot stall the in-process fan-out.
func (p *Publisher) Publish(ctx context.Context, evt *game.Event) {
	select {
	case p.queue <- evt:
	case <-p.quit:
	default:
		log.Warn().Str("event_type", string(evt.Type)).Msg("event mirror queue full, dropping event")
	}
}

// run drains the mirror queue on its own goroutine.
func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case evt := <-p.queue:
			p.publish(evt)
		case <-p.quit:
			return
		}
	}
}

// publish mirrors one envelope, waiting at most PublishWait for the ack.
// Errors are logged and swallowed.
func (p *Publisher) publish(evt *game.Event) {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, evt.Type)

	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal mirrored event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishWait)
	defer cancel()

	_, err = p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(evt.Type)},
			"Event-ID":   []string{uuid.New().String()},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to mirror event")
	}
}

// Close stops the mirror goroutine, giving an in-flight publish up to
// PublishWait to finish, then tears down the NATS connection.
func (p *Publisher) Close() {
	close(p.quit)
	select {
	case <-p.done:
	case <-time.After(p.config.PublishWait):
	}
	if p.nc != nil {
		p.nc.Close()
	}
}
