package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"git.cscs.ch/openchami/chamicore-ui/internal/state"
)

// PublisherConfig holds NATS connection settings.
type PublisherConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// Publisher publishes change envelopes to <prefix>.<resource>. It is a
// state.Observer.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

var _ state.Observer = (*Publisher)(nil)

// NewPublisher connects to NATS.
func NewPublisher(cfg PublisherConfig, logger zerolog.Logger) (*Publisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("events: NATS URL is required")
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		return nil, fmt.Errorf("events: subject prefix is required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = Source
	}

	log := logger.With().Str("component", "events").Logger()
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	return &Publisher{nc: nc, prefix: prefix, log: log}, nil
}

// Subject returns the subject a change for resource is published on.
func (p *Publisher) Subject(resource string) string {
	return p.prefix + "." + resource
}

// OnChange publishes one envelope. Failures are logged and dropped.
func (p *Publisher) OnChange(change state.Change) {
	if err := p.Publish(change); err != nil {
		p.log.Error().Err(err).Str("resource", change.Resource).Msg("publishing change event")
	}
}

// Publish encodes and sends one change envelope.
func (p *Publisher) Publish(change state.Change) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	payload, err := json.Marshal(NewChangeEvent(change))
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}
	return p.nc.Publish(p.Subject(change.Resource), payload)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
