package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBackplane relays frames over a core NATS subject.
type NATSBackplane struct {
	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSBackplane connects to url and returns a backplane on subject.
func NewNATSBackplane(url, subject string, logger zerolog.Logger) (*NATSBackplane, error) {
	log := logger.With().Str("component", "nats-backplane").Logger()
	nc, err := nats.Connect(url,
		nats.Name("carelink-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if subject == "" {
		subject = DefaultRelayChannel
	}
	return &NATSBackplane{nc: nc, subject: subject, logger: log}, nil
}

func (b *NATSBackplane) Publish(_ context.Context, f RelayFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, data)
}

func (b *NATSBackplane) Subscribe(ctx context.Context, fn func(RelayFrame)) error {
	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var f RelayFrame
		if err := json.Unmarshal(m.Data, &f); err != nil {
			b.logger.Warn().Err(err).Msg("dropping malformed relay frame")
			return
		}
		fn(f)
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return b.nc.Flush()
}

func (b *NATSBackplane) Close() error {
	return b.nc.Drain()
}
