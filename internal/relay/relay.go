// Package relay assembles the producer and consumer servers around one
// in-process broker.
package relay

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nfrund/relaychat/internal/config"
	"github.com/nfrund/relaychat/internal/pubsub"
	"github.com/nfrund/relaychat/internal/relay/consumer"
	"github.com/nfrund/relaychat/internal/relay/producer"
	"github.com/nfrund/relaychat/internal/server"
)

// Relay is a running pair of producer and consumer servers sharing a broker.
type Relay struct {
	cfg    config.Relay
	logger *slog.Logger

	Broker   *pubsub.Broker
	Hub      *consumer.Hub
	Producer *server.Server
	Consumer *server.Server

	consumer *consumer.Handler
}

// New builds both servers over broker.
func New(cfg config.Relay, broker *pubsub.Broker, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	opts := server.Options{AllowedOrigins: cfg.AllowedOrigins}

	prod := server.New("producer", opts)
	producer.NewHandler(broker).Register(prod.E, cfg.SendRateLimit)

	hub := consumer.NewHub(logger, cfg.HeartbeatInterval)
	ch := consumer.NewHandler(broker, hub, logger, consumer.Options{
		Topics:         []string{cfg.ChatTopic},
		AllowedOrigins: cfg.AllowedOrigins,
	})
	cons := server.New("consumer", opts)
	ch.Register(cons.E)

	return &Relay{
		cfg:      cfg,
		logger:   logger,
		Broker:   broker,
		Hub:      hub,
		Producer: prod,
		Consumer: cons,
		consumer: ch,
	}
}

// Run serves both sides until ctx is canceled or one of them fails.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := r.consumer.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		r.Hub.Run(ctx)
		return nil
	})

	g.Go(func() error { return r.Producer.Start(ctx, r.cfg.ProducerAddr) })
	g.Go(func() error { return r.Consumer.Start(ctx, r.cfg.ConsumerAddr) })

	r.logger.Info("Relay running", "producer", r.cfg.ProducerAddr, "consumer", r.cfg.ConsumerAddr, "topic", r.cfg.ChatTopic)
	return g.Wait()
}
