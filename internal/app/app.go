// Package app wires the relay's services together.
package app

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/nfrund/relaychat/internal/config"
	"github.com/nfrund/relaychat/internal/pubsub"
	"github.com/nfrund/relaychat/internal/relay"
)

// NewInjector registers the relay's services. Shutting the injector down
// closes the broker.
func NewInjector(cfg *config.Config, logger *slog.Logger) *do.RootScope {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue(i, logger)
	do.Provide(i, provideBroker)
	do.Provide(i, provideRelay)
	return i
}

func provideBroker(i do.Injector) (*pubsub.Broker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	return pubsub.NewBroker(
		pubsub.NewWatermillBridge(logger),
		pubsub.NewRecordLog(cfg.Relay.HistoryLimit),
		logger,
	), nil
}

func provideRelay(i do.Injector) (*relay.Relay, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	broker, err := do.Invoke[*pubsub.Broker](i)
	if err != nil {
		return nil, err
	}
	return relay.New(cfg.Relay, broker, logger), nil
}
