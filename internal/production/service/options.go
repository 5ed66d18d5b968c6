package service

import (
	"time"

	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// Option configures the production components.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the time source used for timestamps and batch numbers.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// component carries what every production component shares.
type component struct {
	stores    Stores
	publisher EventPublisher
	cfg       config.ProductionConfig
	clock     func() time.Time
	logger    *logger.Logger
}

func newComponent(name string, stores Stores, publisher EventPublisher, cfg config.ProductionConfig, log *logger.Logger, opts []Option) component {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	o := buildOptions(opts)
	return component{
		stores:    stores,
		publisher: publisher,
		cfg:       cfg,
		clock:     o.clock,
		logger:    log.WithComponent(name),
	}
}

// overheadPercent picks the recipe override or the configured default.
func (c component) overheadPercent(override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	return decimal.NewFromFloat(c.cfg.DefaultOverheadPercent)
}
