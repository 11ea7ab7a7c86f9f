package demo

import (
	"context"
	"errors"
	"time"

	rf "github.com/unkn0wn-root/redisflow"
	"github.com/unkn0wn-root/redisflow/pubsub"
	"github.com/unkn0wn-root/redisflow/schedule"
	"github.com/unkn0wn-root/redisflow/store"
	"github.com/unkn0wn-root/redisflow/stream"
)

type Deps struct {
	Streams  store.Streams
	PubSub   store.PubSub
	Products rf.Coordinator[Product]
	Logger   rf.Logger // nil => NopLogger
	Hooks    rf.Hooks  // nil => NopHooks
}

type Settings struct {
	PollTimeout    time.Duration
	AutoAck        bool
	CancelOnError  bool
	CacheTTL       time.Duration
	CustomerPeriod time.Duration
	OrderPeriod    time.Duration
}

// App wires the three patterns together. Start subscribes the listeners and
// schedules both publishers; Stop tears everything down in reverse.
type App struct {
	Products    *ProductService
	Streams     *stream.Manager
	Broadcaster *pubsub.Broadcaster
	Scheduler   *schedule.Scheduler

	settings Settings
	log      rf.Logger
}

func NewApp(deps Deps, s Settings) (*App, error) {
	log := deps.Logger
	if log == nil {
		log = rf.NopLogger{}
	}
	m, err := stream.NewManager(stream.Options{Client: deps.Streams, Logger: log, Hooks: deps.Hooks, DefaultPollTimeout: s.PollTimeout})
	if err != nil {
		return nil, err
	}
	b, err := pubsub.New(pubsub.Options{Client: deps.PubSub, Logger: log, Hooks: deps.Hooks})
	if err != nil {
		return nil, err
	}
	products, err := NewProductService(deps.Products, s.CacheTTL, log)
	if err != nil {
		return nil, err
	}
	return &App{
		Products:    products,
		Streams:     m,
		Broadcaster: b,
		Scheduler:   schedule.New(schedule.Options{Logger: log, Hooks: deps.Hooks}),
		settings:    s,
		log:         log,
	}, nil
}

// Start brings everything up. When a step fails, whatever was already set up is
// stopped again before the error is returned.
func (a *App) Start(ctx context.Context) error {
	err := a.start(ctx)
	if err == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.settings.PollTimeout+5*time.Second)
	defer cancel()
	if serr := a.Stop(stopCtx); serr != nil {
		a.log.Warn("stop after failed start", rf.Fields{"err": serr})
	}
	return err
}

func (a *App) start(ctx context.Context) error {
	// an existing group is fine; anything else is retried by the consumer loop
	if err := a.Streams.EnsureGroup(ctx, OrdersStream, OrdersGroup); err != nil {
		a.log.Warn("create orders group failed", rf.Fields{"err": err})
	}
	if _, err := a.Broadcaster.SubscribeChannel(ctx, CustomersChannel, CustomerListener(a.log)); err != nil {
		return err
	}

	req := OrderReadRequest(a.settings.PollTimeout, a.settings.AutoAck, a.settings.CancelOnError, a.log)
	req.EnsureGroup = true
	if _, err := a.Streams.Register(req, OrderListener(a.log)); err != nil {
		return err
	}

	customers := NewCustomerPublisher(a.Broadcaster)
	orders := NewOrderPublisher(a.Streams)
	if err := a.Scheduler.Schedule("customer-publisher", a.settings.CustomerPeriod, customers.Publish); err != nil {
		return err
	}
	if err := a.Scheduler.Schedule("order-publisher", a.settings.OrderPeriod, orders.Publish); err != nil {
		return err
	}

	if err := a.Broadcaster.Start(ctx); err != nil {
		return err
	}
	if err := a.Streams.Start(ctx); err != nil {
		return err
	}
	return a.Scheduler.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	return errors.Join(
		a.Scheduler.Stop(ctx),
		a.Streams.Stop(ctx),
		a.Broadcaster.Stop(ctx),
	)
}
