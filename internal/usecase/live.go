package usecase

import (
	"context"
	"sync"

	"Backtest/internal/domain/models"
	drepo "Backtest/internal/domain/repository"
	"Backtest/internal/portfolio"
	"Backtest/pkg/logger"
)

// liveRouter shares one broker session between the live portfolios of a run.
// Fills are routed back by order ID; a session error reaches every member.
type liveRouter struct {
	broker drepo.Broker
	log    *logger.Logger

	mu      sync.Mutex
	owners  map[string]*portfolio.Portfolio
	members []*portfolio.Portfolio
}

func newLiveRouter(b drepo.Broker, log *logger.Logger) *liveRouter {
	return &liveRouter{
		broker: b,
		log:    log,
		owners: make(map[string]*portfolio.Portfolio),
	}
}

func (r *liveRouter) session() *liveSession {
	return &liveSession{router: r}
}

func (r *liveRouter) attach(s *liveSession, p *portfolio.Portfolio) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.owner = p
	r.members = append(r.members, p)
}

func (r *liveRouter) start(ctx context.Context) error {
	return r.broker.Start(ctx, r.onFill, r.onError)
}

func (r *liveRouter) stop() {
	if err := r.broker.Close(); err != nil {
		r.log.Warn("close broker", logger.Error(err))
	}
}

func (r *liveRouter) register(orderID string, p *portfolio.Portfolio) {
	r.mu.Lock()
	r.owners[orderID] = p
	r.mu.Unlock()
}

func (r *liveRouter) onFill(f models.Fill) {
	r.mu.Lock()
	p, ok := r.owners[f.OrderID]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("fill for unknown order",
			logger.String("order_id", f.OrderID),
			logger.String("symbol", f.Symbol))
		return
	}
	p.OnFill(f)
}

func (r *liveRouter) onError(err error) {
	r.log.Error("broker session lost", logger.Error(err))
	r.mu.Lock()
	members := append([]*portfolio.Portfolio(nil), r.members...)
	r.mu.Unlock()
	for _, p := range members {
		p.OnBrokerError(err)
	}
}

// liveSession is the per-portfolio view of the shared broker.
type liveSession struct {
	router *liveRouter
	owner  *portfolio.Portfolio
}

func (s *liveSession) Start(context.Context, func(models.Fill), func(error)) error { return nil }

func (s *liveSession) ExecuteOrder(ctx context.Context, order *models.Order) error {
	s.router.register(order.ID, s.owner)
	return s.router.broker.ExecuteOrder(ctx, order)
}

func (s *liveSession) Close() error { return nil }
