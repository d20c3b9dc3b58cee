package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	drepo "Backtest/internal/domain/repository"
	"Backtest/pkg/logger"
)

// WSBroker talks to a live broker gateway over a WebSocket. Orders go out as
// "order" frames; "fill" and "error" frames come back. The session fails with
// a HeartbeatLostError once nothing, pongs included, has been heard for the
// heartbeat timeout.
type WSBroker struct {
	url              string
	apiKey           string
	pingInterval     time.Duration
	heartbeatTimeout time.Duration
	dialer           *websocket.Dialer
	log              *logger.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	lastSeen atomic.Int64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type Option func(*WSBroker)

func WithPingInterval(d time.Duration) Option {
	return func(b *WSBroker) { b.pingInterval = d }
}

func WithHeartbeatTimeout(d time.Duration) Option {
	return func(b *WSBroker) { b.heartbeatTimeout = d }
}

func WithLogger(l *logger.Logger) Option {
	return func(b *WSBroker) { b.log = l }
}

// New creates a new WebSocket broker. Nothing is dialled until Start.
func New(wsURL, apiKey string, opts ...Option) drepo.Broker {
	return newWSBroker(wsURL, apiKey, opts...)
}

func newWSBroker(wsURL, apiKey string, opts ...Option) *WSBroker {
	b := &WSBroker{
		url:              wsURL,
		apiKey:           apiKey,
		pingInterval:     15 * time.Second,
		heartbeatTimeout: 45 * time.Second,
		dialer:           websocket.DefaultDialer,
		log:              logger.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type orderFrame struct {
	Type       string           `json:"type"`
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Direction  models.Direction `json:"direction"`
	Quantity   float64          `json:"quantity"`
	LimitPrice float64          `json:"limit_price"`
	CreatedAt  int64            `json:"created_at"` // ms
}

type inboundFrame struct {
	Type       string           `json:"type"`
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Direction  models.Direction `json:"direction"`
	Quantity   float64          `json:"quantity"`
	Price      float64          `json:"price"`
	Commission float64          `json:"commission"`
	Time       int64            `json:"t"` // ms
	Message    string           `json:"message"`
}

// Start dials the gateway and starts the read and heartbeat loops.
func (b *WSBroker) Start(ctx context.Context, onFill func(models.Fill), onErr func(error)) error {
	u, err := url.Parse(b.url)
	if err != nil {
		return fmt.Errorf("broker url: %w", err)
	}
	if b.apiKey != "" {
		q := u.Query()
		q.Set("token", b.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := b.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.mu.Unlock()

	b.touch()
	conn.SetPongHandler(func(string) error {
		b.touch()
		return nil
	})
	var once sync.Once
	fail := func(err error) {
		once.Do(func() {
			if runCtx.Err() != nil {
				return
			}
			b.log.Error("broker session failed", logger.Error(err))
			onErr(err)
		})
	}

	b.wg.Add(2)
	go b.readLoop(runCtx, conn, onFill, fail)
	go b.heartbeatLoop(runCtx, conn, fail)
	b.log.Info("broker connected", logger.String("url", b.url))
	return nil
}

func (b *WSBroker) touch() { b.lastSeen.Store(time.Now().UnixNano()) }

func (b *WSBroker) readLoop(ctx context.Context, conn *websocket.Conn, onFill func(models.Fill), fail func(error)) {
	defer b.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				fail(fmt.Errorf("broker read: %w", err))
			}
			return
		}
		b.touch()

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			b.log.Warn("broker frame ignored", logger.Error(err))
			continue
		}
		switch f.Type {
		case "fill":
			onFill(models.Fill{
				OrderID:    f.OrderID,
				Symbol:     f.Symbol,
				Direction:  f.Direction,
				Quantity:   f.Quantity,
				Price:      f.Price,
				Commission: f.Commission,
				CreatedAt:  time.UnixMilli(f.Time).UTC(),
			})
		case "error":
			fail(fmt.Errorf("broker: %s", f.Message))
			return
		}
	}
}

func (b *WSBroker) heartbeatLoop(ctx context.Context, conn *websocket.Conn, fail func(error)) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Since(time.Unix(0, b.lastSeen.Load()))
			if since > b.heartbeatTimeout {
				fail(&errs.HeartbeatLostError{Since: since})
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.pingInterval)); err != nil {
				b.log.Warn("broker ping", logger.Error(err))
			}
		}
	}
}

// ExecuteOrder sends the order to the gateway. Fills arrive through the
// onFill callback given to Start.
func (b *WSBroker) ExecuteOrder(_ context.Context, order *models.Order) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("broker not connected")
	}
	frame := orderFrame{
		Type:       "order",
		ID:         order.ID,
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Quantity:   order.Quantity,
		LimitPrice: order.LimitPrice,
		CreatedAt:  order.CreatedAt.UnixMilli(),
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send order %s: %w", order.ID, err)
	}
	return nil
}

// Close stops the loops and closes the connection.
func (b *WSBroker) Close() error {
	b.mu.Lock()
	conn, cancel := b.conn, b.cancel
	b.conn, b.cancel = nil, nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	cancel()
	b.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	b.writeMu.Unlock()
	err := conn.Close()
	b.wg.Wait()
	return err
}
