package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoGateway fills every order it receives in full at its limit price.
func echoGateway(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var o orderFrame
			if err := conn.ReadJSON(&o); err != nil {
				return
			}
			reply := inboundFrame{Type: "fill", OrderID: o.ID, Symbol: o.Symbol, Direction: o.Direction,
				Quantity: o.Quantity, Price: o.LimitPrice, Commission: 1.5, Time: o.CreatedAt}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
}

func TestOrderRoundTrip(t *testing.T) {
	srv := echoGateway(t)
	defer srv.Close()

	b := New(wsURL(srv), "secret", WithPingInterval(20*time.Millisecond))
	fills := make(chan models.Fill, 1)
	if err := b.Start(context.Background(), func(f models.Fill) { fills <- f }, func(err error) {
		t.Errorf("unexpected session error: %v", err)
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Close()

	at := time.Date(2021, 3, 1, 9, 30, 0, 0, time.UTC)
	order := &models.Order{ID: "o-1", Symbol: "AAA", Direction: models.Buy, Quantity: 10, LimitPrice: 101.5, CreatedAt: at}
	if err := b.ExecuteOrder(context.Background(), order); err != nil {
		t.Fatalf("execute: %v", err)
	}
	select {
	case f := <-fills:
		if f.OrderID != "o-1" || f.Quantity != 10 || f.Price != 101.5 || f.Commission != 1.5 || !f.CreatedAt.Equal(at) {
			t.Fatalf("fill = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fill")
	}
}

func TestStartRejectsBadToken(t *testing.T) {
	srv := echoGateway(t)
	defer srv.Close()
	b := New(wsURL(srv), "wrong")
	if err := b.Start(context.Background(), func(models.Fill) {}, func(error) {}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestHeartbeatLost(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// never read, so pings are never answered
		<-release
	}))
	defer srv.Close()
	defer close(release)

	b := New(wsURL(srv), "", WithPingInterval(10*time.Millisecond), WithHeartbeatTimeout(50*time.Millisecond))
	lost := make(chan error, 1)
	if err := b.Start(context.Background(), func(models.Fill) {}, func(err error) { lost <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Close()

	select {
	case err := <-lost:
		var hb *errs.HeartbeatLostError
		if !errors.As(err, &hb) {
			t.Fatalf("expected heartbeat error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loss not reported")
	}
}

func TestGatewayErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg, _ := json.Marshal(inboundFrame{Type: "error", Message: "account suspended"})
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	b := New(wsURL(srv), "")
	failed := make(chan error, 1)
	if err := b.Start(context.Background(), func(models.Fill) {}, func(err error) { failed <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Close()
	select {
	case err := <-failed:
		if !strings.Contains(err.Error(), "account suspended") {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error frame not reported")
	}
}

func TestExecuteBeforeStart(t *testing.T) {
	if err := New("ws://127.0.0.1:1", "").ExecuteOrder(context.Background(), &models.Order{ID: "x"}); err == nil {
		t.Fatal("expected not connected")
	}
}
