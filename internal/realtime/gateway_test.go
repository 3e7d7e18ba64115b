package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/logging"
	"github.com/iliyamo/raffle-reservation/internal/model"
)

func TestGateway_StreamsRaffleEvents(t *testing.T) {
	hub := NewHub(8, logging.Nop{})
	e := echo.New()
	e.GET("/v1/raffles/:id/ws", NewGateway(hub, config.WSConfig{WriteTimeout: time.Second, PingInterval: time.Minute}).Handle)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/raffles/7/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Count(7) == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(event(model.EventNumberReserved, 8, 1, 1)) // other raffle
	hub.Broadcast(event(model.EventNumberSold, 7, 42, 3))

	typ, msg, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	var ev model.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, model.EventNumberSold, ev.Type)
	assert.Equal(t, 42, ev.NumberValue)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return hub.Count(7) == 0 }, time.Second, 5*time.Millisecond)
}

func TestGateway_ShutdownClosesSockets(t *testing.T) {
	hub := NewHub(8, logging.Nop{})
	e := echo.New()
	e.GET("/v1/raffles/:id/ws", NewGateway(hub, config.WSConfig{}).Handle)
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/raffles/7/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return hub.Count(7) == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestGateway_InvalidRaffle(t *testing.T) {
	hub := NewHub(8, logging.Nop{})
	e := echo.New()
	e.GET("/v1/raffles/:id/ws", NewGateway(hub, config.WSConfig{}).Handle)

	req := httptest.NewRequest("GET", "/v1/raffles/abc/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}
