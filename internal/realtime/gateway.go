package realtime

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-reservation/internal/config"
	"github.com/iliyamo/raffle-reservation/internal/metrics"
)

// Gateway upgrades HTTP requests to websockets and streams the
// raffle's events to them.  Clients only ever receive; anything they
// send is discarded.
type Gateway struct {
	hub          *Hub
	writeTimeout time.Duration
	pingInterval time.Duration
	origins      []string
}

// NewGateway builds a gateway over hub.  With no allowed origins only
// same-origin browsers are accepted.
func NewGateway(hub *Hub, cfg config.WSConfig) *Gateway {
	g := &Gateway{hub: hub, writeTimeout: cfg.WriteTimeout, pingInterval: cfg.PingInterval, origins: cfg.AllowedOrigins}
	if g.writeTimeout <= 0 {
		g.writeTimeout = 10 * time.Second
	}
	if g.pingInterval <= 0 {
		g.pingInterval = 30 * time.Second
	}
	return g
}

// Handle serves GET /v1/raffles/:id/ws.
func (g *Gateway) Handle(c echo.Context) error {
	raffleID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || raffleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid raffle id"})
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: g.origins,
	})
	if err != nil {
		// Accept already wrote the HTTP error.
		c.Logger().Debugf("realtime: accept failed: %v", err)
		return nil
	}
	defer conn.CloseNow()

	sub := g.hub.Subscribe(raffleID)
	defer sub.Close()
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	// CloseRead discards client frames and cancels ctx once the peer
	// closes the connection.
	ctx := conn.CloseRead(context.Background())
	g.pump(ctx, conn, sub)
	return nil
}

func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				switch {
				case errors.Is(sub.Err(), ErrSlowConsumer):
					_ = conn.Close(websocket.StatusPolicyViolation, "slow consumer, resync required")
				default:
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				}
				return
			}
			wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
