// Package api exposes the gateway over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-gateway/internal/events"
	"trading-gateway/internal/gateway"
	"trading-gateway/internal/monitor"
	"trading-gateway/internal/stream"
	"trading-gateway/pkg/cache"
	"trading-gateway/pkg/db"
	"trading-gateway/pkg/router"
)

// Server wires HTTP endpoints around the aggregator and the event bus.
type Server struct {
	Router      *gin.Engine
	Agg         *gateway.Aggregator
	Bus         *events.Bus
	Queries     *db.Queries
	RouteClient *router.Client
	Supervisor  *stream.Supervisor
	Tickers     *cache.TickerCache
	Metrics     *monitor.Collector
	Meta        SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Venues  []string
	Version string
}

// Options configures the HTTP layer.
type Options struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	JWTSecret       string
	RequireAuth     bool
	TickerTTL       time.Duration
	Metrics         *monitor.Collector
}

func NewServer(agg *gateway.Aggregator, bus *events.Bus, queries *db.Queries, routeClient *router.Client, sup *stream.Supervisor, meta SystemMeta, opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	if opts.Metrics != nil {
		r.Use(MetricsMiddleware(opts.Metrics))
	}
	r.Use(RateLimitMiddleware(opts.RateLimitPerSec, opts.RateLimitBurst))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:      r,
		Agg:         agg,
		Bus:         bus,
		Queries:     queries,
		RouteClient: routeClient,
		Supervisor:  sup,
		Tickers:     cache.NewTickerCache(opts.TickerTTL),
		Metrics:     opts.Metrics,
		Meta:        meta,
	}
	s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/fills", s.fillsWebsocket)

	api := s.Router.Group("/api")
	if opts.RequireAuth {
		api.Use(AuthMiddleware(opts.JWTSecret))
	}
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/venues", s.getVenues)
		api.GET("/balances", s.getBalances)
		api.GET("/ticker/:symbol", s.getTicker)
		api.GET("/orderbook/:symbol", s.getOrderBook)

		api.POST("/orders", s.submitOrder)
		api.POST("/orders/cancel", s.cancelOrders)
		api.POST("/orders/status", s.getOrderStatus)
		api.GET("/orders/open", s.getOpenOrders)
		api.GET("/orders/history/:symbol", s.getOrderHistory)
		api.GET("/orders/stored/:symbol", s.getStoredOrders)

		api.GET("/trades/recent", s.getRecentTrades)
		api.GET("/trades/:venue/:orderId", s.getTradesByOrder)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	status := gin.H{
		"venues":  s.Meta.Venues,
		"version": s.Meta.Version,
	}
	if s.Supervisor != nil {
		status["droppedTrades"] = s.Supervisor.Dropped()
	}
	if s.Metrics != nil {
		status["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
