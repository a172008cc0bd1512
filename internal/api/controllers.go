package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"trading-gateway/internal/gateway"
	"trading-gateway/pkg/db"
	"trading-gateway/pkg/router"
	"trading-gateway/pkg/venues/common"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ARGUMENT", "error": msg})
}

// respondEnvelope writes a per-venue envelope, translating a pre-fan-out
// validation failure into a 400.
func respondEnvelope(c *gin.Context, env gateway.Envelope, err error) {
	if err != nil {
		if errors.Is(err, common.ErrInvalidArgument) {
			badRequest(c, err.Error())
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) getVenues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"venues": s.Meta.Venues})
}

func (s *Server) getBalances(c *gin.Context) {
	c.JSON(http.StatusOK, s.Agg.GetBalances(c.Request.Context()))
}

// getTicker serves from the cache when every venue has a fresh ticker, so
// bursts of reads do not turn into bursts of venue calls.
func (s *Server) getTicker(c *gin.Context) {
	symbol := c.Param("symbol")
	if env, ok := s.cachedTickers(symbol); ok {
		c.JSON(http.StatusOK, env)
		return
	}

	env, err := s.Agg.GetTicker(c.Request.Context(), symbol)
	if err == nil && s.Tickers != nil {
		for _, entry := range env {
			if t, ok := entry.Result.(common.Ticker); ok && entry.Success {
				s.Tickers.Set(t)
			}
		}
	}
	respondEnvelope(c, env, err)
}

func (s *Server) cachedTickers(symbol string) (gateway.Envelope, bool) {
	if s.Tickers == nil || symbol == "" || len(s.Meta.Venues) == 0 {
		return nil, false
	}
	env := make(gateway.Envelope, len(s.Meta.Venues))
	for _, venueID := range s.Meta.Venues {
		t, ok := s.Tickers.Get(venueID, symbol)
		if !ok {
			return nil, false
		}
		env[venueID] = gateway.Entry{Success: true, Result: t}
	}
	return env, true
}

func (s *Server) getOrderBook(c *gin.Context) {
	env, err := s.Agg.GetOrderBook(c.Request.Context(), c.Param("symbol"))
	respondEnvelope(c, env, err)
}

func (s *Server) getOpenOrders(c *gin.Context) {
	env := s.Agg.GetOpenOrders(c.Request.Context(), c.Query("symbol"))
	c.JSON(http.StatusOK, env)
}

// getOrderHistory serves /api/orders/history/:symbol?start=<ms>&end=<ms>.
func (s *Server) getOrderHistory(c *gin.Context) {
	start, err1 := epochMilliQuery(c, "start")
	end, err2 := epochMilliQuery(c, "end")
	if err1 != nil || err2 != nil {
		badRequest(c, "start and end must be epoch milliseconds")
		return
	}
	env, err := s.Agg.GetOrderHistory(c.Request.Context(), c.Param("symbol"), start, end)
	respondEnvelope(c, env, err)
}

func epochMilliQuery(c *gin.Context, name string) (time.Time, error) {
	ms, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

type submitRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Price  string `json:"price"`
	Qty    string `json:"qty"`
	// Venue pins the order to a single venue; when empty the order is
	// split across venues by the external router.
	Venue string `json:"venue"`
}

func (s *Server) submitOrder(c *gin.Context) {
	var req submitRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	side := common.Side(req.Side)
	if side != common.SideBuy && side != common.SideSell {
		badRequest(c, "side must be BUY or SELL")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.Sign() <= 0 {
		badRequest(c, "price must be a positive decimal")
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil || qty.Sign() <= 0 {
		badRequest(c, "qty must be a positive decimal")
		return
	}
	if req.Symbol == "" {
		badRequest(c, "symbol is required")
		return
	}

	ctx := c.Request.Context()
	var frags []router.Fragment
	if req.Venue != "" {
		frags = []router.Fragment{{Symbol: req.Symbol, VenueID: req.Venue, Price: price, Qty: qty}}
	} else {
		if s.RouteClient == nil {
			badRequest(c, "no venue given and no order router configured")
			return
		}
		frags, err = s.RouteClient.Route(ctx, req.Symbol, side, qty, price)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}

	env, err := s.Agg.SubmitRouted(ctx, side, frags)
	if err != nil {
		respondEnvelope(c, nil, err)
		return
	}
	s.persistAccepted(c, env)
	c.JSON(http.StatusOK, env)
}

// persistAccepted records every order a venue accepted.
func (s *Server) persistAccepted(c *gin.Context, env gateway.Envelope) {
	if s.Queries == nil {
		return
	}
	now := time.Now().UnixMilli()
	for venueID, entry := range env {
		if !entry.Success {
			continue
		}
		ord, ok := entry.Result.(common.Order)
		if !ok {
			continue
		}
		if err := s.Queries.UpsertOrder(c.Request.Context(), ord, now); err != nil {
			log.Printf("persist order %s/%s: %v", venueID, ord.VenueOrderID, err)
		}
	}
}

type cancelRequest struct {
	Orders []struct {
		Venue        string `json:"venue"`
		VenueOrderID string `json:"venueOrderId"`
		Symbol       string `json:"symbol"`
	} `json:"orders"`
}

func (s *Server) cancelOrders(c *gin.Context) {
	var req cancelRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}

	orders := make([]common.Order, 0, len(req.Orders))
	for _, o := range req.Orders {
		orders = append(orders, common.Order{
			Operation:    common.Operation{Symbol: o.Symbol},
			VenueID:      o.Venue,
			VenueOrderID: o.VenueOrderID,
		})
	}

	ctx := c.Request.Context()
	env, err := s.Agg.CancelOrders(ctx, orders)
	if err != nil {
		respondEnvelope(c, nil, err)
		return
	}

	if s.Queries != nil {
		now := time.Now().UnixMilli()
		for _, o := range req.Orders {
			entry, ok := env[o.Venue]
			if !ok || !entry.Success {
				continue
			}
			err := s.Queries.UpdateOrderStatus(ctx, o.Venue, o.VenueOrderID, common.StatusCanceled, now)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				log.Printf("mark order %s/%s canceled: %v", o.Venue, o.VenueOrderID, err)
			}
		}
	}
	c.JSON(http.StatusOK, env)
}

type statusRequest struct {
	// IDs maps venue id to the venue-scoped order id.
	IDs map[string]string `json:"ids"`
}

func (s *Server) getOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	env, err := s.Agg.GetOrderStatus(c.Request.Context(), req.IDs)
	respondEnvelope(c, env, err)
}

func (s *Server) getStoredOrders(c *gin.Context) {
	if s.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := s.Queries.ListOrders(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getRecentTrades(c *gin.Context) {
	if s.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.Queries.ListRecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getTradesByOrder(c *gin.Context) {
	if s.Queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}
	trades, err := s.Queries.ListTradesByOrder(c.Request.Context(), c.Param("venue"), c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
