package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"botsim-core/internal/sim"
	"botsim-core/pkg/db"
)

const stateTimeout = 3 * time.Second

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"symbols": s.agg.SymbolCount(),
	})
}

type initRequest struct {
	Symbols  map[string]float64 `json:"symbols"`
	TickMS   int                `json:"tick_ms"`
	TradeCap int                `json:"trade_cap"`
	EventCap int                `json:"event_cap"`
}

func (s *Server) initEngine(c *gin.Context) {
	var req initRequest
	// empty body means "init with defaults"
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid init payload"})
			return
		}
	}
	s.engine.Send(sim.InitCmd{Config: sim.Config{
		Symbols:  req.Symbols,
		Tick:     time.Duration(req.TickMS) * time.Millisecond,
		TradeCap: req.TradeCap,
		EventCap: req.EventCap,
	}})
	c.JSON(http.StatusOK, gin.H{"status": "initialized"})
}

func (s *Server) startEngine(c *gin.Context) {
	s.engine.Send(sim.StartCmd{})
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopEngine(c *gin.Context) {
	s.engine.Send(sim.StopCmd{})
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) resetEngine(c *gin.Context) {
	s.engine.Send(sim.ResetCmd{})
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type tickRequest struct {
	IntervalMS int `json:"interval_ms" binding:"required"`
}

func (s *Server) setTick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_ms is required"})
		return
	}
	s.engine.Send(sim.SetTickCmd{Interval: time.Duration(req.IntervalMS) * time.Millisecond})
	c.JSON(http.StatusOK, gin.H{"status": "tick updated"})
}

func (s *Server) setProfile(c *gin.Context) {
	var patch sim.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile patch"})
		return
	}
	s.engine.Send(sim.SetProfileCmd{Patch: patch})
	c.JSON(http.StatusOK, gin.H{"status": "profile queued"})
}

func (s *Server) getState(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), stateTimeout)
	defer cancel()
	snap, err := s.engine.GetState(ctx)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "engine did not respond"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type createActivationRequest struct {
	UserID    string   `json:"user_id" binding:"required"`
	BotName   string   `json:"bot_name" binding:"required"`
	AmountUSD float64  `json:"amount_usd" binding:"required,gt=0"`
	Pairs     []string `json:"pairs" binding:"required,min=1"`
	TpPct     float64  `json:"tp_pct"`
	SlPct     float64  `json:"sl_pct"`
}

func (s *Server) createActivation(c *gin.Context) {
	var req createActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a := sim.Activation{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		BotName:   req.BotName,
		AmountUSD: req.AmountUSD,
		Status:    sim.StatusActive,
		Pairs:     req.Pairs,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.CreateActivation(c.Request.Context(), db.ActivationRow{
		ID:        a.ID,
		UserID:    a.UserID,
		BotName:   a.BotName,
		AmountUSD: a.AmountUSD,
		Status:    string(a.Status),
		Pairs:     a.Pairs,
		TpPct:     req.TpPct,
		SlPct:     req.SlPct,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist activation"})
		return
	}

	s.engine.Send(sim.AddActivationCmd{Activation: a})
	c.JSON(http.StatusCreated, a)
}

func (s *Server) getActivation(c *gin.Context) {
	a, err := s.db.GetActivation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "activation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load activation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         a.ID,
		"user_id":    a.UserID,
		"bot_name":   a.BotName,
		"amount_usd": a.AmountUSD,
		"status":     a.Status,
		"pairs":      a.Pairs,
		"tp_pct":     a.TpPct,
		"sl_pct":     a.SlPct,
		"created_at": a.CreatedAt,
	})
}

func (s *Server) cancelActivation(c *gin.Context) {
	id := c.Param("id")
	s.engine.Send(sim.CancelActivationCmd{ID: id})
	if err := s.db.UpdateActivationStatus(c.Request.Context(), id, string(sim.StatusCanceled)); err != nil && !errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist cancel"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled", "id": id})
}

func (s *Server) pauseActivation(c *gin.Context) {
	id := c.Param("id")
	s.engine.Send(sim.PauseActivationCmd{ID: id})
	if err := s.db.UpdateActivationStatus(c.Request.Context(), id, string(sim.StatusPaused)); err != nil && !errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist pause"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused", "id": id})
}

func (s *Server) resumeActivation(c *gin.Context) {
	id := c.Param("id")
	s.engine.Send(sim.ResumeActivationCmd{ID: id})
	if err := s.db.UpdateActivationStatus(c.Request.Context(), id, string(sim.StatusActive)); err != nil && !errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist resume"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active", "id": id})
}

// takeProfit triggers an immediate flush for one activation. A failure leaves
// the ledger untouched; the amount is retried on the next window.
func (s *Server) takeProfit(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := s.flush.FlushActivation(ctx, id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "take profit failed, please retry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed", "id": id})
}

func (s *Server) activationTrades(c *gin.Context) {
	c.JSON(http.StatusOK, s.agg.ViewFor(c.Param("id")))
}

// getTrade serves the settled row, not the aggregator's coalesced copy, so
// closed trades stay queryable after they age out of the bounded view.
func (s *Server) getTrade(c *gin.Context) {
	t, err := s.db.GetTrade(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load trade"})
		return
	}
	resp := gin.H{
		"id":            t.ID,
		"activation_id": t.ActivationID,
		"pair":          t.Pair,
		"side":          t.Side,
		"leverage":      t.Leverage,
		"amount_usd":    t.AmountUSD,
		"entry":         t.Entry,
		"tp_pct":        t.TpPct,
		"sl_pct":        t.SlPct,
		"status":        t.Status,
		"reason":        t.Reason,
		"close_price":   t.ClosePrice,
		"pnl":           t.PnL,
		"opened_at":     t.OpenedAt,
	}
	if t.ClosedAt.Valid {
		resp["closed_at"] = t.ClosedAt.Time
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) prices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prices": s.agg.Prices()})
}

func (s *Server) priceDetail(c *gin.Context) {
	symbol := c.Param("symbol")
	price, age, ok := s.agg.PriceWithAge(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"price":  price,
		"age_ms": age.Milliseconds(),
	})
}

func (s *Server) getBotProfile(c *gin.Context) {
	p, err := s.db.GetBotProfile(c.Request.Context(), c.Param("name"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}
	c.JSON(http.StatusOK, p)
}
