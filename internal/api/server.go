// Package api exposes the control protocol over HTTP and websocket: engine
// commands in, snapshots and coalesced views out.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botsim-core/internal/aggregator"
	"botsim-core/internal/events"
	"botsim-core/internal/flush"
	"botsim-core/internal/sim"
	"botsim-core/pkg/db"
)

// Server wires the HTTP surface to the engine, aggregator and coordinator.
type Server struct {
	engine *sim.Engine
	agg    *aggregator.Aggregator
	flush  *flush.Coordinator
	bus    *events.Bus
	db     *db.Database

	httpSrv *http.Server
}

// NewServer builds the gin router and handlers.
func NewServer(engine *sim.Engine, agg *aggregator.Aggregator, coord *flush.Coordinator, bus *events.Bus, database *db.Database, port string) *Server {
	s := &Server{
		engine: engine,
		agg:    agg,
		flush:  coord,
		bus:    bus,
		db:     database,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(), CORS(), RateLimit(50, 100))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWebsocket)

	eng := r.Group("/api/engine")
	{
		eng.POST("/init", s.initEngine)
		eng.POST("/start", s.startEngine)
		eng.POST("/stop", s.stopEngine)
		eng.POST("/reset", s.resetEngine)
		eng.PUT("/tick", s.setTick)
		eng.PUT("/profile", s.setProfile)
		eng.GET("/state", s.getState)
	}

	acts := r.Group("/api/activations")
	{
		acts.POST("", s.createActivation)
		acts.GET("/:id", s.getActivation)
		acts.DELETE("/:id", s.cancelActivation)
		acts.POST("/:id/pause", s.pauseActivation)
		acts.POST("/:id/resume", s.resumeActivation)
		acts.POST("/:id/take-profit", s.takeProfit)
		acts.GET("/:id/trades", s.activationTrades)
	}

	r.GET("/api/trades/:id", s.getTrade)
	r.GET("/api/prices", s.prices)
	r.GET("/api/prices/:symbol", s.priceDetail)
	r.GET("/api/profiles/:name", s.getBotProfile)

	s.httpSrv = &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() {
	go func() {
		log.Printf("api: listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ api: server failed: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
