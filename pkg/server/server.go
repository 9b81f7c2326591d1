package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mnohosten/shardkv/pkg/cluster"
	"github.com/mnohosten/shardkv/pkg/lsm"
	"github.com/mnohosten/shardkv/pkg/metrics"
)

// Server is one node of the cluster: the HTTP surface over the local
// storage engine and the replication coordinator.
type Server struct {
	config    *Config
	engine    *lsm.Engine
	coord     *cluster.Coordinator
	router    *chi.Mux
	httpSrv   *http.Server
	log       *logrus.Logger
	collector *metrics.Collector
	exporter  *metrics.PrometheusExporter
}

// New creates a node: it opens the engine over the data directory, builds
// the topology from the cluster URL list and wires the HTTP routes.
func New(config *Config) (*Server, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	collector := metrics.NewCollector()

	engineCfg := lsm.DefaultConfig(config.DataDir)
	if config.MemtableSize > 0 {
		engineCfg.MemtableSize = config.MemtableSize
	}
	engineCfg.Logger = logger
	engineCfg.Metrics = collector
	engine, err := lsm.Open(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}

	urls := config.ClusterURLs
	if len(urls) == 0 {
		urls = []string{config.NodeURL}
	}
	topology, err := cluster.NewTopology(urls, config.NodeURL)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to build topology: %w", err)
	}

	coord := cluster.NewCoordinator(topology, engine, cluster.Options{
		RequestTimeout: config.RequestTimeout,
		Logger:         logger,
		Metrics:        collector,
	})

	srv := &Server{
		config:    config,
		engine:    engine,
		coord:     coord,
		router:    chi.NewRouter(),
		log:       logger,
		collector: collector,
		exporter:  metrics.NewPrometheusExporter(collector),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return srv, nil
}

// setupMiddleware configures the HTTP middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableLogging {
		s.router.Use(middleware.Logger)
	}

	s.router.Use(s.requestSizeLimitMiddleware)
	s.router.Use(middleware.Timeout(s.config.RequestTimeout))
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Get("/v0/status", s.handleStatus)
	s.router.Route("/v0/entity", func(r chi.Router) {
		r.Get("/", s.handleEntityGet)
		r.Put("/", s.handleEntityPut)
		r.Delete("/", s.handleEntityDelete)
	})

	s.router.Get("/metrics", s.handleMetrics)

	// Every path outside the API is a client error
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
	})
}

// requestSizeLimitMiddleware limits request body size
func (s *Server) requestSizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the node's HTTP handler, used by tests to mount the node
// on an httptest server.
func (s *Server) Handler() http.Handler { return s.router }

// Engine returns the node's local storage engine
func (s *Server) Engine() *lsm.Engine { return s.engine }

// Start starts the HTTP server and blocks until an error or a shutdown
// signal.
func (s *Server) Start() error {
	fmt.Printf("🚀 shardkv node starting on http://%s:%d\n", s.config.Host, s.config.Port)
	fmt.Printf("📁 Data directory: %s\n", s.config.DataDir)
	fmt.Printf("🌐 Cluster: %d node(s)\n", s.coord.ClusterSize())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.engine.Close()
		return err
	case sig := <-sigChan:
		fmt.Printf("\n⚠️  Received signal: %v\n", sig)
		return s.Shutdown()
	}
}

// Shutdown drains the HTTP server, then closes the engine, which flushes
// any buffered writes to a final sstable.
func (s *Server) Shutdown() error {
	fmt.Println("🛑 Shutting down node...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error("HTTP shutdown failed")
	}

	if err := s.engine.Close(); err != nil {
		s.log.WithError(err).Error("engine close failed")
		return err
	}

	fmt.Println("✅ Node shutdown complete")
	return nil
}

// Close releases the node's resources without waiting on signals. Intended
// for tests.
func (s *Server) Close() error {
	return s.engine.Close()
}
