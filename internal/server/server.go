// Package server exposes the uploader over HTTP: port listing, release
// updates, background uploads and a websocket serial monitor.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/farmrobo-dev/fruploader/internal/flash"
	"github.com/farmrobo-dev/fruploader/internal/metrics"
	"github.com/farmrobo-dev/fruploader/internal/release"
	"github.com/farmrobo-dev/fruploader/internal/serial"
)

const shutdownTimeout = 10 * time.Second

// Options wires a Server to the rest of the application.
type Options struct {
	Addr           string
	AllowedOrigins []string

	Coordinator  *flash.Coordinator
	Installer    *release.Installer
	Client       *release.Client
	Registry     *serial.Registry
	Lister       serial.Lister
	FirmwareDir  string
	Marker       string
	BaudRate     int
	PollInterval time.Duration
	Logger       *zap.Logger
}

type Server struct {
	opts   Options
	log    *zap.Logger
	engine *gin.Engine

	mu   sync.Mutex
	jobs map[string]*flash.Job
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = serial.DefaultRegistry()
	}
	if opts.Lister == nil {
		opts.Lister = serial.ListPorts
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = serial.DefaultBaudRate
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:   opts,
		log:    opts.Logger.Named("server"),
		engine: gin.New(),
		jobs:   make(map[string]*flash.Job),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger(s.log))
	s.engine.Use(corsMiddleware(s.opts.AllowedOrigins))

	api := s.engine.Group("/api")
	{
		api.GET("/ports", s.listPorts)
		api.GET("/version", s.checkVersion)
		api.POST("/download", s.download)
		api.POST("/uploads", s.startUpload)
		api.GET("/uploads/:id", s.getUpload)
		api.GET("/monitor", s.monitor)
	}
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", s.opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) > 0 {
		cfg.AllowOrigins = origins
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	return cors.New(cfg)
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
