// Package http serves the prediction form, its JSON and WebSocket
// counterparts, and the Prometheus endpoint.
package http

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"medcost/insurance"
	"medcost/ml"
	"medcost/monitoring"
)

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8501,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Predictor is the part of ml.Predictor the handlers need.
type Predictor interface {
	Predict(ctx context.Context, record insurance.Record) (*ml.Prediction, error)
	Schema() (ml.Schema, error)
}

// Deps are the collaborators of the server. Metrics and Logger may be nil.
type Deps struct {
	Predictor  Predictor
	Columns    insurance.Columns
	Categories insurance.Categories
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Server HTTP服务器
type Server struct {
	server   *http.Server
	config   ServerConfig
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.Named("http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	chain := Chain(
		RecoveryMiddleware(s.logger),
		LoggerMiddleware(s.logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.Timeout),
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      chain(mux),
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(s.deps.Metrics, pattern, h))
	}
	handle("GET /{$}", s.handleIndex)
	handle("POST /predict", s.handlePredictForm)
	handle("POST /api/predict", s.handlePredictAPI)
	handle("GET /api/ws/predict", s.handlePredictWS)
	handle("GET /api/health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 优雅关闭服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}
