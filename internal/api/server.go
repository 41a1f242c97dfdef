// Package api provides the device HTTP server: live stream, media files
// and motion control.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vigilcam/internal/camera"
	"github.com/mikeyg42/vigilcam/internal/catalog"
	"github.com/mikeyg42/vigilcam/internal/config"
	"github.com/mikeyg42/vigilcam/internal/gate"
	"github.com/mikeyg42/vigilcam/internal/journal"
	"github.com/mikeyg42/vigilcam/internal/logging"
)

// FrameSource hands out frames for streaming.
type FrameSource interface {
	Acquire(ctx context.Context) (*camera.Frame, error)
	Release(f *camera.Frame)
}

// Gate is the streaming gate.
type Gate interface {
	ForceOn()
	ForceOff()
	IsActive() bool
	Status() gate.Status
}

// Settings holds the runtime motion settings.
type Settings interface {
	Get() config.MotionSettings
	Update(u config.MotionUpdate) (config.MotionSettings, error)
}

// Catalog is the media file catalog.
type Catalog interface {
	List(ctx context.Context) (catalog.Listing, error)
	Read(ctx context.Context, name string) (*catalog.Media, error)
	Delete(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) (int, error)
	Mounted(ctx context.Context) bool
}

// CaptureRequester queues manual captures.
type CaptureRequester interface {
	RequestCapture(reason string) error
}

// Journal exposes the capture journal.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Forget(ctx context.Context, name string) (int64, error)
}

// Deps are the components the server routes to. Journal may be nil.
type Deps struct {
	Frames   FrameSource
	Gate     Gate
	Settings Settings
	Catalog  Catalog
	Capture  CaptureRequester
	Journal  Journal
}

// Server is an HTTP API server
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	deps       Deps
	cfg        config.ServerConfig
	limiter    *RateLimiter
	logger     *zap.Logger

	// Parent of every request context; cancelled first on shutdown so
	// long-lived streams end.
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		deps:    deps,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window),
		logger:  logging.OrGlobal(logger, "api"),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.registerRoutes()

	// Stream handlers replace the write deadline frame by frame.
	s.httpServer = &http.Server{
		Addr:           cfg.Addr,
		Handler:        corsMiddleware(cfg.AllowedOrigins, s.mux),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
		BaseContext:    func(net.Listener) context.Context { return s.baseCtx },
		ConnContext:    withConn,
		ErrorLog:       zap.NewStdLog(s.logger.Named("http")),
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Health check endpoint
	s.mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("/stream", s.handleStream)

	s.mux.HandleFunc("/api/files", s.handleFiles)
	s.mux.HandleFunc("/file", s.handleFile)
	s.mux.HandleFunc("/api/delete", s.limiter.Middleware(s.handleDelete))
	s.mux.HandleFunc("/api/delete_all", s.limiter.Middleware(s.handleDeleteAll))
	s.mux.HandleFunc("/api/sd/status", s.handleStorageStatus)

	s.mux.HandleFunc("/api/motion/config", s.handleMotionConfig)
	s.mux.HandleFunc("/api/motion/force", s.handleMotionForce)
	s.mux.HandleFunc("/api/motion/stop", s.handleMotionStop)
	s.mux.HandleFunc("/api/motion/status", s.handleMotionStatus)
	s.mux.HandleFunc("/api/motion/ws", s.handleMotionWS)

	s.mux.HandleFunc("/api/capture", s.handleCapture)
	s.mux.HandleFunc("/api/journal", s.handleJournal)
}

// Handler returns the routed handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// corsMiddleware adds CORS headers for the allowed origins. "*" allows any.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := false
	allowedOrigins := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowedOrigins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && (allowAll || allowedOrigins[origin]) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("Starting API server", zap.String("addr", l.Addr().String()))
	return s.httpServer.Serve(l)
}

// Shutdown gracefully shuts down the server. Open streams notice the gate
// or their request context and end on their own.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	s.cancelBase()
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}

// StartInBackground starts the server in a goroutine
func (s *Server) StartInBackground() {
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	s.logger.Info("API server started in background", zap.String("addr", s.httpServer.Addr))
}

func (s *Server) streamSendTimeout() time.Duration {
	if s.cfg.StreamSendTimeout <= 0 {
		return 10 * time.Second
	}
	return s.cfg.StreamSendTimeout
}
