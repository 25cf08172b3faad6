// Package webhook exposes the message engine over HTTP: the registration
// handshake, the signed message endpoint, and the metrics endpoint.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lspvic/yawxt/internal/message"
	"github.com/lspvic/yawxt/internal/metrics"
)

// Config configures the webhook server.
type Config struct {
	Addr string
	// Path is the webhook URL path registered with the platform.
	Path string
	// Token is the shared webhook secret participating in the request
	// signature.
	Token string
	// MaxSkew bounds request timestamp drift; zero disables the check.
	MaxSkew    time.Duration
	Dispatcher *message.Dispatcher
	// Metrics, when non-nil, is served at MetricsPath.
	Metrics     *metrics.Collector
	MetricsPath string
	Logger      *slog.Logger
}

// Server is the webhook HTTP server.
type Server struct {
	cfg    Config
	engine *gin.Engine
	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/wechat"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{cfg: cfg, engine: engine}
	engine.GET(cfg.Path, s.handleVerify)
	engine.POST(cfg.Path, s.handleMessage)
	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		engine.GET(cfg.MetricsPath, gin.WrapF(cfg.Metrics.Handler()))
	}
	return s
}

// Handler exposes the underlying handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.cfg.Logger.Info("webhook server starting", "addr", s.cfg.Addr, "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.cfg.Logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *Server) verified(c *gin.Context) bool {
	return message.VerifySignature(
		s.cfg.Token,
		c.Query("timestamp"),
		c.Query("nonce"),
		c.Query("signature"),
		s.cfg.MaxSkew,
	)
}

// handleVerify answers the platform's registration handshake: echo the
// echostr query parameter verbatim once the signature checks out.
func (s *Server) handleVerify(c *gin.Context) {
	if !s.verified(c) {
		s.cfg.Logger.Warn("handshake signature rejected", "remote", c.ClientIP())
		c.String(http.StatusForbidden, "")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(c.Query("echostr")))
}

// handleMessage runs one inbound message through the engine: verify,
// decode, dispatch, reply. Signature failures short-circuit before any
// decoding; decode failures and hook errors map to a safe empty body so the
// platform is never shown an error page.
func (s *Server) handleMessage(c *gin.Context) {
	if !s.verified(c) {
		s.cfg.Logger.Warn("message signature rejected", "remote", c.ClientIP())
		c.String(http.StatusForbidden, "")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.String(http.StatusBadRequest, "")
		return
	}

	ctx, err := s.cfg.Dispatcher.Dispatch(c.Request.Context(), raw)
	if err != nil {
		var decodeErr *message.DecodeError
		if errors.As(err, &decodeErr) {
			s.cfg.Logger.Warn("undecodable message", "err", err, "remote", c.ClientIP())
		} else {
			s.cfg.Logger.Error("message dispatch failed", "err", err)
		}
		c.String(http.StatusOK, "")
		return
	}

	reply, err := ctx.Reply()
	if err != nil {
		s.cfg.Logger.Error("reply finalization failed", "err", err, "openid", ctx.OpenID)
		c.String(http.StatusOK, "")
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(reply))
}
