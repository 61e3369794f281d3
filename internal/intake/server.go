package intake

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/drblury/commentflow/internal/captcha"
	"github.com/drblury/commentflow/internal/comments"
	"github.com/drblury/commentflow/internal/runtime/config"
	errspkg "github.com/drblury/commentflow/internal/runtime/errors"
	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
	"github.com/drblury/commentflow/internal/runtime/logging"
)

const (
	maxBodyBytes      = 64 << 10
	shutdownTimeout   = 10 * time.Second
	streamKeepAlive   = 15 * time.Second
	commentEventName  = "comment"
	acceptedStatusMsg = "accepted"
)

// ChallengeIssuer hands out captcha challenges.
type ChallengeIssuer interface {
	Issue(ctx context.Context) (captcha.Challenge, error)
}

// HealthReporter reports whether the producer can reach the broker.
type HealthReporter interface {
	Connected() bool
}

type Server struct {
	cfg     config.HTTPConfig
	svc     *Service
	issuer  ChallengeIssuer
	health  HealthReporter
	log     logging.ServiceLogger
	limiter *ipLimiter

	streamSub   message.Subscriber
	streamTopic string

	engine *gin.Engine
}

type ServerOption func(*Server)

// WithStream serves GET /api/comments/stream from the broadcast topic.
func WithStream(sub message.Subscriber, topic string) ServerOption {
	return func(s *Server) {
		s.streamSub = sub
		s.streamTopic = topic
	}
}

type errorResponse struct {
	Error  string               `json:"error"`
	Fields []errspkg.FieldError `json:"fields,omitempty"`
}

type acceptedResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func NewServer(cfg config.HTTPConfig, svc *Service, issuer ChallengeIssuer, health HealthReporter, log logging.ServiceLogger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		issuer:  issuer,
		health:  health,
		log:     logging.Component(log, "http"),
		limiter: newIPLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.CORSAllowedOrigins) == 0 || (len(s.cfg.CORSAllowedOrigins) == 1 && s.cfg.CORSAllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.CORSAllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	limited := api.Group("", s.limiter.middleware())
	limited.GET("/captcha", s.issueCaptcha)
	limited.POST("/comments", s.submitComment)
	if s.streamSub != nil {
		api.GET("/comments/stream", s.streamComments)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request", logging.LogFields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"client_ip":  c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil && !s.health.Connected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "broker": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "broker": "connected"})
}

func (s *Server) issueCaptcha(c *gin.Context) {
	ch, err := s.issuer.Issue(c.Request.Context())
	if err != nil {
		s.log.Error("Captcha not issued", err, nil)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "captcha unavailable"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ch)
}

func (s *Server) submitComment(c *gin.Context) {
	var sub comments.Submission
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "request body is too large"})
		return
	}
	if err := jsoncodec.UnmarshalBody(body, &sub); err != nil {
		msg := "request body is not a valid comment"
		if errors.Is(err, jsoncodec.ErrEmpty) {
			msg = "request body is empty"
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	id, err := s.svc.Submit(c.Request.Context(), sub)
	if err != nil {
		s.writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, acceptedResponse{ID: id, Status: acceptedStatusMsg})
}

func (s *Server) writeSubmitError(c *gin.Context, err error) {
	var verr *errspkg.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, errspkg.ErrCaptcha):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "captcha is invalid or expired"})
	case errors.Is(err, errspkg.ErrPublishCancelled), errors.Is(err, errspkg.ErrProducerClosed):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "comment queue unavailable, try again"})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// streamComments relays broadcast messages as server-sent events until the
// client goes away.
func (s *Server) streamComments(c *gin.Context) {
	ctx := c.Request.Context()
	messages, err := s.streamSub.Subscribe(ctx, s.streamTopic)
	if err != nil {
		s.log.Error("Stream subscribe failed", err, logging.LogFields{"topic": s.streamTopic})
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "stream unavailable"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		case msg, ok := <-messages:
			if !ok {
				return false
			}
			// string data is written as is; a []byte would be JSON encoded
			c.Render(-1, sse.Event{Id: msg.UUID, Event: commentEventName, Data: string(msg.Payload)})
			msg.Ack()
			return true
		}
	})
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", logging.LogFields{"address": s.cfg.Address})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
