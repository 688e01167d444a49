package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"golang.org/x/time/rate"
)

const ginUserIDKey = "user_id"

// TokenVerifier validates a bearer token and returns its subject
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// ServerConfig configures the proxy server
type ServerConfig struct {
	Addr string

	// StrictScoping rejects statements that are not bound to the
	// authenticated user, see CheckScope
	StrictScoping bool

	// RequestsPerMinute is the per user budget; 0 disables limiting
	RequestsPerMinute int
	BurstLimit        int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP proxy in front of the remote store. It authenticates
// the bearer token, substitutes the token subject for the user placeholder
// and executes the statement through exec.
type Server struct {
	exec     Adapter
	verifier TokenVerifier
	cfg      ServerConfig
	logger   *loggy.Logger
	limiters *userLimiters
	engine   *gin.Engine
}

// NewServer creates the proxy server and its routes
func NewServer(exec Adapter, verifier TokenVerifier, cfg ServerConfig, logger *loggy.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		exec:     exec,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		limiters: newUserLimiters(cfg.RequestsPerMinute, cfg.BurstLimit),
		engine:   gin.New(),
	}

	s.engine.Use(gin.Recovery(), s.requestContext())
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	api.Use(s.authenticate(), s.rateLimit())
	api.POST(strings.TrimPrefix(QueryPath, "/api"), s.handleQuery)

	return s
}

// Handler returns the server's http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Proxy server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down proxy server")
	return srv.Shutdown(shutdownCtx)
}

// requestContext tags each request with an id and a request scoped logger
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = loggy.NewRequestID()
		}
		ctx := loggy.WithLogger(c.Request.Context(), s.logger)
		ctx = loggy.WithRequestID(ctx, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)

		c.Next()

		loggy.FromContext(ctx).Debug("Handled request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abort(c, http.StatusUnauthorized, ReasonUnauthorized, "missing or invalid Authorization header")
			return
		}

		userID, err := s.verifier.Verify(token)
		if err != nil || userID == "" {
			abort(c, http.StatusUnauthorized, ReasonUnauthorized, "invalid token")
			return
		}
		c.Set(ginUserIDKey, userID)
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l := s.limiters.get(c.GetString(ginUserIDKey)); l != nil && !l.Allow() {
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, ReasonRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}

func (s *Server) handleQuery(c *gin.Context) {
	var q Query
	if err := c.ShouldBindJSON(&q); err != nil {
		abort(c, http.StatusBadRequest, ReasonInvalidRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(q.SQL) == "" {
		abort(c, http.StatusBadRequest, ReasonInvalidRequest, "query is required")
		return
	}
	if s.cfg.StrictScoping {
		if err := CheckScope(q); err != nil {
			loggy.FromContext(c.Request.Context()).Warn("Rejected query", "error", err, "query", q.SQL)
			abort(c, http.StatusForbidden, ReasonPermissionDenied, err.(*Error).Message)
			return
		}
	}

	userID := c.GetString(ginUserIDKey)
	rows, err := s.exec.Execute(WithUserID(c.Request.Context(), userID), q)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if rows == nil {
		rows = Rows{}
	}
	c.JSON(http.StatusOK, response{Success: true, Data: rows})
}

func (s *Server) writeError(c *gin.Context, err error) {
	loggy.FromContext(c.Request.Context()).Warn("Query failed", "error", err)

	var terr *Error
	if !errors.As(err, &terr) {
		abort(c, http.StatusInternalServerError, ReasonDatabase, "query failed")
		return
	}

	reason := terr.Reason
	status := http.StatusInternalServerError
	switch reason {
	case ReasonSQLSyntax:
		status = http.StatusBadRequest
	case ReasonPermissionDenied:
		status = http.StatusForbidden
	case ReasonConflict:
		status = http.StatusConflict
	case ReasonUnauthorized:
		status = http.StatusUnauthorized
	default:
		reason = ReasonDatabase
	}

	c.AbortWithStatusJSON(status, response{Error: &wireError{
		Code:    reason,
		Message: terr.Message,
		Details: terr.Details,
	}})
}

func abort(c *gin.Context, status int, reason, message string) {
	c.AbortWithStatusJSON(status, response{Error: &wireError{Code: reason, Message: message}})
}

// userLimiters holds one token bucket per user
type userLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newUserLimiters(rpm, burst int) *userLimiters {
	if rpm <= 0 {
		return &userLimiters{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
	}
}

// get returns nil when limiting is disabled
func (l *userLimiters) get(userID string) *rate.Limiter {
	if l.limiters == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	return lim
}
