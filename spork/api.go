package spork

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiPrefix            = "/api"
	apiPathHealthCheck   = apiPrefix + "/healthz"
	apiPathExtensions    = apiPrefix + "/extensions"
	apiPathCommands      = apiPrefix + "/commands"
	apiPathCommandLog    = apiPrefix + "/commands/log"
	apiPathCommandUsage  = apiPrefix + "/commands/usage"
	defaultCommandLogMax = 50
	maxCommandLogLimit   = 500
	pprofPrefix          = "/debug"
)

// API is a read-only HTTP view of the bot: health, loaded extensions,
// registered commands, and the command log.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	// requestMetrics counts requests per method and path
	requestMetrics   map[string]int
	requestMetricsMu sync.Mutex

	handlers *APIHandlers
}

// newAPI sets up the gin engine, middleware and routes. Nothing listens
// until Serve is called.
func newAPI(s *Spork, config *APIConfig) (*API, error) {
	if config.LogLevel == nil {
		return nil, errors.New("api log level required")
	}
	if !config.Enabled || s.config.Testing {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	api := &API{
		config:         config,
		engine:         r,
		requestMetrics: map[string]int{},
		logger:         slog.New(s.logSink.handler(config.LogLevel)).With(loggerNameKey, "api"),
		handlers:       &APIHandlers{s: s},
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(api),
		cors.New(config.CORS.GINConfig()),
	)

	h := api.handlers
	r.GET(apiPathHealthCheck, h.healthCheck)
	r.GET(apiPathExtensions, h.getExtensions)
	r.GET(apiPathCommands, h.getCommands)
	r.GET(apiPathCommandLog, h.getCommandLog)
	r.GET(apiPathCommandUsage, h.getCommandUsage)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}
	r.NoRoute(
		func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "not found"})
		},
	)

	return api, nil
}

// Serve listens on the configured address until ctx is done, then shuts
// the server down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.WriteTimeout)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	return a.httpServer.Serve(a.listener)
}

// Shutdown gracefully stops the server. It's safe to call more than once.
func (a *API) Shutdown(ctx context.Context) error {
	err := a.httpServer.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler exposes the router, for tests
func (a *API) Handler() http.Handler {
	return a.engine
}

// RequestMetrics returns a copy of the per-route request counts
func (a *API) RequestMetrics() map[string]int {
	a.requestMetricsMu.Lock()
	defer a.requestMetricsMu.Unlock()
	m := make(map[string]int, len(a.requestMetrics))
	for k, v := range a.requestMetrics {
		m[k] = v
	}
	return m
}

type APIHandlers struct {
	s *Spork
}

type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool    `json:"discord_gateway_connected"`
	Latency                 string  `json:"latency"`
	Uptime                  string  `json:"uptime"`
	Extensions              int     `json:"extensions"`
	Commands                int     `json:"commands"`
	MessagesHandled         int64   `json:"messages_handled"`
	Connects                int64   `json:"connects"`
	Disconnects             int64   `json:"disconnects"`
	Version                 string  `json:"version"`
	UptimeSeconds           float64 `json:"uptime_seconds"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	s := h.s
	uptime := s.Uptime()
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordGatewayConnected: s.Connected(),
			Latency:                 s.session.HeartbeatLatency().String(),
			Uptime:                  uptime.Round(time.Second).String(),
			UptimeSeconds:           uptime.Seconds(),
			Extensions:              len(s.Extensions()),
			Commands:                len(s.Commands()),
			MessagesHandled:         s.messagesHandled.Load(),
			Connects:                s.metricConnects.Load(),
			Disconnects:             s.metricDisconnects.Load(),
			Version:                 Version,
		},
	)
}

type extensionStatus struct {
	Extension string `json:"extension"`
	Loaded    bool   `json:"loaded"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

// getExtensions reports the startup load result of each extension, and
// whether it's loaded now
func (h *APIHandlers) getExtensions(c *gin.Context) {
	loaded := map[string]bool{}
	for _, name := range h.s.Extensions() {
		loaded[name] = true
	}

	results := h.s.LoadResults()
	statuses := make([]extensionStatus, 0, len(results)+len(loaded))
	seen := map[string]bool{}
	for _, r := range results {
		seen[r.Extension] = true
		st := extensionStatus{
			Extension: r.Extension,
			Loaded:    loaded[r.Extension],
			Success:   r.Success,
			Duration:  r.Duration.String(),
		}
		if r.Err != nil {
			st.Error = r.Err.Error()
		}
		statuses = append(statuses, st)
	}
	// loaded after startup
	for _, name := range h.s.Extensions() {
		if !seen[name] {
			statuses = append(statuses, extensionStatus{Extension: name, Loaded: true, Success: true})
		}
	}
	c.JSON(http.StatusOK, statuses)
}

type commandInfo struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description"`
	Extension   string   `json:"extension"`
	Slash       bool     `json:"slash"`
	Cooldown    string   `json:"cooldown,omitempty"`
}

func (h *APIHandlers) getCommands(c *gin.Context) {
	cmds := h.s.Commands()
	infos := make([]commandInfo, 0, len(cmds))
	for _, cmd := range cmds {
		if cmd.Hidden {
			continue
		}
		info := commandInfo{
			Name:        cmd.Name,
			Aliases:     cmd.Aliases,
			Description: cmd.Description,
			Extension:   cmd.extension,
			Slash:       cmd.Slash,
		}
		if cmd.Cooldown != nil {
			info.Cooldown = cmd.Cooldown.String()
		}
		infos = append(infos, info)
	}
	c.JSON(http.StatusOK, infos)
}

// getCommandLog returns the most recent command invocations. The
// 'limit' query parameter defaults to 50.
func (h *APIHandlers) getCommandLog(c *gin.Context) {
	limit := defaultCommandLogMax
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxCommandLogLimit {
			c.AbortWithStatusJSON(
				http.StatusBadRequest,
				httpError{Error: fmt.Sprintf("limit must be between 1 and %d", maxCommandLogLimit)},
			)
			return
		}
		limit = n
	}
	logs, err := h.s.RecentCommandLogs(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error fetching command log")
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *APIHandlers) getCommandUsage(c *gin.Context) {
	usage, err := h.s.CommandUsageCounts(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		ginReplyError(c, "error fetching command usage")
		return
	}
	c.JSON(http.StatusOK, usage)
}

// requestIDMiddleware assigns a random ID to each request, and returns
// it in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		id := hex.EncodeToString(b)
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request's logger, creating one with the
// request details the first time it's called
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.requestMetricsMu.Lock()
		a.requestMetrics[fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())]++
		a.requestMetricsMu.Unlock()
		c.Next()
	}
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
