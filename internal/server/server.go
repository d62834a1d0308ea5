package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/internal/api"
	"github.com/a-essam23/go-relay/internal/router"
	"github.com/a-essam23/go-relay/internal/server/middleware"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/a-essam23/go-relay/pkg/transport"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errCycled   = errors.New("connection cycled by new connection")
	errShutdown = errors.New("graceful shutdown")
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Files is a directory of uploads served read-only below PublicPath.
type Files interface {
	Dir() string
	PublicPath() string
}

// Deps are the components the HTTP surface is built on.
type Deps struct {
	StateManager state.Manager
	Router       *router.EventRouter
	API          *api.Handler
	Store        Pinger
	Gatherer     prometheus.Gatherer
	Uploads      Files
}

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	store        Pinger
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config
	acceptOpts   *websocket.AcceptOptions

	ctx context.Context
}

func NewApp(rootCtx context.Context, logger *slog.Logger, cfg *config.Config, deps Deps) *App {
	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: deps.StateManager,
		eventRouter:  deps.Router,
		store:        deps.Store,
		config:       cfg,
		acceptOpts:   acceptOptions(cfg.Server.AllowedOrigins),
		ctx:          rootCtx,
	}

	connCounter := middleware.UserConnectionCounter(app.stateManager.UserConnectionCount)
	// closes the subject's oldest socket to make room for the new one
	connCycler := func(userID string) {
		oldest, found := app.stateManager.FindOldestUserConnection(userID)
		if found {
			app.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errCycled)
		}
	}

	wsHandler := middleware.Chain(http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(app.logger),
		middleware.NewAuthMiddleware(app.logger, cfg.Server.Auth.JWTSecret),
		middleware.NewConnectionLimiter(app.logger, connCounter, connCycler, cfg.Server.ConnectionLimit),
	)

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.CorrelationID(), middleware.Tracing(), middleware.CORS(cfg.Server.AllowedOrigins))
	engine.GET("/health", app.health)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	if deps.Uploads != nil {
		engine.Static(deps.Uploads.PublicPath(), deps.Uploads.Dir())
	}
	engine.GET("/ws", gin.WrapH(wsHandler))
	if deps.API != nil {
		deps.API.Register(engine)
	}

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

// acceptOptions turns configured origins into websocket host patterns.
func acceptOptions(origins []string) *websocket.AcceptOptions {
	if slices.Contains(origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

// Handler exposes the root handler for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		return err
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

func (a *App) health(c *gin.Context) {
	if a.store != nil {
		if err := a.store.Ping(c.Request.Context()); err != nil {
			a.logger.Error("Health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": a.stateManager.ConnectionCount(),
	})
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, a.acceptOpts)
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.eventRouter.HandleDisconnect(id)
	})
	if _, err := a.stateManager.RegisterConnection(conn, reqMeta.IP, reqMeta.UserID); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	conns := a.stateManager.AllConnections()
	a.logger.Info("Closing all active connections...", slog.Int("count", len(conns)))
	for _, conn := range conns {
		conn.Transport.Close(errShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
