package ws

import (
	"chat-sync/auth"
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/runtime"
	"chat-sync/session"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

const localUserID = "ws_user_id"

type Config struct {
	Addr             string
	BufferSize       int
	HistoryLimit     int
	MaxContentLength int
	RateLimitPerSec  float64
	RateBurst        int
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	// PresenceRefresh is the minimum delay between two presence touches of
	// one connection. Keep it below the presence TTL.
	PresenceRefresh time.Duration
}

// Validator checks decoded payloads.
type Validator interface {
	Struct(s any) error
}

// CommandHandler is implemented by runtime.Handler.
type CommandHandler interface {
	Handle(ctx context.Context, conn *session.Connection, cmd domain.Command) (runtime.Effect, error)
}

// Deps groups the collaborators of the transport.
type Deps struct {
	Handler    CommandHandler
	Resolver   contract.IdentityResolver
	Membership contract.MembershipAuthority
	Store      contract.PersistenceGateway
	Directory  contract.Directory
	Presence   contract.PresenceTracker
	Metrics    contract.Metrics
	Exporter   http.Handler
	Validator  Validator
	Log        *slog.Logger
}

// Server exposes the event protocol over websocket plus a few REST reads.
// It is a supervised worker.
type Server struct {
	app  *fiber.App
	cfg  Config
	deps Deps
	log  *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.RateLimitPerSec <= 0 {
		c.RateLimitPerSec = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimitPerSec)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PresenceRefresh <= 0 {
		c.PresenceRefresh = 10 * time.Second
	}
	return c
}

func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg.withDefaults(),
		deps: deps,
		log:  deps.Log,
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.deps.Exporter != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Exporter))
	}

	// The identity is resolved once, before the upgrade. An anonymous
	// connection is still accepted; every command it sends is rejected.
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		userID, _ := s.deps.Resolver.Resolve(c.UserContext(), contract.Handshake{
			Token:      auth.TokenFromRequest(c),
			RemoteAddr: c.IP(),
		})
		c.Locals(localUserID, userID)
		return c.Next()
	})
	s.app.Get("/ws", websocket.New(s.serveConn, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))

	api := s.app.Group("/api", auth.Interceptor(s.deps.Resolver))
	api.Get("/rooms/:kind/:id/messages", s.listMessages)
	api.Get("/threads", s.listThreads)
	api.Post("/threads", s.openThread)
	api.Get("/presence/:userId", s.presence)
}

// App is exposed for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run listens until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.log.Warn("Shutdown incomplete", "error", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
