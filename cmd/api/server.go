package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/auth"
	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/PaulBabatuyi/marketChat/internal/fanout"
	"github.com/PaulBabatuyi/marketChat/internal/messaging"
	"github.com/PaulBabatuyi/marketChat/internal/middleware"
	"github.com/PaulBabatuyi/marketChat/internal/presence"
	"github.com/PaulBabatuyi/marketChat/internal/registry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Server holds the HTTP and socket handlers and everything they share.
type Server struct {
	users    data.UserStore
	svc      *messaging.Service
	reg      *registry.Registry
	auth     *auth.JWTManager
	authRate *middleware.LimiterStore
	sendRate *middleware.LimiterStore
	validate *validator.Validate
	upgrader websocket.Upgrader
	origins  []string
	egress   int
	log      *slog.Logger
}

type serverOptions struct {
	Users    data.UserStore
	Messages data.MessageStore
	Auth     *auth.JWTManager
	AuthRate *middleware.LimiterStore
	SendRate *middleware.LimiterStore
	Origins  []string
	Egress   int
	Log      *slog.Logger
}

// newServer wires the registry, fan-out and messaging service around the
// given stores.
func newServer(opts serverOptions) *Server {
	reg := registry.New(opts.Log)
	svc := messaging.NewService(
		opts.Messages,
		fanout.NewNotifier(reg, opts.Log),
		presence.NewTracker(reg),
		opts.Log,
	)
	s := &Server{
		users:    opts.Users,
		svc:      svc,
		reg:      reg,
		auth:     opts.Auth,
		authRate: opts.AuthRate,
		sendRate: opts.SendRate,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		origins:  opts.Origins,
		egress:   lo.Ternary(opts.Egress > 0, opts.Egress, 64),
		log:      opts.Log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browsers from the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return lo.Contains(s.origins, origin)
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	if len(s.origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     s.origins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", s.healthz)
	router.GET("/ws", s.serveWS)

	api := router.Group("/api")
	authRoutes := api.Group("/auth", middleware.RateLimitHandler(s.authRate, middleware.EmailKey))
	authRoutes.POST("/register", s.register)
	authRoutes.POST("/login", s.login)

	protected := api.Group("", s.requireAuth())
	protected.GET("/messages", s.history)
	protected.GET("/conversations", s.conversations)
	protected.POST("/conversations/read", s.markRead)
	protected.GET("/users/:id/presence", s.presence)

	return router
}
