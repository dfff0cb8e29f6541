package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bizzylink/apiserver/config"
	"github.com/bizzylink/apiserver/internal/db"
	"github.com/bizzylink/apiserver/internal/events"
	"github.com/bizzylink/apiserver/internal/handlers"
	"github.com/bizzylink/apiserver/internal/metrics"
	"github.com/bizzylink/apiserver/internal/mq"
	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/internal/storage"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxRequestSize  = 10 << 20
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Server wraps the HTTP server, its router and the background workers bound
// to its lifecycle.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	logger     *zap.Logger

	bridge   *mq.PluginBridge
	notifier *events.Notifier
	auth     *services.AuthService
	linking  *services.LinkingService
	sweep    time.Duration
}

// New opens the database, object storage and broker and wires every service
// and route.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	media, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	backend, err := mq.NewBackend(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	bridge := mq.NewPluginBridge(backend, cfg.MQ, logger.Named("plugin"))
	if !bridge.Enabled() {
		logger.Warn("no message broker configured, plugin events will be dropped")
	}

	userRepo := store.NewUserRepository(dbConn)
	tokenRepo := store.NewTokenRepository(dbConn)
	forumRepo := store.NewForumRepository(dbConn)
	reputationRepo := store.NewReputationRepository(dbConn)
	socialRepo := store.NewSocialRepository(dbConn)
	notificationRepo := store.NewNotificationRepository(dbConn)
	auditRepo := store.NewAuditRepository(dbConn)
	linkRepo := store.NewLinkRepository(dbConn)

	hub := events.NewHub(logger.Named("events"))
	notifier := events.NewNotifier(hub, cfg.Link.RedundantDelay, logger.Named("events"))

	auditor := services.NewAuditor(auditRepo, logger.Named("audit"))
	notificationService := services.NewNotificationService(notificationRepo, userRepo, notifier, logger.Named("notifications"))
	authService := services.NewAuthService(userRepo, tokenRepo, services.AuthConfig{
		RefreshTTL:      cfg.JWT.RefreshTTL,
		MaxFailedLogins: cfg.Security.MaxFailedLogins,
		LockoutDuration: cfg.Security.LockoutDuration,
		RequireInvite:   cfg.Security.RequireInvite,
	}, logger.Named("auth"))
	userService := services.NewUserService(userRepo, reputationRepo, socialRepo, linkRepo, media, cfg.Security.MaxUploadBytes, logger.Named("users"))
	forumService := services.NewForumService(forumRepo, userRepo, notificationService, auditor, logger.Named("forum"))
	reputationService := services.NewReputationService(reputationRepo, userRepo, notificationService, logger.Named("reputation"))
	socialService := services.NewSocialService(socialRepo, userRepo, notificationService, logger.Named("social"))
	linkingService := services.NewLinkingService(linkRepo, userRepo, notificationService, notifier, bridge, auditor, services.LinkConfig{
		CodeTTL:         cfg.Link.CodeTTL,
		CleanupInterval: cfg.Link.CleanupInterval,
	}, logger.Named("linking"))
	adminService := services.NewAdminService(userRepo, linkRepo, tokenRepo, linkingService, bridge, auditor, logger.Named("admin"))
	leaderboardService := services.NewLeaderboardService(linkRepo, logger.Named("leaderboard"))

	authMiddleware := handlers.RequireAuth(cfg.JWT.Secret, userRepo)
	optionalAuth := handlers.OptionalAuth(cfg.JWT.Secret)
	pluginAuth := handlers.RequireAPIKey(cfg.Plugin.APIKey)

	router := chi.NewRouter()
	router.Use(
		middleware.RealIP,
		RequestIDMiddleware,
		LoggerMiddleware(logger.Named("http")),
		RecoveryMiddleware(logger),
		CORSMiddleware(cfg.CORS.AllowedOrigins),
		RequestSizeLimitMiddleware(maxRequestSize),
	)
	router.Get("/healthz", handlers.Healthz(dbConn))
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimit.APIRequests, cfg.RateLimit.Window))

		r.Route("/events", func(r chi.Router) {
			handlers.EventsRouter(r, hub, userService, handlers.RequireStreamAuth(cfg.JWT.Secret, userRepo), logger.Named("sse"))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/auth", func(r chi.Router) {
				handlers.AuthRouter(r, authService, userRepo, cfg.JWT.Secret, cfg.JWT.AccessTTL)
			})
			r.Route("/user", func(r chi.Router) {
				handlers.UserRouter(r, userService, cfg.Security.MaxUploadBytes, authMiddleware)
			})
			r.Route("/users", func(r chi.Router) {
				handlers.PublicProfileRouter(r, userService, optionalAuth)
			})
			r.Route("/media", func(r chi.Router) {
				handlers.MediaRouter(r, userService)
			})
			r.Route("/forum", func(r chi.Router) {
				handlers.ForumRouter(r, forumService, userService, authMiddleware, optionalAuth)
				handlers.ReputationRouter(r, reputationService, authMiddleware)
			})
			r.Route("/friends", func(r chi.Router) {
				handlers.FriendsRouter(r, socialService, authMiddleware)
			})
			r.Route("/following", func(r chi.Router) {
				handlers.FollowingRouter(r, socialService, authMiddleware)
			})
			r.Route("/notifications", func(r chi.Router) {
				handlers.NotificationRouter(r, notificationService, authMiddleware)
			})
			r.Route("/linkcode", func(r chi.Router) {
				handlers.LinkCodeRouter(r, linkingService, authMiddleware, pluginAuth)
			})
			r.Route("/minecraft", func(r chi.Router) {
				handlers.MinecraftRouter(r, linkingService, authMiddleware, pluginAuth)
			})
			r.Route("/leaderboard", func(r chi.Router) {
				handlers.LeaderboardRouter(r, leaderboardService)
			})
			r.Route("/player", func(r chi.Router) {
				handlers.PlayerRouter(r, linkingService, pluginAuth)
			})
			r.Route("/internal", func(r chi.Router) {
				handlers.InternalRouter(r, linkingService, handlers.RequireInternalSecret(cfg.Plugin.InternalSecret))
			})
			r.Route("/admin", func(r chi.Router) {
				r.Use(httprate.LimitByIP(cfg.RateLimit.AdminRequests, cfg.RateLimit.Window))
				handlers.AdminRouter(r, adminService, forumService, userService, authMiddleware)
			})
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	return &Server{
		httpServer: newHTTPServer(fmt.Sprintf(":%d", port), router, hub),
		db:         dbConn,
		logger:     logger,
		bridge:     bridge,
		notifier:   notifier,
		auth:       authService,
		linking:    linkingService,
		sweep:      cfg.Link.CleanupInterval,
	}, nil
}

// newHTTPServer has no WriteTimeout because event streams stay open
// indefinitely. Shutdown closes the hub so those streams return instead of
// holding Shutdown until its deadline.
func newHTTPServer(addr string, handler http.Handler, hub *events.Hub) *http.Server {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	httpServer.RegisterOnShutdown(hub.CloseAll)
	return httpServer
}

// Run serves HTTP and runs the background workers until ctx is cancelled or
// one of them fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down server")
		return s.httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return s.linking.RunSweeper(ctx)
	})
	group.Go(func() error {
		return s.purgeTokens(ctx)
	})
	group.Go(func() error {
		return s.bridge.ConsumeStats(ctx, s.linking.HandleStatsMessage)
	})

	err := group.Wait()
	s.close()
	return err
}

func (s *Server) purgeTokens(ctx context.Context) error {
	interval := s.sweep
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.auth.PurgeExpiredTokens(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("refresh token cleanup failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) close() {
	s.notifier.Close()
	if err := s.bridge.Close(); err != nil {
		s.logger.Warn("failed to close broker", zap.Error(err))
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	s.logger.Info("server exited")
}
