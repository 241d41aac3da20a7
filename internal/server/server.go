package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rtchat/authserver/config"
	"github.com/rtchat/authserver/internal/db"
	"github.com/rtchat/authserver/internal/handlers"
	"github.com/rtchat/authserver/internal/hasher"
	"github.com/rtchat/authserver/internal/logging"
	"github.com/rtchat/authserver/internal/mq"
	"github.com/rtchat/authserver/internal/notify"
	"github.com/rtchat/authserver/internal/services"
	"github.com/rtchat/authserver/internal/session"
	"github.com/rtchat/authserver/internal/store"
	"github.com/rtchat/authserver/internal/tokens"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      mq.Backend
	log        logging.Logger
}

// New wires the account service and its collaborators from cfg.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Discard()
	}

	signer, err := session.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	queue, err := mq.Open(ctx, cfg.MQ, log)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open message queue: %w", err)
	}

	accountService := services.NewAccountService(
		store.NewAccountRepository(dbConn),
		hasher.NewBcrypt(cfg.Auth.BcryptCost),
		tokens.NewMinter(),
		signer,
		notify.NewQueueNotifier(queue, cfg.MQ.Channel),
		log.With("component", "accounts"),
	)

	if count, err := accountService.CountAccounts(ctx); err == nil && count == 0 {
		log.Info(ctx, "no accounts yet, the first registration becomes admin")
	}

	authMiddleware := handlers.RequireAuth(accountService)
	httpLog := log.With("component", "http")

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, accountService, httpLog)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, accountService, authMiddleware, httpLog)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		queue:      queue,
		log:        log,
	}, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeResources()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests and releases the database and queue.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
