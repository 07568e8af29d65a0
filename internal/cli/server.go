package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coop-quiz-service/internal/app"
	"coop-quiz-service/internal/config"
	"coop-quiz-service/internal/infra/memory"
	"coop-quiz-service/internal/infra/postgres"
	redisstore "coop-quiz-service/internal/infra/redis"
	transport "coop-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, log, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader app.CourseLoader
	if pool != nil {
		loader = postgres.NewCourseLoader(pool)
	} else {
		courses, err := config.LoadSeed(cfg.Quiz.SeedFile)
		if err != nil {
			return fmt.Errorf("load question bank: %w", err)
		}
		loader = memory.NewStaticCourseLoader(courses...)
		log.Info("question bank loaded from seed file",
			zap.String("file", cfg.Quiz.SeedFile),
			zap.Int("courses", len(courses)),
		)
	}

	courseTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var cached app.CourseLoader
	if redisClient != nil {
		cached = redisstore.NewCourseCache(redisClient, loader, courseTTL, log)
	} else {
		cached = memory.NewCourseCache(loader, courseTTL)
	}

	var store app.SessionStore
	switch {
	case pool != nil:
		store = postgres.NewSessionStore(pool)
		log.Info("sessions stored in postgres")
	case redisClient != nil:
		store = redisstore.NewSessionStore(redisClient, sessionTTL)
		log.Info("sessions stored in redis", zap.Duration("ttl", sessionTTL))
	default:
		store = memory.NewSessionStore()
		log.Warn("sessions stored in process memory; state is lost on restart")
	}

	service := app.NewGameService(store, app.NewQuestionBank(cached, log), app.Options{
		QuestionsPerGame: cfg.Quiz.QuestionsPerGame,
		CorrectBonus:     cfg.Quiz.CorrectBonus,
		Logger:           log,
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn("no jwt secret configured; trusting X-User-ID headers")
	}
	router := transport.NewRouter(transport.NewGameHandler(service, log), transport.RouterConfig{
		Identity:    transport.NewIdentity(cfg.Auth.JWTSecret),
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Info("starting quiz service",
		zap.String("addr", server.Addr),
		zap.Int("questions_per_game", service.QuestionsPerGame()),
	)
	return serve(ctx, server, log)
}

// serve runs server until a signal arrives, ctx is done or the listener
// fails. A listener failure is returned instead of waiting for a signal.
func serve(ctx context.Context, server *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		log.Error("failed to start server", zap.Error(err))
		return fmt.Errorf("serve %s: %w", server.Addr, err)
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
