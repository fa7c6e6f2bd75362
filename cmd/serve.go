package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prism-kanban/api"
	"prism-kanban/config"
	"prism-kanban/directory"
	"prism-kanban/feed"
	"prism-kanban/kanban"
	"prism-kanban/storage"
)

const (
	storagePartition = "kanban"
	shutdownTimeout  = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kanban HTTP service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	serveCmd.Flags().String("backend", "", "storage backend: memory, redis or tables")
	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("storage_backend", serveCmd.Flags().Lookup("backend"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("kanban service listening")
		errCh <- a.echo.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.echo.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

type app struct {
	echo       *echo.Echo
	store      *kanban.Store
	dispatcher *feed.Dispatcher
	redis      *redis.Client
	logger     *log.Logger
}

// newApp wires storage, the kanban store, the board directory, the change
// feed and the HTTP routes from cfg.
func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a := &app{logger: logger}
	if cfg.RedisConnectionString != "" {
		a.redis = redis.NewClient(storage.RedisOptions(cfg.RedisConnectionString))
	}

	backend, err := a.backend(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	cipher, err := storage.NewCipher(cfg.BoardSecretKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("board cipher: %w", err)
	}
	a.store = kanban.New(
		storage.NewAdapter(backend, storage.WithLogger(logger)),
		kanban.WithLogger(logger),
		kanban.WithStorageKey(cfg.KanbanStorageKey),
	)
	a.store.Load(ctx)
	dir := directory.New(
		storage.NewAdapter(backend, storage.WithLogger(logger), storage.WithCodec(cipher)),
		directory.WithLogger(logger),
		directory.WithStorageKey(cfg.BoardsStorageKey),
	)

	sinks, err := a.sinks(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	if len(sinks) > 0 {
		a.dispatcher = feed.NewDispatcher(feed.Config{
			Workers:        cfg.FeedWorkers,
			Buffer:         cfg.FeedBuffer,
			HandoffTimeout: cfg.FeedHandoffTimeout,
			SendTimeout:    feed.DefaultConfig().SendTimeout,
		}, logger, sinks...)
		a.dispatcher.Attach(a.store)
	}

	auth, err := newAuth(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("kanban"))
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, a.store, dir, auth, logger)
	a.echo = e
	return a, nil
}

func (a *app) backend(cfg config.Config) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		return storage.NewRedisBackend(a.redis, storagePartition), nil
	case config.BackendTables:
		b, err := storage.NewTableBackend(cfg.StorageConnectionString, cfg.KanbanTable, storagePartition)
		if err != nil {
			return nil, fmt.Errorf("table storage: %w", err)
		}
		return b, nil
	default:
		return storage.NewMemoryBackend(), nil
	}
}

func (a *app) sinks(cfg config.Config) ([]feed.Sink, error) {
	var sinks []feed.Sink
	if a.redis != nil && cfg.ChangesChannel != "" {
		sinks = append(sinks, feed.NewRedisSink(a.redis, cfg.ChangesChannel))
	}
	if cfg.ChangesQueue != "" {
		q, err := feed.NewQueueSink(cfg.StorageConnectionString, cfg.ChangesQueue)
		if err != nil {
			return nil, fmt.Errorf("changes queue: %w", err)
		}
		sinks = append(sinks, q)
	}
	return sinks, nil
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("closing redis client")
		}
	}
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	opts := api.AuthOptions{
		LocalMode:   cfg.LocalAuthMode,
		LocalSecret: cfg.LocalAuthSharedSecret,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.LocalAuthMode != "" {
		return api.NewAuth(nil, cfg.Auth0Audience, cfg.Issuer(), opts)
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, cfg.Issuer(), opts)
}
