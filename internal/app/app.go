package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/admission"
	"github.com/Ruzakiff/crazygpt/internal/apperr"
	"github.com/Ruzakiff/crazygpt/internal/batch"
	"github.com/Ruzakiff/crazygpt/internal/broker"
	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/config"
	"github.com/Ruzakiff/crazygpt/internal/db"
	internalhttp "github.com/Ruzakiff/crazygpt/internal/http"
	"github.com/Ruzakiff/crazygpt/internal/http/api/front"
	"github.com/Ruzakiff/crazygpt/internal/ledger"
	"github.com/Ruzakiff/crazygpt/internal/logging"
	"github.com/Ruzakiff/crazygpt/internal/metrics"
	"github.com/Ruzakiff/crazygpt/internal/provider"
	"github.com/Ruzakiff/crazygpt/internal/provider/mock"
	"github.com/Ruzakiff/crazygpt/internal/reconcile"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	"github.com/Ruzakiff/crazygpt/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	shutdownTimeout        = 15 * time.Second
	admissionJanitorPeriod = 5 * time.Minute
	settingsRefreshPeriod  = 30 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the broker API and its background workers, and blocks until
// ctx is done and shutdown has completed.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(appCfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		return fmt.Errorf("load settings: %w", errRefresh)
	}
	internalsettings.StartRefresher(ctx, conn, settingsRefreshPeriod)

	var rdb *redis.Client
	if appCfg.Redis.Enabled {
		rdb, err = openRedis(ctx, appCfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	prov, err := buildProvider(appCfg.Provider)
	if err != nil {
		return err
	}

	sys := clock.System{}
	admissionStore := buildAdmissionStore(ctx, appCfg.Redis, rdb)
	l := ledger.New(conn, sys)

	// The telemetry consumer outlives ctx so Close can drain it after the server stops.
	var recorder *telemetry.Logger
	if !appCfg.Telemetry.Disabled {
		recorder = telemetry.NewLogger(buildSink(conn, appCfg.Redis, rdb), telemetry.WithWriteTimeout(appCfg.Telemetry.WriteTimeout))
		recorder.Start(context.WithoutCancel(ctx))
		telemetry.NewRetentionCleaner(conn, sys).Start(ctx)
	}

	opts := []batch.Option{
		batch.WithClock(sys),
		batch.WithEndpoint(appCfg.Provider.Endpoint, appCfg.Provider.CompletionWindow),
	}
	if recorder != nil {
		opts = append(opts, batch.WithRecorder(recorder))
	}
	service := batch.NewService(conn, l, admission.NewController(admissionStore, sys), prov, opts...)

	if !appCfg.Reconcile.Disabled {
		reconcile.NewScheduler(service).Start(ctx)
	}

	engine := NewEngine(conn, broker.New(l, service))
	server := &http.Server{
		Addr:              appCfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting batch broker on %s with config=%s", appCfg.Listen, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case errServe, ok := <-serveErr:
		if ok && errServe != nil {
			return errServe
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http server shutdown")
	}
	if recorder != nil {
		if errClose := recorder.Close(shutdownCtx); errClose != nil {
			log.WithError(errClose).Warn("telemetry drain incomplete")
		}
	}
	log.Info("batch broker stopped")
	return nil
}

// NewEngine builds the gin engine with logging, metrics and the broker routes.
func NewEngine(conn *gorm.DB, b *broker.Broker) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.RequestIDMiddleware(), logging.AccessLogMiddleware())
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	front.RegisterFrontRoutes(engine, conn, b)
	engine.NoRoute(func(c *gin.Context) {
		if isAPIRoute(c.Request.URL.Path) {
			internalhttp.AbortWithError(c, apperr.New(apperr.KindNotFound, "no route for "+c.Request.URL.Path, nil))
			return
		}
		c.Status(http.StatusNotFound)
	})
	return engine
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if errPing := rdb.Ping(pingCtx).Err(); errPing != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, errPing)
	}
	return rdb, nil
}

func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	switch cfg.Kind {
	case "mock":
		log.Warn("using the in-memory mock provider; batches never leave this process")
		return mock.New(clock.System{}), nil
	case "http":
		client, err := provider.NewHTTPClient(provider.HTTPConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			RequestTimeout:    cfg.RequestTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, nil)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func buildAdmissionStore(ctx context.Context, cfg config.RedisConfig, rdb *redis.Client) admission.Store {
	if rdb != nil {
		return admission.NewRedisStore(rdb, admission.WithKeyPrefix(redisKey(cfg.Prefix, "admission")))
	}
	store := admission.NewMemoryStore()
	store.StartJanitor(ctx, admissionJanitorPeriod)
	return store
}

func buildSink(conn *gorm.DB, cfg config.RedisConfig, rdb *redis.Client) telemetry.Sink {
	primary := telemetry.NewGormSink(conn)
	if rdb == nil {
		return primary
	}
	return telemetry.NewMultiSink(primary, telemetry.NewRedisSink(rdb, telemetry.WithRedisPrefix(redisKey(cfg.Prefix, "telemetry"))))
}

func redisKey(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return "broker:" + name
	}
	return prefix + ":" + name
}

// isAPIRoute reports whether a path targets API endpoints.
func isAPIRoute(requestPath string) bool {
	if requestPath == "/healthz" || strings.HasPrefix(requestPath, "/healthz/") {
		return true
	}
	apiPrefixes := []string{"/v1"}
	for _, prefix := range apiPrefixes {
		if requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/") {
			return true
		}
	}
	return false
}
