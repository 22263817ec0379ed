package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"orgauth.dev/internal/auth"
	"orgauth.dev/internal/config"
	"orgauth.dev/internal/httpapi"
	"orgauth.dev/internal/obs"
	"orgauth.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so fall back to defaults here.
		obs.Logger().Fatal("load config", zap.Error(err))
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		obs.Logger().Fatal("build logger", zap.Error(err))
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("orgauth-api stopped", zap.Error(err))
	}
	logger.Info("stopped")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	codec, err := auth.NewTokenCodec(cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithTTL(cfg.AccessTokenTTL),
	)
	if err != nil {
		return err
	}
	hasher := auth.BcryptHasher(cfg.BcryptCost)

	store, ready, closeStore, err := openStore(cfg, hasher, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	revoked, closeRevoked, err := openRevocation(ctx, cfg, codec, logger)
	if err != nil {
		return err
	}
	defer closeRevoked()

	svc, err := auth.NewService(store, codec, revoked,
		auth.WithHasher(hasher),
		auth.WithInviteTTL(cfg.InviteTTL),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = svc.EnsureSystemRoles(bootCtx)
	cancel()
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Config{
		Service:        svc,
		Authenticator:  auth.NewAuthenticator(codec, revoked),
		Guard:          auth.NewGuard(store, logger),
		Ready:          ready,
		Version:        version,
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(ready, logger)
	health.Register(grpcSrv)
	go health.Run(ctx, 5*time.Second)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	grpcSrv.GracefulStop()
	return srv.Shutdown(shutdownCtx)
}

// openStore connects to Postgres when a DSN is configured and falls back to
// the in-memory store otherwise.
func openStore(cfg config.Config, hasher auth.Hasher, logger *zap.Logger) (auth.Store, httpapi.ReadyProbe, func(), error) {
	if cfg.PGDSN != "" {
		db, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		logger.Info("using postgres store")
		return db, httpapi.ReadyProbe{Ping: db.Ping}, func() { _ = db.Close() }, nil
	}

	mem := auth.NewMemoryStore()
	if cfg.DevOperatorEmail != "" {
		digest, err := hasher.Hash(cfg.DevOperatorPassword)
		if err != nil {
			return nil, httpapi.ReadyProbe{}, nil, err
		}
		op := mem.SeedOperator(auth.Operator{Email: cfg.DevOperatorEmail, PasswordDigest: digest, DisplayName: "Dev operator"})
		logger.Info("seeded dev operator", zap.String("operator_id", op.ID), zap.String("email", op.Email))
	}
	logger.Warn("ORGAUTH_PG_DSN not set, using in-memory store")
	return mem, httpapi.ReadyProbe{}, func() {}, nil
}

// openRevocation picks the shared Redis set when configured. The in-memory
// set only covers a single replica.
func openRevocation(ctx context.Context, cfg config.Config, codec *auth.TokenCodec, logger *zap.Logger) (auth.RevocationStore, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info("using redis revocation store", zap.String("addr", cfg.RedisAddr))
		return auth.NewRedisRevocationStore(client, codec), func() { _ = client.Close() }, nil
	}

	mem := auth.NewMemoryRevocationStore(codec, auth.WithPruneInterval(cfg.PruneInterval))
	if err := obs.RegisterRevokedTokensGauge(mem.Size); err != nil {
		logger.Warn("register revoked tokens gauge", zap.Error(err))
	}
	go mem.Run(ctx, cfg.PruneInterval)
	return mem, func() {}, nil
}
