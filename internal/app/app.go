package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/authcare/internal/auth"
	"github.com/hitoshi/authcare/internal/config"
	"github.com/hitoshi/authcare/internal/database"
	"github.com/hitoshi/authcare/internal/handler"
	"github.com/hitoshi/authcare/internal/linking"
	"github.com/hitoshi/authcare/internal/logger"
	"github.com/hitoshi/authcare/internal/metrics"
	"github.com/hitoshi/authcare/internal/oidc"
	"github.com/hitoshi/authcare/internal/password"
	"github.com/hitoshi/authcare/internal/repository"
	"github.com/hitoshi/authcare/internal/session"
	"github.com/hitoshi/authcare/internal/token"
	"github.com/hitoshi/authcare/internal/user"
	"github.com/hitoshi/authcare/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	defaultPort      = "8403"
	shutdownTimeout  = 30 * time.Second
	providerTimeout  = 10 * time.Second
	discoveryTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Any("config", cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		action, err := parseMigrateAction(inv.Args)
		if err != nil {
			return err
		}
		return runMigrate(cfg, action)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// api はserveモードの依存関係一式。
type api struct {
	handler  http.Handler
	registry *oidc.Registry
}

// newAPI は設定とDB接続から全依存関係をワイヤリングし、HTTPハンドラーを返す。
// ネットワークアクセスは行わない。
func newAPI(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*api, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	tokenRepo := repository.NewPostgresRefreshTokenRepo(db)

	// 2. 資格情報まわりの初期化
	codec, err := token.NewCodec(token.CodecConfig{
		Secret:   []byte(cfg.JWTSecret),
		TTL:      cfg.JWTExpiry,
		Audience: token.DefaultAudience,
		Issuer:   token.DefaultIssuer,
		Strict:   cfg.JWTStrictClaims,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	pool := password.NewPool(cfg.PasswordWorkers, password.WithObserver(collector))
	registry, err := oidc.NewRegistry(cfg.ProviderConfigs(),
		oidc.WithHTTPClient(&http.Client{Timeout: providerTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure identity providers: %w", err)
	}

	// 3. ドメインサービスの初期化
	sessionService := session.NewService(userRepo, sessionRepo, tokenRepo, codec,
		session.WithObserver(collector),
	)
	authService := auth.NewService(userRepo, pool)
	resolver := linking.NewResolver(identRepo, userRepo)
	userService := user.NewService(userRepo, identRepo, sessionRepo, pool, resolver,
		user.WithObserver(collector),
	)

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,

		Authenticator:    authService,
		SessionService:   sessionService,
		IdentityVerifier: handler.NewRegistryAdapter(registry),
		GrantObserver:    collector,

		UserService: userService,

		DB:             db,
		MetricsHandler: metrics.Handler(reg),
	})

	return &api{handler: router, registry: registry}, nil
}

// newMetricsRegistry はGo runtimeとプロセスのメトリクスを含むレジストリを返す。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// warmUpProviders は有効なプロバイダのディスカバリを事前に行う。
// 失敗しても起動は止めず、初回のIDトークン検証時に再試行される。
func warmUpProviders(ctx context.Context, registry *oidc.Registry) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	for _, p := range registry.Enabled() {
		if _, err := registry.Verifier(ctx, p); err != nil {
			slog.Warn("identity provider discovery failed",
				slog.String("provider", p.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		slog.Info("identity provider ready", slog.String("provider", p.String()))
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := newAPI(cfg, db, newMetricsRegistry())
	if err != nil {
		return err
	}
	go warmUpProviders(ctx, a.registry)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, server, "API server")
}

// serve はctxがキャンセルされるまでHTTPサーバーを実行し、その後グレースフルに停止する。
func serve(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを定期実行する。メトリクスはSERVER_PORTで公開する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newMetricsRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewJob(db, slog.Default(), collector)
	job.RefreshTokenRetention = cfg.RefreshTokenRetention
	job.SessionIdleTTL = cfg.SessionIdleTTL

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("refresh_token_retention", cfg.RefreshTokenRetention),
		slog.Duration("session_idle_ttl", cfg.SessionIdleTTL),
	)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- serve(ctx, server, "worker metrics server") }()

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	if err := <-serveErr; err != nil {
		slog.Error("worker metrics server failed", slog.String("error", err.Error()))
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upはすべての未適用マイグレーションを順番に適用し、versionは現在のバージョンを出力する。
func runMigrate(cfg *config.Config, action migrateAction) error {
	dbURL := slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL))

	if action == migrateVersion {
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version", dbURL,
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	}

	slog.Info("running database migrations", dbURL)
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
