// Package app はコマンドごとの依存関係の組み立てとプロセスのライフサイクルを管理する。
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/courtside/internal/auth"
	"github.com/hitoshi/courtside/internal/config"
	"github.com/hitoshi/courtside/internal/database"
	"github.com/hitoshi/courtside/internal/handler"
	"github.com/hitoshi/courtside/internal/logger"
	"github.com/hitoshi/courtside/internal/metrics"
	"github.com/hitoshi/courtside/internal/middleware"
	"github.com/hitoshi/courtside/internal/repository"
	"github.com/hitoshi/courtside/internal/security"
	"github.com/hitoshi/courtside/internal/team"
	"github.com/hitoshi/courtside/internal/telemetry"
	"github.com/hitoshi/courtside/internal/user"
	"github.com/hitoshi/courtside/internal/worker/cleanup"
)

// ServiceName はトレースのリソース属性に使うサービス名。
const ServiceName = "courtside"

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Server はserveコマンドで組み立てたHTTPハンドラーと後始末をまとめたもの。
type Server struct {
	Handler     http.Handler
	AuthService *auth.Service

	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンドのgoroutineを停止する。
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// NewServer はDB接続から全依存関係をワイヤリングしてServerを生成する。
// DBへの接続確認は行わない。
func NewServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) *Server {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	teamRepo := repository.NewPostgresTeamRepo(db)

	// 2. 横断的なコンポーネント
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewTextSanitizer()

	// 3. ドメインサービスの初期化
	var oauthProvider auth.OAuthProvider
	googleCfg := auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}
	if googleCfg.Enabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(googleCfg)
	}
	authService := auth.NewService(
		oauthProvider,
		auth.NewBcryptHasher(cfg.BcryptCost),
		userRepo, identRepo, roleRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge:       cfg.SessionMaxAge,
			DefaultRoleName:     cfg.DefaultRoleName,
			SelfAssignableRoles: cfg.SelfRegisterRoles,
		},
		auth.WithMetrics(collector),
		auth.WithSanitizer(sanitizer),
	)
	userService := user.NewService(userRepo, roleRepo, sessionRepo, sanitizer)
	teamService := team.NewService(teamRepo, sanitizer)

	// 4. ミドルウェア依存
	generalRate, generalBurst := middleware.PerMinute(cfg.RateLimitGeneral)
	authRate, authBurst := middleware.PerMinute(cfg.RateLimitAuth)
	loginRate, loginBurst := middleware.PerMinute(cfg.RateLimitLogin)
	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.GeneralRate, rlConfig.GeneralBurst = generalRate, generalBurst
	rlConfig.AuthRate, rlConfig.AuthBurst = authRate, authBurst
	rlConfig.LoginRate, rlConfig.LoginBurst = loginRate, loginBurst
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	sessionCookie := middleware.NewSessionCookie(middleware.SessionCookieConfig{
		Secret: []byte(cfg.SessionSecret),
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Principals:         authService,
		SessionCookie:      sessionCookie,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		TrustProxy:         cfg.TrustProxy,
		CSRFEnabled:        cfg.CSRFEnabled,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:           cfg.CookieSecure,
		Logger:         slog.Default(),
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		TracingEnabled: cfg.OTLPEndpoint != "",

		DB: db,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			SuccessRedirect: cfg.AuthSuccessRedirect,
			FailureRedirect: cfg.AuthFailureRedirect,
			CookieSecure:    cfg.CookieSecure,
		},
		UserService: userService,
		TeamService: teamService,
	})

	return &Server{
		Handler:     router,
		AuthService: authService,
		rateLimiter: rateLimiter,
	}
}

func logStart(cfg *config.Config, command string) {
	slog.Info("starting application",
		slog.String("command", command),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
}

// openDB はコネクションプール設定付きでDBを開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. トレース
	shutdownTracing, err := telemetry.Init(ctx, ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. ワイヤリング
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv := NewServer(cfg, db, reg)
	defer srv.Close()

	// 既定ロールが存在しない場合は起動を中止する
	if err := srv.AuthService.ValidateDefaultRole(ctx); err != nil {
		return fmt.Errorf("default role check failed (run migrate or seed first): %w", err)
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("google_login", cfg.GoogleEnabled()),
			slog.Bool("csrf", cfg.CSRFEnabled),
			slog.Bool("trust_proxy", cfg.TrustProxy),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除をSESSION_CLEANUP_INTERVALごとに実行し、ctxのキャンセルで停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewSessionCleanupJob(db, slog.Default())
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// stepsが0の場合は未適用のマイグレーションをすべて適用する。
func runMigrate(cfg *config.Config, steps int) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("steps", steps),
	)

	if err := database.RunMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runSeed は既定ロールを冪等に投入する。
func runSeed(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.SeedRoles(ctx, db); err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("roles seeded", slog.Any("roles", database.DefaultRoles))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
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
