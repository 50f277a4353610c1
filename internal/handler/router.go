package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/courtside/internal/metrics"
	"github.com/hitoshi/courtside/internal/middleware"
	"github.com/hitoshi/courtside/internal/model"
	"github.com/hitoshi/courtside/internal/team"
	"github.com/hitoshi/courtside/internal/telemetry"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Principals         middleware.PrincipalLoader
	SessionCookie      *middleware.SessionCookie
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	TrustProxy         bool // trueの場合のみX-Forwarded-For等からクライアントIPを復元する
	CSRFEnabled        bool
	CSRFConfig         middleware.CSRFConfig
	HSTS               bool
	Logger             *slog.Logger
	Metrics            metrics.MetricsCollector
	MetricsHandler     http.Handler // nilの場合は/metricsを公開しない
	TracingEnabled     bool

	// ヘルスチェック
	DB Pinger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// チーム
	TeamService TeamServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したハンドラーを返す。
//
// ミドルウェアスタックの実行順序:
//
//	(RealIP) → Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit → (CSRF) → RequireRoles
//
// /health と /metrics はセッション復元の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, model.NewNotFoundError("route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
			Kind:     model.KindValidation,
			Code:     "METHOD_NOT_ALLOWED",
			Message:  "method not allowed",
			Category: "validation",
			Action:   "リクエストメソッドを確認してください。",
		})
	})

	authConfig := deps.AuthConfig
	if authConfig.LoginLimiter == nil && deps.RateLimiter != nil {
		authConfig.LoginLimiter = deps.RateLimiter
	}
	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookie, authConfig)
	userHandler := NewUserHandler(deps.UserService, deps.SessionCookie)
	teamHandler := NewTeamHandler(deps.TeamService)

	// --- 運用エンドポイント ---
	if deps.DB != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- セッションを復元するルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Principals, deps.SessionCookie))

		// 認証ルート
		r.Route("/auth", func(r chi.Router) {
			// 登録・ログイン・OAuthは総当たり対策として厳しいレート制限を適用
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.AuthMiddleware())
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Get("/google", authHandler.GoogleLogin)
				r.Get("/google/callback", authHandler.GoogleCallback)
			})

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.GeneralMiddleware())
				r.Post("/logout", authHandler.Logout)
				r.Get("/status", authHandler.Status)
			})
		})

		// APIルート
		r.Route("/api", func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			if deps.CSRFEnabled {
				r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
				r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
			}

			r.Get("/roles", userHandler.ListRoles)

			// ユーザー管理
			r.Route("/users", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRoles(recorder))
					r.Patch("/me", userHandler.UpdateProfile)
					r.Delete("/me", userHandler.Withdraw)
				})
				r.With(middleware.RequireRoles(recorder, model.RoleAdmin)).Put("/{id}/role", userHandler.AssignRole)
			})

			// チーム管理
			r.Route("/teams", func(r chi.Router) {
				r.Get("/", teamHandler.ListTeams)
				r.Get("/{id}", teamHandler.GetTeam)

				editors := middleware.RequireRoles(recorder, team.EditorRoles()...)
				r.With(editors).Post("/", teamHandler.CreateTeam)
				r.With(editors).Patch("/{id}", teamHandler.UpdateTeam)
				r.With(middleware.RequireRoles(recorder, team.DeleterRoles()...)).Delete("/{id}", teamHandler.DeleteTeam)
			})
		})
	})

	if deps.TracingEnabled {
		return telemetry.Middleware("courtside")(r)
	}
	return r
}
