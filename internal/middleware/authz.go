package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/courtside/internal/auth"
	"github.com/hitoshi/courtside/internal/metrics"
	"github.com/hitoshi/courtside/internal/model"
)

// RequireRoles は認証主体のロールが許可ロールのいずれかに含まれる場合のみ通すミドルウェアを返す。
// 主体がない場合は401、ロールが許可されていない場合は403を返す。
// rolesを省略した場合は認証済みであることのみを要求する。
// SessionMiddlewareの後に配置すること。
func RequireRoles(recorder metrics.MetricsCollector, roles ...string) func(next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if err := auth.Authorize(principal, roles...); err != nil {
				kind := model.KindOf(err)
				recorder.RecordAuthzDenied(string(kind))
				if kind == model.KindForbidden {
					slog.Warn("authorization denied",
						slog.String("user_id", principal.ID),
						slog.String("role", principal.RoleName),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
					)
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
