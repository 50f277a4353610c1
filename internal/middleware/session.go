// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/courtside/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey = contextKey("principal")
	sessionIDContextKey = contextKey("session_id")
)

// PrincipalLoader はセッションIDから認証主体を復元するインターフェース。
// auth.ServiceのCurrentPrincipalが実装する。
type PrincipalLoader interface {
	CurrentPrincipal(ctx context.Context, sessionID string) (*model.Principal, error)
}

// NewSessionMiddleware はセッションCookieを読み取り、認証主体をリクエストコンテキストに注入する。
// Cookieがない・署名不正・セッション期限切れの場合は匿名のまま次へ渡す。
// 認可の判定はRequireRolesで行い、このミドルウェアでは拒否しない。
func NewSessionMiddleware(loader PrincipalLoader, cookie *SessionCookie) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := cookie.Read(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			// ログイン時のセッションローテーションのため、主体の有無にかかわらずIDは保持する
			ctx := context.WithValue(r.Context(), sessionIDContextKey, sessionID)

			principal, err := loader.CurrentPrincipal(ctx, sessionID)
			if err != nil {
				WriteError(w, err)
				return
			}
			if principal != nil {
				ctx = context.WithValue(ctx, principalContextKey, principal)
				setLoggedUser(ctx, principal.ID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext はリクエストコンテキストから認証主体を取得する。
// 匿名リクエストではnilを返す。
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalContextKey).(*model.Principal)
	return p
}

// SessionIDFromContext はリクエストに付与された検証済みのセッションIDを返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithPrincipal はコンテキストに認証主体とセッションIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal, sessionID string) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, principalContextKey, p)
}
