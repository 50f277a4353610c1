package auth

import "github.com/hitoshi/courtside/internal/model"

// Authorize は主体のロールが許可ロールのいずれかに含まれるかを判定する。
// 主体がない場合はUnauthenticated、ロールが許可されていない場合はForbiddenを返す。
// 許可ロールが空の場合は認証済みであれば通す。
func Authorize(p *model.Principal, allowed ...string) error {
	if p == nil {
		return model.NewUnauthenticatedError()
	}
	if len(allowed) == 0 {
		return nil
	}
	if !p.HasAnyRole(allowed...) {
		return model.NewForbiddenError()
	}
	return nil
}
