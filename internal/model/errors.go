package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの対応付けはmiddleware層で行う。
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindConflict         ErrorKind = "conflict"
	KindAuthentication   ErrorKind = "authentication"
	KindUnauthenticated  ErrorKind = "unauthenticated"
	KindForbidden        ErrorKind = "forbidden"
	KindNotFound         ErrorKind = "not_found"
	KindExternalIdentity ErrorKind = "external_identity"
	KindInfrastructure   ErrorKind = "infrastructure"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, team, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となった内部エラー（クライアントには返さない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf はエラーチェーンからAPIErrorを探し、その分類を返す。
// APIErrorを含まないエラーはインフラ障害として扱う。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInfrastructure
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeEmailTaken         = "EMAIL_ALREADY_REGISTERED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUseOriginalMethod  = "USE_ORIGINAL_LOGIN_METHOD"
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeNotLoggedIn        = "NOT_LOGGED_IN"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeExternalIdentity   = "EXTERNAL_IDENTITY_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// 認証失敗時のメッセージ。クライアントがこの文言で分岐するため変更しないこと。
const (
	MessageInvalidCredentials = "Incorrect email or password"
	MessageUseOriginalMethod  = "Please log in using your original method"
	MessageNotAuthenticated   = "not authenticated"
	MessageNotLoggedIn        = "not logged in"
)

// NewValidationError は入力値不正エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeEmailTaken,
		Message:  "Email already registered",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewConflictError は一意性制約違反エラーを生成する。
func NewConflictError(message string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeConflict,
		Message:  message,
		Category: "validation",
		Action:   "既存のデータと重複しない値を指定してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindAuthentication,
		Code:     ErrCodeInvalidCredentials,
		Message:  MessageInvalidCredentials,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewUseOriginalMethodError は外部IdP専用アカウントでローカルログインを試みた場合のエラーを生成する。
func NewUseOriginalMethodError() *APIError {
	return &APIError{
		Kind:     KindAuthentication,
		Code:     ErrCodeUseOriginalMethod,
		Message:  MessageUseOriginalMethod,
		Category: "auth",
		Action:   "Googleログインを使用してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeNotAuthenticated,
		Message:  MessageNotAuthenticated,
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewNotLoggedInError はログアウト時にセッションが存在しない場合のエラーを生成する。
func NewNotLoggedInError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeNotLoggedIn,
		Message:  MessageNotLoggedIn,
		Category: "auth",
		Action:   "既にログアウトしています。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeForbidden,
		Message:  "insufficient role for this operation",
		Category: "auth",
		Action:   "管理者に権限の付与を依頼してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", resource),
		Category: "validation",
		Action:   "IDを確認してください。",
	}
}

// NewExternalIdentityError は外部IdPのプロフィールが利用できない場合のエラーを生成する。
func NewExternalIdentityError(message string) *APIError {
	return &APIError{
		Kind:     KindExternalIdentity,
		Code:     ErrCodeExternalIdentity,
		Message:  message,
		Category: "auth",
		Action:   "別の方法でログインするか、IdP側のアカウント設定を確認してください。",
	}
}

// NewInfrastructureError はDBや外部サービスの障害を表すエラーを生成する。
// 詳細はErrに保持し、クライアントには一般的なメッセージのみを返す。
func NewInfrastructureError(err error) *APIError {
	return &APIError{
		Kind:     KindInfrastructure,
		Code:     ErrCodeInternal,
		Message:  "internal error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}
