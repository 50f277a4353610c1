package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/courtside/internal/model"
)

// PostgreSQLのSQLSTATEコード。
const (
	pqUniqueViolation     pq.ErrorCode = "23505"
	pqForeignKeyViolation pq.ErrorCode = "23503"
	pqCheckViolation      pq.ErrorCode = "23514"
	pqNotNullViolation    pq.ErrorCode = "23502"
)

// 制約名。マイグレーションで明示的に命名している。
const (
	constraintUsersEmail      = "users_email_key"
	constraintUsersExternalID = "users_external_id_key"
	constraintUsersRole       = "users_role_id_fkey"
	constraintUsersCredential = "users_credential_check"
	constraintTeamsName       = "teams_name_key"
)

// translateError はドライバのエラーをドメインのエラー分類に変換する。
// 制約違反以外はopを付与してラップし、上位でインフラ障害として扱われる。
func translateError(op string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr *model.APIError
	switch pqErr.Code {
	case pqUniqueViolation:
		switch pqErr.Constraint {
		case constraintUsersEmail:
			apiErr = model.NewEmailTakenError()
		case constraintUsersExternalID:
			apiErr = model.NewConflictError("external identity already linked to another account")
		case constraintTeamsName:
			apiErr = model.NewConflictError("team name already exists")
		default:
			apiErr = model.NewConflictError("record already exists")
		}
	case pqForeignKeyViolation:
		if pqErr.Constraint == constraintUsersRole {
			apiErr = model.NewValidationError("role does not exist")
		} else {
			apiErr = model.NewValidationError("referenced record does not exist")
		}
	case pqCheckViolation:
		if pqErr.Constraint == constraintUsersCredential {
			apiErr = model.NewValidationError("user must have a password or an external identity")
		} else {
			apiErr = model.NewValidationError("value violates a check constraint")
		}
	case pqNotNullViolation:
		apiErr = model.NewValidationError(fmt.Sprintf("%s is required", pqErr.Column))
	default:
		return fmt.Errorf("%s: %w", op, err)
	}

	apiErr.Err = fmt.Errorf("%s: %w", op, err)
	return apiErr
}
