package model

import "time"

// Team は学校テニス部のチームを表す。
type Team struct {
	ID        string
	Name      string
	School    string
	CreatedBy *string // 作成ユーザーの退会時はNULLになる
	CreatedAt time.Time
	UpdatedAt time.Time
}
