package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// wrapPQError は一意制約違反をErrDuplicateに変換する。
func wrapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

// isForeignKeyViolation は参照先の行が存在しないことによる失敗かを判定する。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime はnilをNULLとして扱う。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr はNULLをnilに変換する。
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
