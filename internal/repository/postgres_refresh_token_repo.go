package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/authcare/internal/model"
)

// PostgresRefreshTokenRepo はPostgreSQLを使用したリフレッシュトークンリポジトリ。
type PostgresRefreshTokenRepo struct {
	db *sql.DB
}

// NewPostgresRefreshTokenRepo はPostgresRefreshTokenRepoを生成する。
func NewPostgresRefreshTokenRepo(db *sql.DB) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: db}
}

// FindByToken はトークン文字列で検索する。見つからない場合はnilを返す。
func (r *PostgresRefreshTokenRepo) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	rt := &model.RefreshToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, token, user_id, session_id, revoked, created_at, updated_at
		 FROM auth_refresh_token
		 WHERE token = $1`,
		token,
	).Scan(&rt.ID, &rt.Token, &rt.UserID, &rt.SessionID, &rt.Revoked, &rt.CreatedAt, &rt.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	return rt, nil
}

// Create はトークンを作成し、採番されたIDをtoken.IDに設定する。
func (r *PostgresRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO auth_refresh_token (token, user_id, session_id, revoked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		token.Token, token.UserID, token.SessionID, token.Revoked, token.CreatedAt, token.UpdatedAt,
	).Scan(&token.ID)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("refresh token session %s: %w", token.SessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", wrapPQError(err))
	}
	return nil
}

// Rotate はoldの失効とnextの作成を1トランザクションで行う。
// revoked = false の行のみを対象とする条件付きUPDATEで、
// 競合するローテーションのうち先に到達した1件だけが成功する。
func (r *PostgresRefreshTokenRepo) Rotate(ctx context.Context, old, next *model.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE auth_refresh_token
		 SET revoked = true, updated_at = $2
		 WHERE id = $1 AND revoked = false`,
		old.ID, old.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStaleRefreshToken
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO auth_refresh_token (token, user_id, session_id, revoked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		next.Token, next.UserID, next.SessionID, next.Revoked, next.CreatedAt, next.UpdatedAt,
	).Scan(&id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("refresh token session %s: %w", next.SessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", wrapPQError(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	next.ID = id
	return nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
