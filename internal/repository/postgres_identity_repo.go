package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/authcare/internal/model"
	"github.com/lib/pq"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

const identityColumns = `id, user_id, email, provider, identity_data, last_sign_in_at, created_at, updated_at`

// Find はsubjectとproviderでidentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) Find(ctx context.Context, subject, provider string) (*model.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identity
		 WHERE id = $1 AND provider = $2`,
		subject, provider,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// FindAllByEmail はemailsのいずれかに大文字小文字を区別せず一致するidentityをすべて返す。
func (r *PostgresIdentityRepo) FindAllByEmail(ctx context.Context, emails []string) ([]*model.Identity, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	folded := make([]string, len(emails))
	for i, e := range emails {
		folded[i] = strings.ToLower(e)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identity
		 WHERE lower(email) = ANY($1::text[])
		 ORDER BY created_at`,
		pq.Array(folded),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find identities by email: %w", err)
	}
	defer rows.Close()

	var identities []*model.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}
	return identities, nil
}

// Create はidentityを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if err := insertIdentity(ctx, r.db, identity); err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// TouchLastSignIn は最終サインイン日時を更新する。
func (r *PostgresIdentityRepo) TouchLastSignIn(ctx context.Context, subject, provider string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE identity SET last_sign_in_at = $3, updated_at = $3
		 WHERE id = $1 AND provider = $2`,
		subject, provider, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity sign-in time: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity %s/%s: %w", provider, subject, ErrNotFound)
	}
	return nil
}

func insertIdentity(ctx context.Context, db execer, identity *model.Identity) error {
	data := []byte(identity.IdentityData)
	if len(data) == 0 {
		data = []byte("{}")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO identity (id, user_id, email, provider, identity_data, last_sign_in_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		identity.ID, identity.UserID, nullString(identity.Email), identity.Provider,
		data, nullTime(identity.LastSignInAt), identity.CreatedAt, identity.UpdatedAt,
	)
	return wrapPQError(err)
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*model.Identity, error) {
	var (
		identity   model.Identity
		email      sql.NullString
		data       []byte
		lastSignIn sql.NullTime
	)
	if err := row.Scan(&identity.ID, &identity.UserID, &email, &identity.Provider, &data, &lastSignIn, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return nil, err
	}
	identity.Email = email.String
	identity.IdentityData = data
	identity.LastSignInAt = timePtr(lastSignIn)
	return &identity, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
