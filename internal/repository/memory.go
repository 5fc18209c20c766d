package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/authcare/internal/model"
)

// MemoryStore はテストとローカル実行用のインメモリ実装。
// PostgreSQLスキーマと同じ一意制約とCASCADE削除を再現する。
// 返却する値はコピーで、呼び出し側の変更はストアに反映されない。
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]model.User
	sessions   map[string]model.Session
	tokens     map[int64]model.RefreshToken
	identities map[identityKey]model.Identity
	nextToken  int64
}

type identityKey struct {
	subject  string
	provider string
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]model.User),
		sessions:   make(map[string]model.Session),
		tokens:     make(map[int64]model.RefreshToken),
		identities: make(map[identityKey]model.Identity),
	}
}

// Users はUserRepositoryとしてのビューを返す。
func (s *MemoryStore) Users() *MemoryUserRepo { return &MemoryUserRepo{s: s} }

// Sessions はSessionRepositoryとしてのビューを返す。
func (s *MemoryStore) Sessions() *MemorySessionRepo { return &MemorySessionRepo{s: s} }

// RefreshTokens はRefreshTokenRepositoryとしてのビューを返す。
func (s *MemoryStore) RefreshTokens() *MemoryRefreshTokenRepo { return &MemoryRefreshTokenRepo{s: s} }

// Identities はIdentityRepositoryとしてのビューを返す。
func (s *MemoryStore) Identities() *MemoryIdentityRepo { return &MemoryIdentityRepo{s: s} }

// deleteSessionLocked はセッションと紐付くトークンを削除する。
func (s *MemoryStore) deleteSessionLocked(id string) {
	delete(s.sessions, id)
	for tid, t := range s.tokens {
		if t.SessionID == id {
			delete(s.tokens, tid)
		}
	}
}

func (s *MemoryStore) emailTakenLocked(email string) bool {
	if email == "" {
		return false
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) insertUserLocked(user *model.User) error {
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrDuplicate)
	}
	if s.emailTakenLocked(user.Email) {
		return fmt.Errorf("user email %s: %w", user.Email, ErrDuplicate)
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) insertIdentityLocked(identity *model.Identity) error {
	key := identityKey{subject: identity.ID, provider: identity.Provider}
	if _, ok := s.identities[key]; ok {
		return fmt.Errorf("identity %s/%s: %w", identity.Provider, identity.ID, ErrDuplicate)
	}
	if _, ok := s.users[identity.UserID]; !ok {
		return fmt.Errorf("identity owner %s: %w", identity.UserID, ErrNotFound)
	}
	cp := *identity
	cp.IdentityData = slices.Clone(identity.IdentityData)
	s.identities[key] = cp
	return nil
}

// MemoryUserRepo はMemoryStore上のUserRepository。
type MemoryUserRepo struct{ s *MemoryStore }

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if email == "" {
		return nil, nil
	}
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

// ExistsWithEmail は指定メールアドレスのユーザーが存在するかを返す。
func (r *MemoryUserRepo) ExistsWithEmail(ctx context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.emailTakenLocked(email), nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertUserLocked(user)
}

// CreateWithIdentity はユーザーとidentityをまとめて作成する。どちらかが失敗した場合は何も残さない。
func (r *MemoryUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.insertUserLocked(user); err != nil {
		return err
	}
	if err := r.s.insertIdentityLocked(identity); err != nil {
		delete(r.s.users, user.ID)
		return err
	}
	return nil
}

// DeleteByID は指定IDのユーザーと関連データを削除する。
func (r *MemoryUserRepo) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(r.s.users, id)
	for sid, sess := range r.s.sessions {
		if sess.UserID == id {
			r.s.deleteSessionLocked(sid)
		}
	}
	for tid, t := range r.s.tokens {
		if t.UserID == id {
			delete(r.s.tokens, tid)
		}
	}
	for key, ident := range r.s.identities {
		if ident.UserID == id {
			delete(r.s.identities, key)
		}
	}
	return nil
}

// MemorySessionRepo はMemoryStore上のSessionRepository。
type MemorySessionRepo struct{ s *MemoryStore }

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s: %w", session.ID, ErrDuplicate)
	}
	if _, ok := r.s.users[session.UserID]; !ok {
		return fmt.Errorf("session owner %s: %w", session.UserID, ErrNotFound)
	}
	r.s.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// DeleteByID は指定IDのセッションと紐付くトークンを削除する。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deleteSessionLocked(id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for sid, sess := range r.s.sessions {
		if sess.UserID == userID {
			r.s.deleteSessionLocked(sid)
		}
	}
	return nil
}

// MemoryRefreshTokenRepo はMemoryStore上のRefreshTokenRepository。
type MemoryRefreshTokenRepo struct{ s *MemoryStore }

// FindByToken はトークン文字列で検索する。見つからない場合はnilを返す。
func (r *MemoryRefreshTokenRepo) FindByToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.Token == token {
			return &t, nil
		}
	}
	return nil, nil
}

// Create はトークンを作成し、採番されたIDをtoken.IDに設定する。
func (r *MemoryRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[token.SessionID]; !ok {
		return fmt.Errorf("refresh token session %s: %w", token.SessionID, ErrNotFound)
	}
	for _, t := range r.s.tokens {
		if t.Token == token.Token {
			return fmt.Errorf("refresh token: %w", ErrDuplicate)
		}
	}
	r.s.nextToken++
	token.ID = r.s.nextToken
	r.s.tokens[token.ID] = *token
	return nil
}

// Rotate はoldの失効とnextの作成を1つのロック内で行う。
// 検証が全て通るまでストアは変更しない。
func (r *MemoryRefreshTokenRepo) Rotate(ctx context.Context, old, next *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.tokens[old.ID]
	if !ok || stored.Revoked {
		return ErrStaleRefreshToken
	}
	if _, ok := r.s.sessions[next.SessionID]; !ok {
		return fmt.Errorf("refresh token session %s: %w", next.SessionID, ErrNotFound)
	}
	for _, t := range r.s.tokens {
		if t.Token == next.Token {
			return fmt.Errorf("refresh token: %w", ErrDuplicate)
		}
	}

	stored.Revoked = true
	stored.UpdatedAt = old.UpdatedAt
	r.s.tokens[old.ID] = stored

	r.s.nextToken++
	next.ID = r.s.nextToken
	r.s.tokens[next.ID] = *next
	return nil
}

// MemoryIdentityRepo はMemoryStore上のIdentityRepository。
type MemoryIdentityRepo struct{ s *MemoryStore }

// Find はsubjectとproviderでidentityを検索する。見つからない場合はnilを返す。
func (r *MemoryIdentityRepo) Find(ctx context.Context, subject, provider string) (*model.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ident, ok := r.s.identities[identityKey{subject: subject, provider: provider}]
	if !ok {
		return nil, nil
	}
	return &ident, nil
}

// FindAllByEmail はemailsのいずれかに一致するidentityを作成日時順で返す。
func (r *MemoryIdentityRepo) FindAllByEmail(ctx context.Context, emails []string) ([]*model.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Identity
	for _, ident := range r.s.identities {
		if ident.Email != "" && slices.ContainsFunc(emails, func(e string) bool { return strings.EqualFold(e, ident.Email) }) {
			cp := ident
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *model.Identity) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Create はidentityを作成する。
func (r *MemoryIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertIdentityLocked(identity)
}

// TouchLastSignIn は最終サインイン日時を更新する。
func (r *MemoryIdentityRepo) TouchLastSignIn(ctx context.Context, subject, provider string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := identityKey{subject: subject, provider: provider}
	ident, ok := r.s.identities[key]
	if !ok {
		return fmt.Errorf("identity %s/%s: %w", provider, subject, ErrNotFound)
	}
	ident.LastSignInAt = &at
	ident.UpdatedAt = at
	r.s.identities[key] = ident
	return nil
}

// compile-time interface check
var (
	_ UserRepository         = (*MemoryUserRepo)(nil)
	_ SessionRepository      = (*MemorySessionRepo)(nil)
	_ RefreshTokenRepository = (*MemoryRefreshTokenRepo)(nil)
	_ IdentityRepository     = (*MemoryIdentityRepo)(nil)
)
