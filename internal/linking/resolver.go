// Package linking は外部IDとローカルユーザーの対応付けを判定する。
package linking

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/authcare/internal/model"
	"github.com/hitoshi/authcare/internal/repository"
)

// Decision はアカウント紐付けの判定結果。
type Decision int

const (
	// AccountExists は(subject, provider)のidentityが既に存在する。
	AccountExists Decision = iota + 1
	// CreateAccount は一致するユーザーがおらず、新規作成が必要。
	CreateAccount
	// LinkAccount はメールアドレスが一致する既存ユーザーが1人だけ存在する。
	LinkAccount
	// MultipleAccounts はメールアドレスが複数ユーザーに一致し、自動判定できない。
	MultipleAccounts
)

func (d Decision) String() string {
	switch d {
	case AccountExists:
		return "account_exists"
	case CreateAccount:
		return "create_account"
	case LinkAccount:
		return "link_account"
	case MultipleAccounts:
		return "multiple_accounts"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

var (
	// ErrLookup はリポジトリの検索失敗を示す。未検出とは区別される。
	ErrLookup = errors.New("account lookup failed")
	// ErrDanglingIdentity はidentityの所有ユーザーが存在しないことを示す。
	ErrDanglingIdentity = errors.New("identity refers to missing user")
)

// Result は判定結果と関連データ。
// AccountExists / LinkAccount ではUserに対象ユーザーが入る。
// MultipleAccounts ではIdentitiesに一致したidentityが入る。
type Result struct {
	Decision   Decision
	User       *model.User
	Identity   *model.Identity
	Identities []*model.Identity
}

// CandidateUserIDs は一致したidentityの所有ユーザーIDを重複なく返す。
func (r *Result) CandidateUserIDs() []string {
	seen := make(map[string]struct{}, len(r.Identities))
	var ids []string
	for _, identity := range r.Identities {
		if _, ok := seen[identity.UserID]; ok {
			continue
		}
		seen[identity.UserID] = struct{}{}
		ids = append(ids, identity.UserID)
	}
	return ids
}

// Resolver はidentityとユーザーのリポジトリから紐付けを判定する。
type Resolver struct {
	identities repository.IdentityRepository
	users      repository.UserRepository
}

// NewResolver はResolverを生成する。
func NewResolver(identities repository.IdentityRepository, users repository.UserRepository) *Resolver {
	return &Resolver{identities: identities, users: users}
}

// Resolve は(provider, subject)と候補メールアドレスから判定を行う。
// 副作用は持たず、行の作成は呼び出し側が行う。
func (r *Resolver) Resolve(ctx context.Context, provider, subject string, emails []string) (*Result, error) {
	identity, err := r.identities.Find(ctx, subject, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: find identity: %w", ErrLookup, err)
	}
	if identity != nil {
		user, err := r.loadUser(ctx, identity.UserID)
		if err != nil {
			return nil, err
		}
		return &Result{Decision: AccountExists, User: user, Identity: identity}, nil
	}

	if len(emails) == 0 {
		return &Result{Decision: CreateAccount}, nil
	}

	matches, err := r.identities.FindAllByEmail(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("%w: find identities by email: %w", ErrLookup, err)
	}
	if len(matches) == 0 {
		return &Result{Decision: CreateAccount}, nil
	}

	ownerID := matches[0].UserID
	for _, m := range matches[1:] {
		if m.UserID != ownerID {
			return &Result{Decision: MultipleAccounts, Identities: matches}, nil
		}
	}

	user, err := r.loadUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Result{Decision: LinkAccount, User: user, Identities: matches}, nil
}

func (r *Resolver) loadUser(ctx context.Context, id string) (*model.User, error) {
	user, err := r.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: find user: %w", ErrLookup, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrDanglingIdentity, id)
	}
	return user, nil
}
