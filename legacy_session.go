package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LegacySessions stores opaque tokens of the older login flow. Entries never
// expire and are only removed by logout or account removal.
type LegacySessions interface {
	Create(ctx context.Context, session *LegacySession) error
	Get(ctx context.Context, token string) (*LegacySession, bool, error)
	ListUsernames(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, token string) (bool, error)
	DeleteByUsernameTx(ctx context.Context, tx bun.IDB, username string) error
}

type legacySessions struct {
	db *bun.DB
}

var _ LegacySessions = (*legacySessions)(nil)

func NewLegacySessionsRepository(db *bun.DB) LegacySessions {
	return &legacySessions{db: db}
}

func (r *legacySessions) Create(ctx context.Context, session *LegacySession) error {
	_, err := r.db.NewInsert().Model(session).Exec(ctx)
	return err
}

func (r *legacySessions) Get(ctx context.Context, token string) (*LegacySession, bool, error) {
	record := &LegacySession{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return record, true, nil
}

// ListUsernames returns the distinct owners of stored sessions.
func (r *legacySessions) ListUsernames(ctx context.Context) ([]string, error) {
	usernames := []string{}
	err := r.db.NewSelect().
		Model((*LegacySession)(nil)).
		ColumnExpr("DISTINCT ?TableAlias.username").
		OrderExpr("?TableAlias.username ASC").
		Scan(ctx, &usernames)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return usernames, nil
}

func (r *legacySessions) Delete(ctx context.Context, token string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*LegacySession)(nil)).
		Where("token = ?", token).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	return n > 0, err
}

func (r *legacySessions) DeleteByUsernameTx(ctx context.Context, tx bun.IDB, username string) error {
	_, err := tx.NewDelete().
		Model((*LegacySession)(nil)).
		Where("username = ?", username).
		Exec(ctx)
	return err
}

// LegacyAuthenticator implements the opaque token login flow. It shares the
// credential store with the JWT flow but none of the token registries.
type LegacyAuthenticator struct {
	repo     RepositoryManager
	password PasswordAuthenticator
	now      func() time.Time
	logger   Logger
	decoy    func() string
}

// LegacyAuthenticatorOption customizes the legacy authenticator.
type LegacyAuthenticatorOption func(*LegacyAuthenticator)

// WithLegacyClock injects a custom clock (useful for tests).
func WithLegacyClock(now func() time.Time) LegacyAuthenticatorOption {
	return func(a *LegacyAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLegacyPasswordAuthenticator overrides password hashing.
func WithLegacyPasswordAuthenticator(p PasswordAuthenticator) LegacyAuthenticatorOption {
	return func(a *LegacyAuthenticator) {
		if p != nil {
			a.password = p
		}
	}
}

// WithLegacyLogger sets the logger
func WithLegacyLogger(logger Logger) LegacyAuthenticatorOption {
	return func(a *LegacyAuthenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewLegacyAuthenticator(repo RepositoryManager, opts ...LegacyAuthenticatorOption) *LegacyAuthenticator {
	a := &LegacyAuthenticator{
		repo:     repo,
		password: Passwords{},
		now:      time.Now,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.decoy = decoyHash(func() PasswordAuthenticator { return a.password })
	return a
}

// Login verifies the credentials and stores a new opaque session token.
func (a *LegacyAuthenticator) Login(ctx context.Context, identifier, password string) (*LegacySession, error) {
	account, err := verifyCredentials(ctx, a.repo.Accounts(), a.password, a.decoy, identifier, password)
	if err != nil {
		return nil, err
	}

	session := &LegacySession{
		Token:     uuid.NewString(),
		Username:  account.Username,
		Role:      account.RoleSet().Primary(),
		CreatedAt: a.now(),
	}

	if err := a.repo.LegacySessions().Create(ctx, session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store session")
	}

	a.logger.Debug("legacy session created for %s", account.Username)

	return session, nil
}

// Session resolves an opaque token.
func (a *LegacyAuthenticator) Session(ctx context.Context, token string) (*LegacySession, error) {
	session, found, err := a.repo.LegacySessions().Get(ctx, token)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}
	if !found {
		return nil, ErrUnauthenticated.Clone()
	}
	return session, nil
}

// Logout deletes the session. Unknown tokens are reported as unauthenticated.
func (a *LegacyAuthenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthenticated.Clone()
	}

	deleted, err := a.repo.LegacySessions().Delete(ctx, token)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete session")
	}
	if !deleted {
		return ErrUnauthenticated.Clone()
	}
	return nil
}
