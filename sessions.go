package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ActiveSession is the presentation view of a live token.
type ActiveSession struct {
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionManager pairs the active token registry with the revocation registry.
type SessionManager struct {
	repo   RepositoryManager
	now    func() time.Time
	logger Logger
}

// SessionManagerOption customizes the session manager.
type SessionManagerOption func(*SessionManager)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(now func() time.Time) SessionManagerOption {
	return func(s *SessionManager) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(s *SessionManager) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSessionManager(repo RepositoryManager, opts ...SessionManagerOption) *SessionManager {
	s := &SessionManager{
		repo:   repo,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RevokeAndDeregister revokes jti and removes it from the active registry in
// one transaction. It is idempotent.
func (s *SessionManager) RevokeAndDeregister(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return goerrors.New("token id is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.revokeTx(ctx, tx, jti, expiresAt, "logout")
	})
}

// RevokeClaims revokes the token described by claims.
func (s *SessionManager) RevokeClaims(ctx context.Context, claims *JWTClaims) error {
	if claims == nil {
		return ErrUnauthenticated.Clone()
	}
	return s.RevokeAndDeregister(ctx, claims.TokenID(), claims.Expires())
}

// RevokeClaimsTx is RevokeClaims within an existing transaction.
func (s *SessionManager) RevokeClaimsTx(ctx context.Context, tx bun.IDB, claims *JWTClaims) error {
	if claims == nil {
		return ErrUnauthenticated.Clone()
	}
	return s.revokeTx(ctx, tx, claims.TokenID(), claims.Expires(), "forced")
}

// RevokeToken revokes one token of username. The token must be registered to username.
func (s *SessionManager) RevokeToken(ctx context.Context, username, jti string) error {
	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.RevokeTokenTx(ctx, tx, username, jti)
	})
}

// RevokeTokenTx is RevokeToken within an existing transaction.
func (s *SessionManager) RevokeTokenTx(ctx context.Context, tx bun.IDB, username, jti string) error {
	entry, found, err := s.repo.ActiveTokens().GetTx(ctx, tx, jti)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "active token lookup failed")
	}
	if !found || entry.Username != username {
		return ErrTokenNotOwned.Clone().WithMetadata(map[string]any{
			"username": username,
		})
	}

	return s.revokeTx(ctx, tx, entry.JTI, entry.ExpiresAt, "forced")
}

// RevokeAll revokes every registered token of username and returns how many were revoked.
func (s *SessionManager) RevokeAll(ctx context.Context, username string) (int, error) {
	count := 0
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := s.RevokeAllTx(ctx, tx, username)
		count = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RevokeAllTx is RevokeAll within an existing transaction.
func (s *SessionManager) RevokeAllTx(ctx context.Context, tx bun.IDB, username string) (int, error) {
	entries, err := s.repo.ActiveTokens().ListByUsernameTx(ctx, tx, username)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		if err := s.revokeTx(ctx, tx, entry.JTI, entry.ExpiresAt, "forced"); err != nil {
			return 0, err
		}
	}

	if len(entries) > 0 {
		s.logger.Info("revoked %d tokens for %s", len(entries), username)
	}

	return len(entries), nil
}

// ListActiveSessions returns the live tokens of username. Entries past their
// expiry and entries already revoked are filtered out; the registry itself is not pruned.
func (s *SessionManager) ListActiveSessions(ctx context.Context, username string) ([]ActiveSession, error) {
	entries, err := s.repo.ActiveTokens().ListByUsername(ctx, username)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list active tokens")
	}

	now := s.now()
	sessions := make([]ActiveSession, 0, len(entries))
	for _, entry := range entries {
		if entry.Expired(now) {
			continue
		}

		revoked, found, err := s.repo.Revocations().Lookup(ctx, entry.JTI)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "revocation lookup failed")
		}
		if found && revoked.Effective(now) {
			continue
		}

		sessions = append(sessions, ActiveSession{
			TokenID:   entry.JTI,
			IssuedAt:  entry.IssuedAt,
			ExpiresAt: entry.ExpiresAt,
		})
	}

	return sessions, nil
}

// PruneResult reports the rows removed by a maintenance pass.
type PruneResult struct {
	Revocations  int
	ActiveTokens int
}

// Prune drops revocation entries and active entries whose recorded expiry has passed.
func (s *SessionManager) Prune(ctx context.Context) (PruneResult, error) {
	now := s.now()

	revoked, err := s.repo.Revocations().PruneExpired(ctx, now)
	if err != nil {
		return PruneResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to prune revocations")
	}

	active, err := s.repo.ActiveTokens().PruneExpired(ctx, now)
	if err != nil {
		return PruneResult{Revocations: revoked}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to prune active tokens")
	}

	return PruneResult{Revocations: revoked, ActiveTokens: active}, nil
}

// RunPruner calls Prune every interval until ctx is done.
func (s *SessionManager) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Prune(ctx)
			if err != nil {
				s.logger.Error("token registry prune failed: %v", err)
				continue
			}
			if res.Revocations > 0 || res.ActiveTokens > 0 {
				s.logger.Debug("pruned %d revocations, %d active tokens", res.Revocations, res.ActiveTokens)
			}
		}
	}
}

func (s *SessionManager) revokeTx(ctx context.Context, tx bun.IDB, jti string, expiresAt time.Time, reason string) error {
	if err := s.repo.Revocations().RevokeTx(ctx, tx, &RevokedToken{
		JTI:       jti,
		ExpiresAt: expiresAt,
		RevokedAt: s.now(),
		Reason:    reason,
	}); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke token")
	}

	if err := s.repo.ActiveTokens().DeleteTx(ctx, tx, jti); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to deregister token")
	}

	return nil
}
