package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ForceLogoutRequest names the account whose sessions are terminated. When
// Token or TokenID is set only that token is revoked, otherwise every active
// token of the account is.
type ForceLogoutRequest struct {
	Target  string `json:"target_username"`
	Token   string `json:"target_jwt,omitempty"`
	TokenID string `json:"target_jti,omitempty"`
}

// ForceLogoutResult reports what was terminated.
type ForceLogoutResult struct {
	Username       string `json:"username"`
	LegacySessions bool   `json:"legacy_sessions_cleared"`
	RevokedTokens  int    `json:"revoked_tokens"`
}

// AccountState is the read view returned to owners and administrators.
type AccountState struct {
	Username   string        `json:"username"`
	Status     AccountStatus `json:"status"`
	Visibility Visibility    `json:"visibility"`
	Roles      []string      `json:"roles"`
}

// AccountService groups the administrative operations that sit next to the
// lifecycle state machine: forced logout, state reads and listings.
type AccountService struct {
	repo         RepositoryManager
	tokens       TokenService
	sessions     *SessionManager
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// AccountServiceOption customizes the account service.
type AccountServiceOption func(*AccountService)

func WithAccountServiceLogger(logger Logger) AccountServiceOption {
	return func(s *AccountService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAccountServiceActivitySink(sink ActivitySink) AccountServiceOption {
	return func(s *AccountService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

func WithAccountServiceClock(now func() time.Time) AccountServiceOption {
	return func(s *AccountService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAccountService(repo RepositoryManager, tokens TokenService, sessions *SessionManager, opts ...AccountServiceOption) *AccountService {
	s := &AccountService{
		repo:         repo,
		tokens:       tokens,
		sessions:     sessions,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ForceLogout terminates the sessions of another account. Legacy sessions are
// always cleared, in the same transaction as the token revocations.
func (s *AccountService) ForceLogout(ctx context.Context, caller Actor, req ForceLogoutRequest) (ForceLogoutResult, error) {
	if caller.Username == "" {
		return ForceLogoutResult{}, ErrUnauthenticated.Clone()
	}
	if !caller.Roles.IsElevated() {
		return ForceLogoutResult{}, ErrForbidden.Clone().WithMetadata(map[string]any{
			"caller": caller.Username,
			"action": ActionForceLogout,
		})
	}

	target := normalizeUsername(req.Target)
	if target == "" {
		return ForceLogoutResult{}, goerrors.New("target username is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	account, err := s.repo.Accounts().GetByUsername(ctx, target)
	if err != nil {
		return ForceLogoutResult{}, err
	}

	if !CanManage(caller.Roles, account.RoleSet(), ActionForceLogout) {
		return ForceLogoutResult{}, forbidden(caller, account, ActionForceLogout)
	}

	var claims *JWTClaims
	if raw := strings.TrimSpace(req.Token); raw != "" {
		claims, err = s.tokens.Validate(ctx, raw)
		if err != nil {
			return ForceLogoutResult{}, goerrors.New("target token is invalid", goerrors.CategoryBadInput).
				WithTextCode(TextCodeTokenInvalid).
				WithCode(goerrors.CodeBadRequest)
		}
		if claims.Subject() != account.Username {
			return ForceLogoutResult{}, ErrTokenNotOwned.Clone().WithMetadata(map[string]any{
				"username": account.Username,
			})
		}
	}

	result := ForceLogoutResult{Username: account.Username}
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.LegacySessions().DeleteByUsernameTx(ctx, tx, account.Username); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete legacy sessions")
		}

		switch {
		case claims != nil:
			if err := s.sessions.RevokeClaimsTx(ctx, tx, claims); err != nil {
				return err
			}
			result.RevokedTokens = 1
		case strings.TrimSpace(req.TokenID) != "":
			if err := s.sessions.RevokeTokenTx(ctx, tx, account.Username, strings.TrimSpace(req.TokenID)); err != nil {
				return err
			}
			result.RevokedTokens = 1
		default:
			n, err := s.sessions.RevokeAllTx(ctx, tx, account.Username)
			if err != nil {
				return err
			}
			result.RevokedTokens = n
		}
		return nil
	})
	if err != nil {
		return ForceLogoutResult{}, err
	}
	result.LegacySessions = true

	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType:  ActivityEventForcedLogout,
		Actor:      caller.Ref(),
		Username:   account.Username,
		FromStatus: account.Status,
		ToStatus:   account.Status,
		Metadata:   map[string]any{"revoked_tokens": result.RevokedTokens},
	})

	return result, nil
}

// AccountState reads the lifecycle state of target. Owners and elevated
// callers may read it.
func (s *AccountService) AccountState(ctx context.Context, caller Actor, target string) (AccountState, error) {
	if caller.Username == "" {
		return AccountState{}, ErrUnauthenticated.Clone()
	}

	account, err := s.repo.Accounts().GetByUsername(ctx, target)
	if err != nil {
		return AccountState{}, err
	}

	if !caller.IsOwner(account.Username) && !caller.Roles.IsElevated() {
		return AccountState{}, ErrForbidden.Clone().WithMetadata(map[string]any{
			"caller": caller.Username,
			"target": account.Username,
		})
	}

	account.EnsureStatus()
	return AccountState{
		Username:   account.Username,
		Status:     account.Status,
		Visibility: account.Visibility,
		Roles:      account.RoleSet().Strings(),
	}, nil
}

// ListAccounts returns the accounts visible to caller:
//   - civic callers see active, public civic accounts
//   - elevated callers see every account, narrowed by filter
//   - other institutional callers see accounts sharing their primary role
func (s *AccountService) ListAccounts(ctx context.Context, caller Actor, filter AccountFilter) ([]AccountSummary, error) {
	if caller.Username == "" {
		return nil, ErrUnauthenticated.Clone()
	}

	var (
		query AccountFilter
		match func(*Account) bool
	)

	switch {
	case caller.Roles.Has(RoleRegular):
		query = AccountFilter{Status: AccountStatusActive, Visibility: VisibilityPublic}
		match = func(a *Account) bool { return a.RoleSet().Has(RoleRegular) }
	case caller.Roles.IsElevated():
		query = filter
	default:
		if filter.Status != "" || filter.Visibility != "" || filter.Role != "" {
			return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
				"caller": caller.Username,
				"reason": "filtered listings are restricted to administrators",
			})
		}
		primary := caller.Roles.Primary()
		match = func(a *Account) bool { return a.RoleSet().Has(primary) }
	}

	records, err := s.repo.Accounts().ListFiltered(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]AccountSummary, 0, len(records))
	for _, record := range records {
		if match != nil && !match(record) {
			continue
		}
		out = append(out, record.Summary())
	}
	return out, nil
}
