package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Auther implements the JWT login flow on top of the credential store and the
// token service.
type Auther struct {
	repo         RepositoryManager
	tokens       TokenService
	sessions     *SessionManager
	passwords    PasswordAuthenticator
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	decoy        func() string
}

// NewAuthenticator returns a new Auther
func NewAuthenticator(repo RepositoryManager, tokens TokenService, sessions *SessionManager) *Auther {
	a := &Auther{
		repo:         repo,
		tokens:       tokens,
		sessions:     sessions,
		passwords:    Passwords{},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	a.decoy = decoyHash(func() PasswordAuthenticator { return a.passwords })
	return a
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithPasswordAuthenticator overrides password hashing.
func (s *Auther) WithPasswordAuthenticator(p PasswordAuthenticator) *Auther {
	if p != nil {
		s.passwords = p
	}
	return s
}

// Login authenticates by username or email and issues an access token.
// Unknown accounts and wrong passwords fail with the same ErrInvalidCredentials.
func (s *Auther) Login(ctx context.Context, identifier, password string) (IssuedToken, error) {
	account, err := verifyCredentials(ctx, s.repo.Accounts(), s.passwords, s.decoy, identifier, password)
	if err != nil {
		recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Username:  identifier,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return IssuedToken{}, err
	}

	s.upgradeLegacyHash(ctx, account, password)

	issued, err := s.tokens.Issue(ctx, account.Username, account.RoleSet())
	if err != nil {
		s.logger.Error("login token issue failed for %s: %v", account.Username, err)
		return IssuedToken{}, err
	}

	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		Actor:      ActorRef{ID: account.Username, Type: "account"},
		Username:   account.Username,
		FromStatus: account.Status,
		ToStatus:   account.Status,
		Metadata:   map[string]any{"jti": issued.TokenID},
	})

	return issued, nil
}

// Logout validates the presented token, then revokes and deregisters it.
func (s *Auther) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return PublicTokenError(err)
	}

	if err := s.sessions.RevokeClaims(ctx, claims); err != nil {
		return err
	}

	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorRef{ID: claims.Subject(), Type: "account"},
		Username:  claims.Subject(),
		Metadata:  map[string]any{"jti": claims.TokenID()},
	})

	return nil
}

// Validate is the token check used by handlers and middleware.
func (s *Auther) Validate(ctx context.Context, token string) (*JWTClaims, error) {
	return s.tokens.Validate(ctx, token)
}

func (s *Auther) upgradeLegacyHash(ctx context.Context, account *Account, password string) {
	if !NeedsRehash(account.PasswordHash) {
		return
	}

	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		s.logger.Warn("password rehash failed for %s: %v", account.Username, err)
		return
	}

	if err := s.repo.Accounts().UpdatePasswordHash(ctx, account.Username, hash); err != nil {
		s.logger.Warn("password rehash not stored for %s: %v", account.Username, err)
	}
}

func verifyCredentials(ctx context.Context, accounts Accounts, passwords PasswordAuthenticator, decoy func() string, identifier, password string) (*Account, error) {
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials.Clone()
	}

	account, err := accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			if decoy != nil {
				_ = passwords.ComparePasswordAndHash(password, decoy())
			}
			return nil, ErrInvalidCredentials.Clone()
		}
		return nil, err
	}

	if err := passwords.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials.Clone()
	}

	if !account.IsActive() {
		return nil, ErrAccountNotActive.Clone().WithMetadata(map[string]any{
			"status": account.Status,
		})
	}

	return account, nil
}
