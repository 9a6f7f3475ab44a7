package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
	"github.com/trailblaze/trailblaze-auth/repository"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "trailblaze-test-signing-key"

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fastPasswords hashes with the minimum bcrypt cost to keep suites quick.
type fastPasswords struct{}

func (fastPasswords) HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(h), err
}

func (fastPasswords) ComparePasswordAndHash(password, hash string) error {
	return auth.ComparePasswordAndHash(password, hash)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// MockActiveTokens lets tests fail the active token registry.
type MockActiveTokens struct {
	mock.Mock
	auth.ActiveTokens
}

func (m *MockActiveTokens) Register(ctx context.Context, entry *auth.ActiveToken) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type fixture struct {
	db       *bun.DB
	repo     auth.RepositoryManager
	clock    *testClock
	sink     *recordingSink
	keys     *auth.HMACKeyProvider
	tokens   auth.TokenService
	sessions *auth.SessionManager
	machine  auth.AccountStateMachine
	auther   *auth.Auther
	accounts *auth.AccountService
	register *auth.RegisterAccountHandler
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, repository.Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	clock := newTestClock()
	sink := &recordingSink{}
	keys := auth.NewRotatingKeyProvider(auth.DefaultKeyID, map[string][]byte{
		auth.DefaultKeyID: []byte(testSigningKey),
	})

	tokens := auth.NewTokenService(keys, repo.ActiveTokens(), repo.Revocations(),
		auth.WithTokenClock(clock.Now),
		auth.WithTokenLogger(nopLogger{}),
	)
	sessions := auth.NewSessionManager(repo,
		auth.WithSessionClock(clock.Now),
		auth.WithSessionLogger(nopLogger{}),
	)

	return &fixture{
		db:       db,
		repo:     repo,
		clock:    clock,
		sink:     sink,
		keys:     keys,
		tokens:   tokens,
		sessions: sessions,
		machine: auth.NewAccountStateMachine(repo, sessions,
			auth.WithStateMachineClock(clock.Now),
			auth.WithStateMachineActivitySink(sink),
			auth.WithStateMachineLogger(nopLogger{}),
		),
		auther: auth.NewAuthenticator(repo, tokens, sessions).
			WithLogger(nopLogger{}).
			WithActivitySink(sink).
			WithPasswordAuthenticator(fastPasswords{}),
		accounts: auth.NewAccountService(repo, tokens, sessions,
			auth.WithAccountServiceLogger(nopLogger{}),
			auth.WithAccountServiceActivitySink(sink),
			auth.WithAccountServiceClock(clock.Now),
		),
		register: auth.NewRegisterAccountHandler(repo).
			WithLogger(nopLogger{}).
			WithActivitySink(sink).
			WithPasswordAuthenticator(fastPasswords{}),
	}
}

// seedAccount stores an account with password "Secret#123" and the given roles.
func (f *fixture) seedAccount(t *testing.T, username string, status auth.AccountStatus, roles ...auth.Role) *auth.Account {
	t.Helper()

	hash, err := fastPasswords{}.HashPassword("Secret#123")
	require.NoError(t, err)

	account, err := f.repo.Accounts().Register(context.Background(), &auth.Account{
		Username:         username,
		Email:            username + "@trailblaze.test",
		PasswordHash:     hash,
		DisplayName:      username,
		Roles:            roles,
		Status:           status,
		Visibility:       auth.VisibilityPrivate,
		RegistrationType: auth.RegistrationInstitutional,
	})
	require.NoError(t, err)
	return account
}

func actor(username string, roles ...auth.Role) auth.Actor {
	return auth.Actor{Username: username, Roles: auth.NewRoleSet(roles...)}
}

// requireCode asserts err carries the text code of sentinel.
func requireCode(t *testing.T, err error, sentinel *goerrors.Error) {
	t.Helper()
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr), "expected a rich error, got %v", err)
	require.Equal(t, sentinel.TextCode, richErr.TextCode, "unexpected error: %v", err)
}
