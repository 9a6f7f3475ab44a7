package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auth "github.com/trailblaze/trailblaze-auth"
)

func TestActivatePendingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "operador", auth.AccountStatusPendingActivation, auth.RoleOperator)

	account, err := f.machine.Activate(ctx, actor("admin", auth.RoleSuperAdmin), "operador")
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusActive, account.Status)

	stored, err := f.repo.Accounts().GetByUsername(ctx, "operador")
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusActive, stored.Status)

	_, err = f.machine.Activate(ctx, actor("admin", auth.RoleSuperAdmin), "operador")
	requireCode(t, err, auth.ErrStateConflict)

	assert.Contains(t, f.sink.Types(), auth.ActivityEventAccountStatusChanged)
}

func TestSuspendAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := actor("gestor", auth.RoleBusinessAdmin)

	f.seedAccount(t, "gestor", auth.AccountStatusActive, auth.RoleBusinessAdmin)
	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	suspended, err := f.machine.Suspend(ctx, admin, "joana", auth.WithTransitionReason("abuse"))
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusSuspended, suspended.Status)
	require.NotNil(t, suspended.SuspendedAt)

	_, err = f.machine.Suspend(ctx, admin, "joana")
	requireCode(t, err, auth.ErrStateConflict)

	_, err = f.auther.Login(ctx, "joana", "Secret#123")
	requireCode(t, err, auth.ErrAccountNotActive)

	reactivated, err := f.machine.Reactivate(ctx, admin, "joana")
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusActive, reactivated.Status)
	assert.Nil(t, reactivated.SuspendedAt)

	_, err = f.machine.Reactivate(ctx, admin, "joana")
	requireCode(t, err, auth.ErrStateConflict)
}

func TestTransitionChecksOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)
	f.seedAccount(t, "gestor", auth.AccountStatusActive, auth.RoleBusinessAdmin)
	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)

	// unknown target before authorization
	_, err := f.machine.Suspend(ctx, actor("joana", auth.RoleRegular), "ghost")
	requireCode(t, err, auth.ErrAccountNotFound)

	// authorization before state
	_, err = f.machine.Activate(ctx, actor("joana", auth.RoleRegular), "gestor")
	requireCode(t, err, auth.ErrForbidden)

	_, err = f.machine.Suspend(ctx, actor("gestor", auth.RoleBusinessAdmin), "admin")
	requireCode(t, err, auth.ErrForbidden)

	_, err = f.machine.Suspend(ctx, actor("other", auth.RoleBusinessAdmin), "gestor")
	requireCode(t, err, auth.ErrForbidden)
}

func TestRequestRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	account, err := f.machine.RequestRemoval(ctx, actor("joana", auth.RoleRegular))
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusPendingRemoval, account.Status)
	require.NotNil(t, account.RemovalRequestedAt)

	_, err = f.machine.RequestRemoval(ctx, actor("joana", auth.RoleRegular))
	requireCode(t, err, auth.ErrStateConflict)

	_, err = f.machine.RequestRemoval(ctx, auth.Actor{})
	requireCode(t, err, auth.ErrUnauthenticated)

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	reactivated, err := f.machine.Reactivate(ctx, actor("admin", auth.RoleSuperAdmin), "joana")
	require.NoError(t, err)
	assert.Nil(t, reactivated.RemovalRequestedAt)
}

func TestRemoveCascadesTokensAndLegacySessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	issued, err := f.auther.Login(ctx, "joana", "Secret#123")
	require.NoError(t, err)

	legacy := auth.NewLegacyAuthenticator(f.repo, auth.WithLegacyClock(f.clock.Now), auth.WithLegacyLogger(nopLogger{}))
	session, err := legacy.Login(ctx, "joana", "Secret#123")
	require.NoError(t, err)

	require.NoError(t, f.machine.Remove(ctx, actor("admin", auth.RoleSuperAdmin), "joana"))

	_, err = f.repo.Accounts().GetByUsername(ctx, "joana")
	requireCode(t, err, auth.ErrAccountNotFound)

	_, err = f.tokens.Validate(ctx, issued.Token)
	assert.True(t, auth.IsTokenRevokedError(err), "got %v", err)

	_, found, err := f.repo.LegacySessions().Get(ctx, session.Token)
	require.NoError(t, err)
	assert.False(t, found)

	assert.Contains(t, f.sink.Types(), auth.ActivityEventAccountRemoved)
}

func TestRemoveWithoutCascadeKeepsTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	machine := auth.NewAccountStateMachine(f.repo, f.sessions,
		auth.WithStateMachineClock(f.clock.Now),
		auth.WithStateMachineLogger(nopLogger{}),
		auth.WithRemovalTokenCascade(false),
	)

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	issued, err := f.auther.Login(ctx, "joana", "Secret#123")
	require.NoError(t, err)

	require.NoError(t, machine.Remove(ctx, actor("admin", auth.RoleSuperAdmin), "joana"))

	_, err = f.tokens.Validate(ctx, issued.Token)
	assert.NoError(t, err)
}

func TestRemoveRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "admin2", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "pendente", auth.AccountStatusPendingActivation, auth.RoleOperator)

	err := f.machine.Remove(ctx, actor("admin", auth.RoleSuperAdmin), "admin2")
	requireCode(t, err, auth.ErrForbidden)

	err = f.machine.Remove(ctx, actor("admin", auth.RoleSuperAdmin), "ghost")
	requireCode(t, err, auth.ErrAccountNotFound)

	// removal applies from any state
	require.NoError(t, f.machine.Remove(ctx, actor("admin", auth.RoleSuperAdmin), "pendente"))
}

func TestToggleVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular, auth.RoleSheetViewer)
	f.seedAccount(t, "operador", auth.AccountStatusActive, auth.RoleOperator)

	account, err := f.machine.ToggleVisibility(ctx, actor("joana", auth.RoleRegular))
	require.NoError(t, err)
	assert.Equal(t, auth.VisibilityPublic, account.Visibility)

	account, err = f.machine.ToggleVisibility(ctx, actor("joana", auth.RoleRegular))
	require.NoError(t, err)
	assert.Equal(t, auth.VisibilityPrivate, account.Visibility)

	_, err = f.machine.ToggleVisibility(ctx, actor("operador", auth.RoleOperator))
	requireCode(t, err, auth.ErrForbidden)
}

func TestTransitionAccountStateDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := actor("admin", auth.RoleSuperAdmin)

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	account, err := f.machine.TransitionAccountState(ctx, admin, "joana", auth.AccountStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusSuspended, account.Status)

	account, err = f.machine.TransitionAccountState(ctx, admin, "joana", auth.AccountStatusActive)
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusActive, account.Status)

	_, err = f.machine.TransitionAccountState(ctx, admin, "joana", auth.AccountStatusPendingRemoval)
	requireCode(t, err, auth.ErrForbidden)

	_, err = f.machine.TransitionAccountState(ctx, admin, "joana", "ARCHIVED")
	require.Error(t, err)
	assert.Equal(t, 400, auth.HTTPStatus(err))

	_, err = f.machine.TransitionAccountState(ctx, admin, "joana", auth.AccountStatusRemoved)
	require.NoError(t, err)
}

func TestTransitionHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
	f.seedAccount(t, "joana", auth.AccountStatusActive, auth.RoleRegular)

	var seen []auth.TransitionContext
	_, err := f.machine.Suspend(ctx, actor("admin", auth.RoleSuperAdmin), "joana",
		auth.WithAfterTransitionHook(func(_ context.Context, tc auth.TransitionContext) error {
			seen = append(seen, tc)
			return nil
		}),
	)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, auth.AccountStatusActive, seen[0].From)
	assert.Equal(t, auth.AccountStatusSuspended, seen[0].To)
	assert.Equal(t, "admin", seen[0].Actor.ID)

	_, err = f.machine.Reactivate(ctx, actor("admin", auth.RoleSuperAdmin), "joana",
		auth.WithBeforeTransitionHook(func(context.Context, auth.TransitionContext) error {
			return errors.New("veto")
		}),
	)
	require.Error(t, err)

	stored, err := f.repo.Accounts().GetByUsername(ctx, "joana")
	require.NoError(t, err)
	assert.Equal(t, auth.AccountStatusSuspended, stored.Status, "a failing before hook leaves the state untouched")
}

// barrierHook blocks every caller until n transitions have passed their state
// check, so all of them race on the same stored status.
func barrierHook(n int) auth.TransitionHook {
	var wg sync.WaitGroup
	wg.Add(n)
	return func(context.Context, auth.TransitionContext) error {
		wg.Done()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("transition barrier timed out")
		}
	}
}

func TestConcurrentTransitionsHaveSingleWinner(t *testing.T) {
	const workers = 2

	cases := []struct {
		name   string
		status auth.AccountStatus
		run    func(f *fixture, hook auth.TransitionHook) (*auth.Account, error)
	}{
		{
			name:   "activate",
			status: auth.AccountStatusPendingActivation,
			run: func(f *fixture, hook auth.TransitionHook) (*auth.Account, error) {
				return f.machine.Activate(context.Background(), actor("admin", auth.RoleSuperAdmin), "alvo",
					auth.WithBeforeTransitionHook(hook))
			},
		},
		{
			name:   "suspend",
			status: auth.AccountStatusActive,
			run: func(f *fixture, hook auth.TransitionHook) (*auth.Account, error) {
				return f.machine.Suspend(context.Background(), actor("admin", auth.RoleSuperAdmin), "alvo",
					auth.WithBeforeTransitionHook(hook))
			},
		},
		{
			name:   "request removal",
			status: auth.AccountStatusActive,
			run: func(f *fixture, hook auth.TransitionHook) (*auth.Account, error) {
				return f.machine.RequestRemoval(context.Background(), actor("alvo", auth.RoleRegular),
					auth.WithBeforeTransitionHook(hook))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedAccount(t, "admin", auth.AccountStatusActive, auth.RoleSuperAdmin)
			f.seedAccount(t, "alvo", tc.status, auth.RoleRegular)

			hook := barrierHook(workers)
			errs := make([]error, workers)

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = tc.run(f, hook)
				}(i)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				requireCode(t, err, auth.ErrStateConflict)
			}
			assert.Equal(t, 1, succeeded)

			changes := 0
			for _, typ := range f.sink.Types() {
				if typ == auth.ActivityEventAccountStatusChanged {
					changes++
				}
			}
			assert.Equal(t, 1, changes)
		})
	}
}
