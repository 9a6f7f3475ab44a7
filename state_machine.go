package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// AccountStatusRemoved is only a requested state: removed accounts are deleted.
const AccountStatusRemoved AccountStatus = "REMOVED"

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    AccountStatus
	To      AccountStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// AccountStateMachine governs account lifecycle transitions. Every operation
// loads the target, checks the caller against the role hierarchy and then
// checks the current state, in that order.
type AccountStateMachine interface {
	Activate(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error)
	Reactivate(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error)
	Suspend(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error)
	RequestRemoval(ctx context.Context, caller Actor, opts ...TransitionOption) (*Account, error)
	Remove(ctx context.Context, caller Actor, target string, opts ...TransitionOption) error
	ToggleVisibility(ctx context.Context, caller Actor) (*Account, error)
	TransitionAccountState(ctx context.Context, caller Actor, target string, requested AccountStatus, opts ...TransitionOption) (*Account, error)
	CurrentStatus(account *Account) AccountStatus
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *accountStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithRemovalTokenCascade controls whether removing an account also revokes
// its outstanding tokens. Enabled by default.
func WithRemovalTokenCascade(enabled bool) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.revokeOnRemoval = enabled
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

type transitionRule struct {
	action RoleAction
	to     AccountStatus
	from   map[AccountStatus]struct{}
}

func (r transitionRule) allowed() []AccountStatus {
	out := make([]AccountStatus, 0, len(r.from))
	for s := range r.from {
		out = append(out, s)
	}
	return out
}

func statuses(list ...AccountStatus) map[AccountStatus]struct{} {
	out := make(map[AccountStatus]struct{}, len(list))
	for _, s := range list {
		out[s] = struct{}{}
	}
	return out
}

// NewAccountStateMachine returns the default implementation backed by the repositories.
func NewAccountStateMachine(repo RepositoryManager, sessions *SessionManager, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		repo:     repo,
		sessions: sessions,
		rules: map[RoleAction]transitionRule{
			ActionActivate: {
				action: ActionActivate,
				to:     AccountStatusActive,
				from:   statuses(AccountStatusPendingActivation),
			},
			ActionReactivate: {
				action: ActionReactivate,
				to:     AccountStatusActive,
				from:   statuses(AccountStatusSuspended, AccountStatusPendingRemoval),
			},
			ActionSuspend: {
				action: ActionSuspend,
				to:     AccountStatusSuspended,
				from:   statuses(AccountStatusPendingActivation, AccountStatusActive, AccountStatusPendingRemoval),
			},
		},
		revokeOnRemoval: true,
		now:             time.Now,
		activitySink:    noopActivitySink{},
		logger:          defLogger{},
		hookErrorHandler: func(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "account transition hook failed").
				WithMetadata(map[string]any{
					"phase": phase,
					"from":  tc.From,
					"to":    tc.To,
				})
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	repo             RepositoryManager
	sessions         *SessionManager
	rules            map[RoleAction]transitionRule
	revokeOnRemoval  bool
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *accountStateMachine) Activate(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error) {
	return sm.adminTransition(ctx, caller, target, sm.rules[ActionActivate], opts...)
}

func (sm *accountStateMachine) Reactivate(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error) {
	return sm.adminTransition(ctx, caller, target, sm.rules[ActionReactivate], opts...)
}

func (sm *accountStateMachine) Suspend(ctx context.Context, caller Actor, target string, opts ...TransitionOption) (*Account, error) {
	return sm.adminTransition(ctx, caller, target, sm.rules[ActionSuspend], opts...)
}

// RequestRemoval marks the caller's own account for removal.
func (sm *accountStateMachine) RequestRemoval(ctx context.Context, caller Actor, opts ...TransitionOption) (*Account, error) {
	if caller.Username == "" {
		return nil, ErrUnauthenticated.Clone()
	}

	account, err := sm.repo.Accounts().GetByUsername(ctx, caller.Username)
	if err != nil {
		return nil, err
	}

	if account.Status == AccountStatusPendingRemoval {
		return nil, conflict(account, AccountStatusPendingRemoval)
	}

	from := []AccountStatus{AccountStatusPendingActivation, AccountStatusActive, AccountStatusSuspended}
	return sm.apply(ctx, caller, account, from, AccountStatusPendingRemoval, opts...)
}

// Remove deletes the target account from any state. Legacy sessions are
// deleted with it and, unless disabled, every outstanding token is revoked.
func (sm *accountStateMachine) Remove(ctx context.Context, caller Actor, target string, opts ...TransitionOption) error {
	account, err := sm.repo.Accounts().GetByUsername(ctx, target)
	if err != nil {
		return err
	}

	if !CanManage(caller.Roles, account.RoleSet(), ActionRemove) {
		return forbidden(caller, account, ActionRemove)
	}

	options := buildTransitionOptions(opts...)
	tc := TransitionContext{
		Actor:   caller.Ref(),
		Account: account,
		From:    account.Status,
		To:      AccountStatusRemoved,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return err
	}

	revoked := 0
	err = sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := sm.repo.LegacySessions().DeleteByUsernameTx(ctx, tx, account.Username); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete legacy sessions")
		}

		if sm.revokeOnRemoval && sm.sessions != nil {
			n, err := sm.sessions.RevokeAllTx(ctx, tx, account.Username)
			if err != nil {
				return err
			}
			revoked = n
		}

		return sm.repo.Accounts().DeleteByUsernameTx(ctx, tx, account.Username)
	})
	if err != nil {
		return err
	}

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return err
	}

	meta := sm.transitionMetadata(tc.Meta)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["revoked_tokens"] = revoked

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventAccountRemoved,
		Actor:      tc.Actor,
		Username:   account.Username,
		FromStatus: tc.From,
		ToStatus:   AccountStatusRemoved,
		Metadata:   meta,
	})

	return nil
}

// ToggleVisibility flips the caller's profile between public and private.
// Only accounts holding the civic role may do so.
func (sm *accountStateMachine) ToggleVisibility(ctx context.Context, caller Actor) (*Account, error) {
	if caller.Username == "" {
		return nil, ErrUnauthenticated.Clone()
	}

	if !caller.Roles.Has(RoleRegular) {
		return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
			"username": caller.Username,
			"reason":   "visibility can only be changed by regular accounts",
		})
	}

	var updated *Account
	err := sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := sm.repo.Accounts().GetByUsernameTx(ctx, tx, caller.Username)
		if err != nil {
			return err
		}
		updated, err = sm.repo.Accounts().UpdateVisibilityTx(ctx, tx, account.Username, account.Visibility.Toggle())
		return err
	})
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventVisibilityChanged,
		Actor:      caller.Ref(),
		Username:   updated.Username,
		FromStatus: updated.Status,
		ToStatus:   updated.Status,
		Metadata:   map[string]any{"visibility": updated.Visibility},
	})

	return updated, nil
}

// TransitionAccountState dispatches a requested state to the matching operation.
func (sm *accountStateMachine) TransitionAccountState(ctx context.Context, caller Actor, target string, requested AccountStatus, opts ...TransitionOption) (*Account, error) {
	switch requested {
	case AccountStatusActive:
		account, err := sm.repo.Accounts().GetByUsername(ctx, target)
		if err != nil {
			return nil, err
		}
		if _, ok := sm.rules[ActionReactivate].from[account.Status]; ok {
			return sm.Reactivate(ctx, caller, target, opts...)
		}
		return sm.Activate(ctx, caller, target, opts...)
	case AccountStatusSuspended:
		return sm.Suspend(ctx, caller, target, opts...)
	case AccountStatusPendingRemoval:
		if !caller.IsOwner(target) {
			if _, err := sm.repo.Accounts().GetByUsername(ctx, target); err != nil {
				return nil, err
			}
			return nil, ErrForbidden.Clone().WithMetadata(map[string]any{
				"reason": "only the account owner can request removal",
			})
		}
		return sm.RequestRemoval(ctx, caller, opts...)
	case AccountStatusRemoved:
		return nil, sm.Remove(ctx, caller, target, opts...)
	default:
		return nil, goerrors.New("unknown account state", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"requested": requested})
	}
}

func (sm *accountStateMachine) CurrentStatus(account *Account) AccountStatus {
	if account == nil {
		return ""
	}
	account.EnsureStatus()
	return account.Status
}

func (sm *accountStateMachine) adminTransition(ctx context.Context, caller Actor, target string, rule transitionRule, opts ...TransitionOption) (*Account, error) {
	account, err := sm.repo.Accounts().GetByUsername(ctx, target)
	if err != nil {
		return nil, err
	}

	if !CanManage(caller.Roles, account.RoleSet(), rule.action) {
		return nil, forbidden(caller, account, rule.action)
	}

	if _, ok := rule.from[account.Status]; !ok {
		return nil, conflict(account, rule.to)
	}

	return sm.apply(ctx, caller, account, rule.allowed(), rule.to, opts...)
}

// apply runs the hooks around a status update that only lands while the row is
// still in one of allowed. Concurrent transitions racing past the in-memory
// check resolve to a single winner and ErrStateConflict for the rest.
func (sm *accountStateMachine) apply(ctx context.Context, caller Actor, account *Account, allowed []AccountStatus, target AccountStatus, opts ...TransitionOption) (*Account, error) {
	options := buildTransitionOptions(opts...)
	from := account.Status

	tc := TransitionContext{
		Actor:   caller.Ref(),
		Account: account,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	updated, err := sm.repo.Accounts().UpdateStatusFrom(ctx, account.Username, allowed, target, sm.buildStatusOptions(account, from, target)...)
	if err != nil {
		return nil, err
	}

	tc.Account = updated
	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventAccountStatusChanged,
		Actor:      tc.Actor,
		Username:   updated.Username,
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(tc.Meta),
	})

	return updated, nil
}

func (sm *accountStateMachine) buildStatusOptions(account *Account, from, to AccountStatus) []StatusUpdateOption {
	now := sm.now()
	opts := []StatusUpdateOption{}

	switch to {
	case AccountStatusSuspended:
		opts = append(opts, WithSuspendedAt(&now))
	case AccountStatusPendingRemoval:
		opts = append(opts, WithRemovalRequestedAt(&now))
	case AccountStatusActive:
		if account.SuspendedAt != nil {
			opts = append(opts, WithSuspendedAt(nil))
		}
		if account.RemovalRequestedAt != nil {
			opts = append(opts, WithRemovalRequestedAt(nil))
		}
	}

	return opts
}

func (sm *accountStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *accountStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

func buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func forbidden(caller Actor, target *Account, action RoleAction) error {
	return ErrForbidden.Clone().WithMetadata(map[string]any{
		"caller": caller.Username,
		"target": target.Username,
		"action": action,
	})
}

func conflict(account *Account, requested AccountStatus) error {
	return ErrStateConflict.Clone().WithMetadata(map[string]any{
		"username":  account.Username,
		"current":   account.Status,
		"requested": requested,
	})
}
