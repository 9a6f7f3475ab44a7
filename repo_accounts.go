package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the credential store.
type Accounts interface {
	repository.Repository[*Account]

	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error)
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)

	UpdateStatus(ctx context.Context, username string, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, username string, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateStatusFrom(ctx context.Context, username string, from []AccountStatus, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateStatusFromTx(ctx context.Context, tx bun.IDB, username string, from []AccountStatus, status AccountStatus, opts ...StatusUpdateOption) (*Account, error)
	UpdateVisibilityTx(ctx context.Context, tx bun.IDB, username string, visibility Visibility) (*Account, error)
	UpdateProfile(ctx context.Context, account *Account) (*Account, error)
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	DeleteByUsernameTx(ctx context.Context, tx bun.IDB, username string) error

	ListFiltered(ctx context.Context, filter AccountFilter) ([]*Account, error)
}

// AccountFilter narrows ListFiltered results. Empty fields match everything. Role
// matches the resolved role set, legacy single roles included.
type AccountFilter struct {
	Status     AccountStatus
	Visibility Visibility
	Role       Role
}

// StatusUpdateOption allows callers to mutate the account before persisting status changes.
type StatusUpdateOption func(*Account)

// WithSuspendedAt sets the SuspendedAt timestamp during a status transition.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(a *Account) {
		a.SuspendedAt = at
	}
}

// WithRemovalRequestedAt sets the RemovalRequestedAt timestamp during a status transition.
func WithRemovalRequestedAt(at *time.Time) StatusUpdateOption {
	return func(a *Account) {
		a.RemovalRequestedAt = at
	}
}

type accounts struct {
	repository.Repository[*Account]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (r *accounts) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.GetByUsernameTx(ctx, r.db, username)
}

func (r *accounts) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*Account, error) {
	return r.findOne(ctx, tx, "username", normalizeUsername(username))
}

// FindByIdentifier resolves a login identifier, trying the username first and
// the email second.
func (r *accounts) FindByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrAccountNotFound.Clone()
	}

	account, err := r.findOne(ctx, r.db, "username", identifier)
	if err == nil {
		return account, nil
	}
	if !goerrors.IsNotFound(err) {
		return nil, err
	}

	if !strings.Contains(identifier, "@") {
		return nil, err
	}

	return r.findOne(ctx, r.db, "email", normalizeEmail(identifier))
}

func (r *accounts) Register(ctx context.Context, account *Account) (*Account, error) {
	return r.RegisterTx(ctx, r.db, account)
}

// RegisterTx inserts a new account. Duplicate usernames or emails fail with ErrConflict.
func (r *accounts) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if err := prepareAccountDefaults(account); err != nil {
		return nil, err
	}

	exists, err := tx.NewSelect().
		Model((*Account)(nil)).
		Where("username = ?", account.Username).
		WhereOr("email = ?", account.Email).
		Exists(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check account uniqueness")
	}
	if exists {
		return nil, ErrConflict.Clone().WithMetadata(map[string]any{
			"username": account.Username,
		})
	}

	return r.Repository.CreateTx(ctx, tx, account)
}

func (r *accounts) UpdateStatus(ctx context.Context, username string, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	return r.UpdateStatusTx(ctx, r.db, username, status, opts...)
}

func (r *accounts) UpdateStatusTx(ctx context.Context, tx bun.IDB, username string, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	return r.UpdateStatusFromTx(ctx, tx, username, nil, status, opts...)
}

func (r *accounts) UpdateStatusFrom(ctx context.Context, username string, from []AccountStatus, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	return r.UpdateStatusFromTx(ctx, r.db, username, from, status, opts...)
}

// UpdateStatusFromTx persists a status change only while the stored status is
// one of from. A row that moved out of that set in the meantime fails with
// ErrStateConflict and is left untouched. An empty from set updates
// unconditionally.
func (r *accounts) UpdateStatusFromTx(ctx context.Context, tx bun.IDB, username string, from []AccountStatus, status AccountStatus, opts ...StatusUpdateOption) (*Account, error) {
	account, err := r.GetByUsernameTx(ctx, tx, username)
	if err != nil {
		return nil, err
	}
	current := account.Status

	account.Status = status
	for _, opt := range opts {
		if opt != nil {
			opt(account)
		}
	}
	now := r.now()
	account.UpdatedAt = &now

	q := tx.NewUpdate().
		Model(account).
		Column("status", "suspended_at", "removal_requested_at", "updated_at").
		WherePK()
	if len(from) > 0 {
		q = q.Where("?TableAlias.status IN (?)", bun.In(from))
	}

	n, err := rowsAffected(q.Exec(ctx))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account status")
	}
	if n == 0 && len(from) > 0 {
		return nil, ErrStateConflict.Clone().WithMetadata(map[string]any{
			"username":  account.Username,
			"current":   current,
			"requested": status,
		})
	}

	return account, nil
}

func (r *accounts) UpdateVisibilityTx(ctx context.Context, tx bun.IDB, username string, visibility Visibility) (*Account, error) {
	account, err := r.GetByUsernameTx(ctx, tx, username)
	if err != nil {
		return nil, err
	}

	account.Visibility = visibility
	now := r.now()
	account.UpdatedAt = &now

	_, err = tx.NewUpdate().
		Model(account).
		Column("visibility", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account visibility")
	}

	return account, nil
}

// UpdateProfile stores the editable profile columns of account.
func (r *accounts) UpdateProfile(ctx context.Context, account *Account) (*Account, error) {
	if account == nil {
		return nil, goerrors.New("account is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	now := r.now()
	account.UpdatedAt = &now

	res, err := r.db.NewUpdate().
		Model(account).
		Column(
			"display_name", "address", "phone", "nationality", "residence_country",
			"tax_id", "national_id", "visibility", "updated_at",
		).
		WherePK().
		Exec(ctx)
	n, err := rowsAffected(res, err)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account profile")
	}
	if n == 0 {
		return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{
			"username": account.Username,
		})
	}

	return account, nil
}

func (r *accounts) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	_, err := r.db.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", r.now()).
		Where("username = ?", normalizeUsername(username)).
		Exec(ctx)
	return err
}

func (r *accounts) DeleteByUsernameTx(ctx context.Context, tx bun.IDB, username string) error {
	res, err := tx.NewDelete().
		Model((*Account)(nil)).
		Where("username = ?", normalizeUsername(username)).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete account")
	}
	if n == 0 {
		return ErrAccountNotFound.Clone().WithMetadata(map[string]any{
			"username": username,
		})
	}
	return nil
}

func (r *accounts) ListFiltered(ctx context.Context, filter AccountFilter) ([]*Account, error) {
	records := []*Account{}
	q := r.db.NewSelect().Model(&records)
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	if filter.Visibility != "" {
		q = q.Where("?TableAlias.visibility = ?", filter.Visibility)
	}

	if err := q.OrderExpr("?TableAlias.username ASC").Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list accounts")
	}

	if filter.Role == "" {
		return records, nil
	}

	// roles are stored serialized, so role membership is checked here
	out := records[:0]
	for _, record := range records {
		if record.RoleSet().Has(filter.Role) {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *accounts) findOne(ctx context.Context, tx bun.IDB, column, value string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound.Clone().WithMetadata(map[string]any{
				column: value,
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	return record, nil
}

func prepareAccountDefaults(account *Account) error {
	if account == nil {
		return goerrors.New("account is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	account.Username = normalizeUsername(account.Username)
	account.Email = normalizeEmail(account.Email)
	account.Roles = NewRoleSet(account.Roles...).Strings()
	if len(account.Roles) > 0 {
		account.LegacyRole = ""
	}
	account.EnsureStatus()

	if account.ID == uuid.Nil {
		id, err := hashid.NewUUID(account.Username)
		if err != nil {
			id = uuid.New()
		}
		account.ID = id
	}

	return nil
}
