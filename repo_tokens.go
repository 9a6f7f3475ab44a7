package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// ActiveTokens is the registry of issued access tokens keyed by jti.
type ActiveTokens interface {
	Register(ctx context.Context, entry *ActiveToken) error
	RegisterTx(ctx context.Context, tx bun.IDB, entry *ActiveToken) error
	Get(ctx context.Context, jti string) (*ActiveToken, bool, error)
	GetTx(ctx context.Context, tx bun.IDB, jti string) (*ActiveToken, bool, error)
	ListByUsername(ctx context.Context, username string) ([]*ActiveToken, error)
	ListByUsernameTx(ctx context.Context, tx bun.IDB, username string) ([]*ActiveToken, error)
	ListUnexpired(ctx context.Context, now time.Time) ([]*ActiveToken, error)
	Delete(ctx context.Context, jti string) error
	DeleteTx(ctx context.Context, tx bun.IDB, jti string) error
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

// Revocations is the registry of token ids invalidated before their expiry.
type Revocations interface {
	Revoke(ctx context.Context, entry *RevokedToken) error
	RevokeTx(ctx context.Context, tx bun.IDB, entry *RevokedToken) error
	Lookup(ctx context.Context, jti string) (*RevokedToken, bool, error)
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

type activeTokens struct {
	db *bun.DB
}

var _ ActiveTokens = (*activeTokens)(nil)

func NewActiveTokensRepository(db *bun.DB) ActiveTokens {
	return &activeTokens{db: db}
}

func (r *activeTokens) Register(ctx context.Context, entry *ActiveToken) error {
	return r.RegisterTx(ctx, r.db, entry)
}

func (r *activeTokens) RegisterTx(ctx context.Context, tx bun.IDB, entry *ActiveToken) error {
	_, err := tx.NewInsert().Model(entry).Exec(ctx)
	return err
}

func (r *activeTokens) Get(ctx context.Context, jti string) (*ActiveToken, bool, error) {
	return r.GetTx(ctx, r.db, jti)
}

func (r *activeTokens) GetTx(ctx context.Context, tx bun.IDB, jti string) (*ActiveToken, bool, error) {
	record := &ActiveToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.jti = ?", jti).
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

func (r *activeTokens) ListByUsername(ctx context.Context, username string) ([]*ActiveToken, error) {
	return r.ListByUsernameTx(ctx, r.db, username)
}

func (r *activeTokens) ListByUsernameTx(ctx context.Context, tx bun.IDB, username string) ([]*ActiveToken, error) {
	records := []*ActiveToken{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.username = ?", username).
		OrderExpr("?TableAlias.issued_at ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return records, nil
}

// ListUnexpired returns every entry whose recorded expiry is after now,
// revoked entries included.
func (r *activeTokens) ListUnexpired(ctx context.Context, now time.Time) ([]*ActiveToken, error) {
	records := []*ActiveToken{}
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.expires_at > ?", now).
		OrderExpr("?TableAlias.username ASC, ?TableAlias.issued_at ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return records, nil
}

func (r *activeTokens) Delete(ctx context.Context, jti string) error {
	return r.DeleteTx(ctx, r.db, jti)
}

func (r *activeTokens) DeleteTx(ctx context.Context, tx bun.IDB, jti string) error {
	_, err := tx.NewDelete().
		Model((*ActiveToken)(nil)).
		Where("jti = ?", jti).
		Exec(ctx)
	return err
}

func (r *activeTokens) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*ActiveToken)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	return rowsAffected(res, err)
}

type revocations struct {
	db *bun.DB
}

var _ Revocations = (*revocations)(nil)

func NewRevocationsRepository(db *bun.DB) Revocations {
	return &revocations{db: db}
}

func (r *revocations) Revoke(ctx context.Context, entry *RevokedToken) error {
	return r.RevokeTx(ctx, r.db, entry)
}

// RevokeTx is idempotent: revoking a jti twice keeps one entry with the latest expiry.
func (r *revocations) RevokeTx(ctx context.Context, tx bun.IDB, entry *RevokedToken) error {
	_, err := tx.NewInsert().
		Model(entry).
		On("CONFLICT (jti) DO UPDATE").
		Set("expires_at = EXCLUDED.expires_at").
		Set("revoked_at = EXCLUDED.revoked_at").
		Exec(ctx)
	return err
}

func (r *revocations) Lookup(ctx context.Context, jti string) (*RevokedToken, bool, error) {
	record := &RevokedToken{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.jti = ?", jti).
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

func (r *revocations) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*RevokedToken)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	return rowsAffected(res, err)
}

func rowsAffected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
