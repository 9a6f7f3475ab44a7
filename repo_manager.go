package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() Accounts
	ActiveTokens() ActiveTokens
	Revocations() Revocations
	LegacySessions() LegacySessions
}

type mngr struct {
	db             *bun.DB
	accounts       Accounts
	activeTokens   ActiveTokens
	revocations    Revocations
	legacySessions LegacySessions
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:             db,
		accounts:       NewAccountsRepository(db),
		activeTokens:   NewActiveTokensRepository(db),
		revocations:    NewRevocationsRepository(db),
		legacySessions: NewLegacySessionsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.activeTokens == nil {
		return errors.New("repository activeTokens should be initialized")
	}

	if m.revocations == nil {
		return errors.New("repository revocations should be initialized")
	}

	if m.legacySessions == nil {
		return errors.New("repository legacySessions should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) ActiveTokens() ActiveTokens {
	return m.activeTokens
}

func (m mngr) Revocations() Revocations {
	return m.revocations
}

func (m mngr) LegacySessions() LegacySessions {
	return m.legacySessions
}
