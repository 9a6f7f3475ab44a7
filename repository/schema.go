package repository

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/trailblaze/trailblaze-auth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Models lists every table owned by the auth core.
func Models() []any {
	return []any{
		(*auth.Account)(nil),
		(*auth.ActiveToken)(nil),
		(*auth.RevokedToken)(nil),
		(*auth.LegacySession)(nil),
	}
}

// Open connects to the sqlite database at dsn.
func Open(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database").
			WithMetadata(map[string]any{"dsn": dsn})
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate creates the tables and indexes when missing.
func Migrate(ctx context.Context, db *bun.DB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	if _, err := db.NewCreateIndex().
		Model((*auth.ActiveToken)(nil)).
		Index("active_tokens_username_idx").
		Column("username").
		IfNotExists().
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index")
	}

	return nil
}

// Setup opens the database, migrates it and returns the repository manager.
func Setup(ctx context.Context, dsn string) (auth.RepositoryManager, *bun.DB, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, nil, err
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return repo, db, nil
}
