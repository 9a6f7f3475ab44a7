package repository

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-persistence-bun"
	auth "github.com/trailblaze/trailblaze-auth"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const migrationsRoot = "data/sql/migrations"

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the SQL migrations of the auth core.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// Config is the subset of the process settings the persistence client reads.
type Config interface {
	GetDSN() string
	GetDebug() bool
	GetDriver() string
	GetServer() string
	GetPingTimeout() time.Duration
	GetOtelIdentifier() string
}

// RegisterModels makes the auth tables known to the persistence client.
func RegisterModels() {
	for _, model := range Models() {
		persistence.RegisterModel(model)
	}
}

// NewClient opens the sqlite database described by cfg and returns a
// persistence client with the auth models and migrations registered.
func NewClient(cfg Config, logger auth.Logger) (*persistence.Client, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.GetDSN())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database").
			WithMetadata(map[string]any{"dsn": cfg.GetDSN()})
	}

	RegisterModels()

	client, err := persistence.New(cfg, sqldb, sqlitedialect.New())
	if err != nil {
		_ = sqldb.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create persistence client")
	}

	if logger != nil {
		client.SetLogger(logger)
	}

	migrations, err := fs.Sub(GetMigrationsFS(), migrationsRoot)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load migrations")
	}
	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel(migrationsRoot),
		persistence.WithValidationTargets("sqlite"),
	)

	return client, nil
}

// SetupPersistence builds the persistence client, applies the SQL migrations
// and returns the repository manager on top of it.
func SetupPersistence(ctx context.Context, cfg Config, logger auth.Logger) (auth.RepositoryManager, *persistence.Client, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if err := client.ValidateDialects(ctx); err != nil {
		_ = client.DB().Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid migrations")
	}

	if err := client.Migrate(ctx); err != nil {
		_ = client.DB().Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to migrate database")
	}

	repo := auth.NewRepositoryManager(client.DB())
	if err := repo.Validate(); err != nil {
		_ = client.DB().Close()
		return nil, nil, err
	}

	return repo, client, nil
}
