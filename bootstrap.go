package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RootUsername = "root"
	RootEmail    = "root@trailblaze.pt"
)

// RootAccountOptions configures the bootstrap administrator.
type RootAccountOptions struct {
	Username string
	Email    string
	Password string
	Logger   Logger
}

// EnsureRootAccount creates the super-admin account when it does not exist.
// Without a password the account gets an unusable random hash. It reports
// whether an account was created.
func EnsureRootAccount(ctx context.Context, accounts Accounts, opts RootAccountOptions) (bool, error) {
	if opts.Username == "" {
		opts.Username = RootUsername
	}
	if opts.Email == "" {
		opts.Email = RootEmail
	}
	if opts.Logger == nil {
		opts.Logger = defLogger{}
	}

	if _, err := accounts.GetByUsername(ctx, opts.Username); err == nil {
		opts.Logger.Debug("root account %s already exists", opts.Username)
		return false, nil
	} else if !goerrors.IsNotFound(err) {
		return false, err
	}

	hash := ""
	if opts.Password == "" {
		opts.Logger.Warn("no root password configured, %s cannot log in", opts.Username)
		hash = RandomPasswordHash()
	} else {
		h, err := HashPassword(opts.Password)
		if err != nil {
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash root password")
		}
		hash = h
	}

	_, err := accounts.Register(ctx, &Account{
		Username:         opts.Username,
		Email:            opts.Email,
		PasswordHash:     hash,
		DisplayName:      "Root Administrator",
		Roles:            []string{RoleSuperAdmin, RoleSheetViewer, RoleDetailViewer},
		Status:           AccountStatusActive,
		Visibility:       VisibilityPrivate,
		RegistrationType: RegistrationInstitutional,
	})
	if err != nil {
		return false, err
	}

	opts.Logger.Info("root account %s created", opts.Username)
	return true, nil
}
