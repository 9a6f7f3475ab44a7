package auth

import "context"

const (
	MetadataRegistrationType = "registration_type"
	MetadataVisibility       = "visibility"
)

// ClaimsDecorator adds extension metadata to claims before a token is signed.
// Identity claims (sub, jti, iat, exp, roles) are checked after decoration and a
// change to any of them fails the issuance.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, username string, claims *JWTClaims) error
}

type ClaimsDecoratorFunc func(ctx context.Context, username string, claims *JWTClaims) error

func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, username string, claims *JWTClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, username, claims)
}

// ChainClaimsDecorators runs decorators in order and stops at the first error.
func ChainClaimsDecorators(decorators ...ClaimsDecorator) ClaimsDecorator {
	return ClaimsDecoratorFunc(func(ctx context.Context, username string, claims *JWTClaims) error {
		for _, d := range decorators {
			if d == nil {
				continue
			}
			if err := d.Decorate(ctx, username, claims); err != nil {
				return err
			}
		}
		return nil
	})
}

// AccountProfileDecorator stamps the registration type and profile visibility
// of the account into the token metadata. Unknown accounts are left untouched.
func AccountProfileDecorator(accounts Accounts) ClaimsDecorator {
	return ClaimsDecoratorFunc(func(ctx context.Context, username string, claims *JWTClaims) error {
		account, err := accounts.GetByUsername(ctx, username)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}

		if claims.Metadata == nil {
			claims.Metadata = map[string]any{}
		}
		claims.Metadata[MetadataRegistrationType] = string(account.RegistrationType)
		claims.Metadata[MetadataVisibility] = string(account.Visibility)
		return nil
	})
}

type noopClaimsDecorator struct{}

func (noopClaimsDecorator) Decorate(context.Context, string, *JWTClaims) error {
	return nil
}

func normalizeClaimsDecorator(d ClaimsDecorator) ClaimsDecorator {
	if d == nil {
		return noopClaimsDecorator{}
	}
	return d
}
